package auth

// Callbacks customize what ends up in the token and in the session object.
//
// JWT runs when a token is issued; user is the record that just signed in.
// Session runs every time a token is turned into a ClientSession.
type Callbacks struct {
	JWT     func(claims Claims, user *User) Claims
	Session func(session ClientSession, claims Claims) ClientSession
}

func DefaultCallbacks() Callbacks {
	return Callbacks{
		JWT: func(claims Claims, user *User) Claims {
			if user != nil {
				claims.Role = user.Role
			}
			return claims
		},
		Session: func(session ClientSession, claims Claims) ClientSession {
			session.User.Role = claims.Role
			return session
		},
	}
}

func (c Callbacks) withDefaults() Callbacks {
	d := DefaultCallbacks()
	if c.JWT == nil {
		c.JWT = d.JWT
	}
	if c.Session == nil {
		c.Session = d.Session
	}
	return c
}
