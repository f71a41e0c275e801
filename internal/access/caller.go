package access

// Caller is the identity a request is evaluated for, as supplied by the
// identity layer. The zero value is the anonymous caller.
type Caller struct {
	UserID    string
	Email     string
	Confirmed bool
	Admin     bool
}

func Anonymous() Caller {
	return Caller{}
}

func (c Caller) IsAnonymous() bool {
	return c.UserID == ""
}
