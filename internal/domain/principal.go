package domain

// AdminLevel minimum member level with moderation rights
const AdminLevel = 10

// Principal the authenticated caller of a coordinator operation
type Principal struct {
	UserID string
	Level  int
}

// IsAdmin reports whether the principal may use moderation transitions
func (p Principal) IsAdmin() bool {
	return p.Level >= AdminLevel
}
