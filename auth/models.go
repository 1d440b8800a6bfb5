package auth

import "barterflow/deal"

type Role string

const (
	// RoleMSME is a brand owner offering products.
	RoleMSME    Role = "MSME"
	RoleCreator Role = "CREATOR"
	// RoleArbiter settles disputes and may read any deal.
	RoleArbiter Role = "ARBITER"
)

// Identity is what a verified token says about its bearer.
type Identity struct {
	UserID string
	Role   Role
}

// Actor converts the identity into the caller passed to deal operations.
func (i Identity) Actor() deal.Actor {
	return deal.Actor{UserID: i.UserID, CanArbitrate: i.Role == RoleArbiter}
}

func isValidRole(role Role) bool {
	switch role {
	case RoleMSME, RoleCreator, RoleArbiter:
		return true
	default:
		return false
	}
}
