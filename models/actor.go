package models

// Actor is the identity on whose behalf an operation runs. It is passed
// explicitly into every engine call that checks permissions.
type Actor struct {
	UserID int64
	Role   Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// CanAccess reports whether the actor may act on a record owned by ownerID.
func (a Actor) CanAccess(ownerID int64) bool {
	return a.IsAdmin() || a.UserID == ownerID
}
