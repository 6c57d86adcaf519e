package domain

// Role is the authenticated role carried in the bearer credential.
type Role string

const (
	RoleClient Role = "CLIENT"
	RoleLawyer Role = "LAWYER"
	RoleAdmin  Role = "ADMIN"
)

// Actor is the authenticated caller of an operation, from either entry point.
type Actor struct {
	UserID string
	Name   string
	Role   Role
}
