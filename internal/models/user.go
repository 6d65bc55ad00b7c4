package models

// Role is the user type carried in auth tokens
type Role string

const (
	RoleCustomer Role = "customer"
	RoleDelivery Role = "delivery"
	RoleBoth     Role = "both"
	RoleAdmin    Role = "admin"
)

// CanDeliver reports whether the role may act as a driver
func (r Role) CanDeliver() bool {
	switch r {
	case RoleDelivery, RoleBoth, RoleAdmin:
		return true
	default:
		return false
	}
}
