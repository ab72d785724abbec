package roles

// Role constants. Only two levels exist: administrators see and control every
// device, standard users only the devices they own.
const (
	User  = "user"
	Admin = "admin"
)

var roleHierarchy = map[string]int{
	User:  1,
	Admin: 2,
}

// ValidRoles returns a slice of all valid roles
func ValidRoles() []string {
	return []string{User, Admin}
}

// IsValidRole checks if a role is valid
func IsValidRole(role string) bool {
	_, exists := roleHierarchy[role]
	return exists
}

// Normalize returns the role to store for a requested role, defaulting to User.
func Normalize(role string) string {
	if role == "" {
		return User
	}
	return role
}

// HasPermission checks if a role has at least the required permission level
func HasPermission(userRole, requiredRole string) bool {
	userLevel, ok := roleHierarchy[userRole]
	if !ok {
		return false
	}
	requiredLevel, ok := roleHierarchy[requiredRole]
	if !ok {
		return false
	}
	return userLevel >= requiredLevel
}
