package enums

import "fmt"

// EmployeeRole represents back-office permissions.
type EmployeeRole string

const (
	EmployeeRoleCashier    EmployeeRole = "cashier"
	EmployeeRoleSupervisor EmployeeRole = "supervisor"
	EmployeeRoleManager    EmployeeRole = "manager"
	EmployeeRoleAdmin      EmployeeRole = "admin"
)

var validEmployeeRoles = []EmployeeRole{
	EmployeeRoleCashier,
	EmployeeRoleSupervisor,
	EmployeeRoleManager,
	EmployeeRoleAdmin,
}

// String implements fmt.Stringer.
func (r EmployeeRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known EmployeeRole.
func (r EmployeeRole) IsValid() bool {
	for _, candidate := range validEmployeeRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanApproveRefunds reports whether the role may issue refunds above the
// approval threshold.
func (r EmployeeRole) CanApproveRefunds() bool {
	return r == EmployeeRoleManager || r == EmployeeRoleAdmin
}

// ParseEmployeeRole converts raw input into an EmployeeRole.
func ParseEmployeeRole(value string) (EmployeeRole, error) {
	for _, candidate := range validEmployeeRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid employee role %q", value)
}
