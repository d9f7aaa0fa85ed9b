package middleware

import (
	"context"

	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

type contextKey string

const (
	ctxEmployeeID contextKey = "employee_id"
	ctxRole       contextKey = "actor_role"
	ctxRequestID  contextKey = "request_id"
)

// EmployeeIDFromContext returns the authenticated employee, or 0.
func EmployeeIDFromContext(ctx context.Context) uint64 {
	if ctx == nil {
		return 0
	}
	if v, ok := ctx.Value(ctxEmployeeID).(uint64); ok {
		return v
	}
	return 0
}

func RoleFromContext(ctx context.Context) enums.EmployeeRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.EmployeeRole); ok {
		return v
	}
	return ""
}

// WithEmployee injects the authenticated employee into the context.
func WithEmployee(ctx context.Context, employeeID uint64, role enums.EmployeeRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxEmployeeID, employeeID)
	return context.WithValue(ctx, ctxRole, role)
}
