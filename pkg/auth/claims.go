package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role distinguishes shoppers from back-office operators.
type Role string

const (
	RoleShopper  Role = "shopper"
	RoleOperator Role = "operator"
)

// IsValid reports whether the role is known.
func (r Role) IsValid() bool {
	return r == RoleShopper || r == RoleOperator
}

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   Role
	JTI    string
}

// AccessTokenClaims represents the typed JWT presented by callers.
type AccessTokenClaims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
	jwt.RegisteredClaims
}
