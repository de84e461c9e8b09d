package auth

// Roles an operator token can carry
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// OperatorClaims identifies who is calling the control endpoints
type OperatorClaims struct {
	Operator string `json:"operator"`
	Role     string `json:"role"`
}

// CanOperate reports whether the claims allow state-changing calls
func (c OperatorClaims) CanOperate() bool {
	return c.Role == RoleOperator
}

// ValidRole reports whether role is known
func ValidRole(role string) bool {
	return role == RoleViewer || role == RoleOperator
}

// TokenResponse is what cmd/operator-token prints
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// AuthError represents an authentication error
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common auth errors
var (
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden    = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
	ErrInvalidRole  = AuthError{Code: "INVALID_ROLE", Message: "unknown role"}
)
