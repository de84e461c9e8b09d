package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	m := NewJWTManager(testSecret, time.Hour)
	token, err := m.GenerateAccessToken(OperatorClaims{Operator: "alice", Role: RoleOperator})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Operator != "alice" || !claims.CanOperate() {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestValidateRejects(t *testing.T) {
	m := NewJWTManager(testSecret, time.Hour)
	other := NewJWTManager("ffffffffffffffffffffffffffffffff", time.Hour)
	expired := NewJWTManager(testSecret, -time.Minute)

	foreign, _ := other.GenerateAccessToken(OperatorClaims{Operator: "bob", Role: RoleViewer})
	old, _ := expired.GenerateAccessToken(OperatorClaims{Operator: "bob", Role: RoleViewer})

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not-a-token", ErrInvalidToken},
		{"wrong secret", foreign, ErrInvalidToken},
		{"expired", old, ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.ValidateAccessToken(tt.token); err != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := m.GenerateAccessToken(OperatorClaims{Operator: "x", Role: "root"}); err != ErrInvalidRole {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewJWTManager(testSecret, time.Hour)
	viewer, _ := m.GenerateAccessToken(OperatorClaims{Operator: "v", Role: RoleViewer})
	operator, _ := m.GenerateAccessToken(OperatorClaims{Operator: "o", Role: RoleOperator})

	r := gin.New()
	r.POST("/control", Middleware(m), RequireOperator(), func(c *gin.Context) {
		c.String(http.StatusOK, GetOperator(c))
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"bad format", "Token abc", http.StatusUnauthorized},
		{"viewer", "Bearer " + viewer, http.StatusForbidden},
		{"operator", "Bearer " + operator, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/control", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestAccounts(t *testing.T) {
	hash, err := HashPassword("correct horse", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	accounts, err := ParseAccounts("alice:operator:" + hash + ", bob:viewer:" + hash)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 {
		t.Fatalf("Expected 2 accounts, got %d", len(accounts))
	}

	claims, err := accounts.Authenticate("alice", "correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if claims.Operator != "alice" || !claims.CanOperate() {
		t.Errorf("unexpected claims %+v", claims)
	}
	if claims, _ := accounts.Authenticate("bob", "correct horse"); claims.CanOperate() {
		t.Error("viewer must not operate")
	}

	for _, tc := range [][2]string{{"alice", "wrong"}, {"carol", "correct horse"}} {
		if _, err := accounts.Authenticate(tc[0], tc[1]); err != ErrInvalidCredentials {
			t.Errorf("%s: expected ErrInvalidCredentials, got %v", tc[0], err)
		}
	}
}

func TestParseAccountsRejects(t *testing.T) {
	hash, _ := HashPassword("correct horse", bcrypt.MinCost)
	tests := []struct {
		name  string
		input string
	}{
		{"missing hash", "alice:operator"},
		{"bad role", "alice:root:" + hash},
		{"not bcrypt", "alice:operator:plaintext"},
		{"duplicate", "alice:operator:" + hash + ",alice:viewer:" + hash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAccounts(tt.input); err == nil {
				t.Error("Expected error")
			}
		})
	}

	if _, err := HashPassword("short", bcrypt.MinCost); err == nil {
		t.Error("Expected short password to be rejected")
	}
}
