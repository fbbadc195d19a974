package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims — claims токена оператора, выпущенного IdP портала.
// Консоль токены не выпускает, только проверяет подпись RS256.
type OperatorClaims struct {
	UserID   string          `json:"user_id"`
	Username string          `json:"username"`
	Scopes   map[string]bool `json:"scopes"`
	jwt.RegisteredClaims
}

// Identity — строка, которой подписываются команды и сеансы (created_by / started_by).
func (c *OperatorClaims) Identity() string {
	if c.Username != "" {
		return c.Username
	}
	return c.UserID
}
