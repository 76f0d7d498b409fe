package mailprefs

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims identify a preferences row. The tokens never expire; rotating
// the signing salt revokes all of them at once.
type tokenClaims struct {
	PID int64 `json:"pid"`
	jwt.RegisteredClaims
}

var errBadToken = errors.New("invalid preferences token")

// signToken returns an HS256 token for the preferences id.
func signToken(salt []byte, id int64) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{PID: id})
	return token.SignedString(salt)
}

// parseToken verifies a token and returns the preferences id it names.
func parseToken(salt []byte, raw string) (int64, error) {
	t, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(*jwt.Token) (any, error) {
		return salt, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errBadToken, err)
	}
	claims, ok := t.Claims.(*tokenClaims)
	if !ok || !t.Valid || claims.PID <= 0 {
		return 0, errBadToken
	}
	return claims.PID, nil
}
