package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned when a token cannot be read as a JWT.
var ErrNotJWT = errors.New("token is not a readable JWT")

// Claims is the identity embedded in a console access token.
type Claims struct {
	UserID     string
	Email      string
	FirstName  string
	LastName   string
	LoggedInAs string
	ExpiresAt  time.Time
}

// Expired reports whether the token's expiry has passed at now.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Inspect decodes the claims of token without verifying its signature.
// The chat server verifies tokens; the client only reads who it is.
func Inspect(token string) (*Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	c := &Claims{
		UserID:     firstClaim(mc, "id", "user_id", "userId", "sub"),
		Email:      firstClaim(mc, "email"),
		FirstName:  firstClaim(mc, "first_name"),
		LastName:   firstClaim(mc, "last_name"),
		LoggedInAs: firstClaim(mc, "logged_in_as"),
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

func firstClaim(mc jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := mc[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
