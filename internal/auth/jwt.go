/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/friendsincode/shopfloor/internal/models"
)

const (
	Issuer   = "shopfloor"
	Audience = "shopfloor-api"

	// clockSkew tolerates drift between the identity provider and this host.
	clockSkew = 30 * time.Second
)

// ErrNoKnownRole is returned for tokens that carry none of the shop floor roles.
var ErrNoKnownRole = errors.New("token carries no known role")

var knownRoles = []models.RoleName{
	models.RoleAdmin,
	models.RolePlanner,
	models.RoleOperator,
	models.RoleAccounting,
}

// Claims identifies the acting user and the roles they act in.
type Claims struct {
	UserID string            `json:"uid"`
	Roles  []models.RoleName `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry any of the given roles.
func (c *Claims) HasRole(roles ...models.RoleName) bool {
	for _, role := range roles {
		if slices.Contains(c.Roles, role) {
			return true
		}
	}
	return false
}

// Issue signs claims with HS256 for ttl. Tokens are normally minted by the
// identity provider; this is used by tooling and tests.
func Issue(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    Issuer,
		Audience:  jwt.ClaimStrings{Audience},
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Parse verifies an HS256 token issued for this API and returns its claims.
func Parse(secret []byte, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if !claims.HasRole(knownRoles...) {
		return nil, ErrNoKnownRole
	}
	return claims, nil
}
