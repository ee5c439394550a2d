// Package token mints the two credential artifacts of the service: signed
// access tokens carrying multi-app role claims, and opaque refresh secrets.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"trevvos-auth/internal/model"
)

// IssuerName is the iss claim stamped into every access token. Downstream
// services reject tokens carrying any other issuer.
const IssuerName = "trevvos-auth"

// ErrInvalidToken indicates an access token failed signature or claim
// validation.
var ErrInvalidToken = errors.New("invalid token")

// Issuer signs and verifies access tokens with a process-wide HS256 key.
type Issuer struct {
	secret    []byte
	accessTTL time.Duration
}

func NewIssuer(secret string, accessTTL time.Duration) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token: signing secret is required")
	}
	if accessTTL <= 0 {
		return nil, errors.New("token: access TTL must be positive")
	}

	return &Issuer{secret: []byte(secret), accessTTL: accessTTL}, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// SignAccessToken mints a time-bounded bearer token for the user. The apps
// map is embedded as-is: one claim key per application slug the user holds a
// role in.
func (i *Issuer) SignAccessToken(user model.User, apps map[string]string) (string, error) {
	now := time.Now().UTC()

	claims := jwt.MapClaims{
		"sub":        user.ID,
		"email":      user.Email,
		"globalRole": user.Role,
		"apps":       apps,
		"iss":        IssuerName,
		"jti":        uuid.NewString(),
		"iat":        now.Unix(),
		"exp":        now.Add(i.accessTTL).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signed, nil
}

// ParseAccessToken verifies signature, signing method, issuer and expiry, and
// returns the embedded claims.
func (i *Issuer) ParseAccessToken(tokenString string) (*model.AuthClaims, error) {
	parsed, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(IssuerName),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	claimsMap, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	claims := &model.AuthClaims{}
	claims.UserID, _ = claimsMap["sub"].(string)
	claims.Email, _ = claimsMap["email"].(string)
	claims.GlobalRole, _ = claimsMap["globalRole"].(string)
	claims.TokenID, _ = claimsMap["jti"].(string)
	claims.Apps = appsFromClaim(claimsMap["apps"])

	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func appsFromClaim(raw any) map[string]string {
	entries, ok := raw.(map[string]any)
	if !ok {
		return map[string]string{}
	}

	apps := make(map[string]string, len(entries))
	for slug, role := range entries {
		if s, ok := role.(string); ok {
			apps[slug] = s
		}
	}
	return apps
}

// refreshSecretBytes sets the entropy of the secret half of a refresh token.
const refreshSecretBytes = 32

// RefreshSecret is the plaintext refresh credential handed to a client,
// serialized as "<lookup>.<secret>". Lookup is a random, non-secret
// correlation id persisted in plaintext so the owning session can be found
// with one indexed read; Secret is the high-entropy half that is only ever
// stored as a bcrypt digest.
type RefreshSecret struct {
	Lookup string
	Secret string
}

func (r RefreshSecret) String() string {
	return r.Lookup + "." + r.Secret
}

// NewRefreshSecret draws both components from crypto/rand independently.
func NewRefreshSecret() (RefreshSecret, error) {
	lookup, err := uuid.NewRandom()
	if err != nil {
		return RefreshSecret{}, fmt.Errorf("generate refresh lookup: %w", err)
	}

	raw := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return RefreshSecret{}, fmt.Errorf("generate refresh secret: %w", err)
	}

	return RefreshSecret{
		Lookup: lookup.String(),
		Secret: base64.RawURLEncoding.EncodeToString(raw),
	}, nil
}

// SplitRefreshToken decomposes a presented refresh token into its lookup and
// secret halves. Tokens that do not split into two non-empty parts are
// malformed.
func SplitRefreshToken(raw string) (lookup string, secret string, err error) {
	lookup, secret, found := strings.Cut(raw, ".")
	if !found || lookup == "" || secret == "" {
		return "", "", model.ErrInvalidRefreshToken
	}
	return lookup, secret, nil
}
