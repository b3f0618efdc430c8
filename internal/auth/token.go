// Package auth verifies bearer tokens and sanitizes every piece of
// client-controlled input the wire protocol accepts (spec.md §4.B).
package auth

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors surfaced to the client as the literal auth messages spec.md §7
// requires.
var (
	ErrTokenRequired = errors.New("Authentication token required")
	ErrInvalidFormat = errors.New("Invalid token format")
	ErrExpired       = errors.New("Token expired")
	ErrTampered      = errors.New("Invalid or tampered token")
)

// Claims is the minimal claim set a bearer token or match ticket carries.
type Claims struct {
	PlayerID string `json:"id"`
	RoomID   string `json:"roomId,omitempty"`
	jwt.RegisteredClaims
}

// Verifier authenticates bearer tokens against a shared secret when one is
// configured, and tolerates unsigned-but-exp-checked tokens in dev mode
// otherwise (spec.md §4.B).
type Verifier struct {
	secret      []byte
	requireAuth bool
}

func NewVerifier(secret string, requireAuth bool) *Verifier {
	return &Verifier{secret: []byte(secret), requireAuth: requireAuth}
}

// Authenticate resolves a connection's player id from its bearer token. An
// empty token is only acceptable when auth is not required, in which case
// an anonymous id is minted.
func (v *Verifier) Authenticate(token string) (string, error) {
	if token == "" {
		if v.requireAuth {
			return "", ErrTokenRequired
		}
		return anonymousID(), nil
	}

	claims, err := v.parse(token)
	if err != nil {
		return "", err
	}

	if claims.PlayerID == "" {
		return "", ErrInvalidFormat
	}

	return claims.PlayerID, nil
}

func (v *Verifier) parse(token string) (*Claims, error) {
	claims := &Claims{}

	if len(v.secret) > 0 {
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.secret, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return nil, ErrExpired
			}
			return nil, ErrTampered
		}
		if !parsed.Valid {
			return nil, ErrTampered
		}
		return claims, nil
	}

	// Dev mode: decode without verifying the signature, but exp is still
	// enforced (spec.md §4.B).
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return nil, ErrInvalidFormat
	}

	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, ErrExpired
	}

	return claims, nil
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// anonymousID mints an "anon_<timestamp>_<randbase36>" id (spec.md §4.B)
// for connections that authenticate with no token while auth is optional.
func anonymousID() string {
	suffix := make([]byte, 8)
	for i := range suffix {
		suffix[i] = base36Alphabet[rand.Intn(len(base36Alphabet))]
	}
	return "anon_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + string(suffix)
}
