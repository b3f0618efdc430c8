// Package matchmaker implements the matchmaking gateway's FIFO queue: a
// player joins, the queue groups waiting players into match-sized batches,
// provisions a room on the host fabric, and hands each player a short-lived
// signed ticket for the game gateway (spec.md §4.D). Grounded on the
// teacher's Hub for its register/unregister-channel shape, generalized
// into a grouping queue instead of a single room registry, and on the JWT
// wiring found across the retrieved pack's manifests (golang-jwt/jwt/v5).
package matchmaker

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TicketClaims is the match ticket's payload: which player, for which
// room, expiring no later than MatchTicketTTL after issue (spec.md §3).
type TicketClaims struct {
	PlayerID string `json:"playerId"`
	RoomID   string `json:"roomId"`
	jwt.RegisteredClaims
}

var ErrInvalidTicket = errors.New("matchmaker: invalid match ticket")

// SignTicket issues a ticket good for ttl, signed with secret. An empty
// secret signs with an empty HMAC key, matching auth.Verifier's dev-mode
// posture (spec.md §6: unsigned/empty-secret tokens are accepted in dev).
func SignTicket(secret []byte, playerID, roomID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TicketClaims{
		PlayerID: playerID,
		RoomID:   roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// VerifyTicket validates a ticket's signature and expiry and returns its
// claims.
func VerifyTicket(secret []byte, raw string) (*TicketClaims, error) {
	claims := &TicketClaims{}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidTicket
	}

	return claims, nil
}
