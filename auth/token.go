// Package auth issues the ephemeral equipment/session tokens handed to
// secondary devices. Token contents are opaque to the coordination core.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"conference-lab/domain"
)

// EquipmentClaims defines the structure of the data stored inside an
// equipment token.
type EquipmentClaims struct {
	ConferenceID  string `json:"conference_id"`
	ParticipantID string `json:"participant_id"`
	jwt.RegisteredClaims
}

// TokenFactory signs equipment tokens with a shared secret (HS256).
type TokenFactory struct {
	secret   []byte
	lifetime time.Duration
}

func NewTokenFactory(secret string, lifetime time.Duration) *TokenFactory {
	return &TokenFactory{secret: []byte(secret), lifetime: lifetime}
}

func (f *TokenFactory) IssueEquipmentToken(p domain.Participant) (string, error) {
	now := time.Now()
	claims := &EquipmentClaims{
		ConferenceID:  p.ConferenceID,
		ParticipantID: p.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(f.lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "conference-lab",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(f.secret)
}

// ValidateEquipmentToken parses and validates the signature and expiry of
// an equipment token string.
func (f *TokenFactory) ValidateEquipmentToken(tokenString string) (*EquipmentClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &EquipmentClaims{}, func(*jwt.Token) (any, error) {
		return f.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing equipment token: %w", err)
	}
	claims, ok := token.Claims.(*EquipmentClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}
