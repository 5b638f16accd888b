package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aura-classroom/engagement/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carries the identity asserted by the upstream auth service.
type Claims struct {
	ParticipantID string      `json:"participant_id"`
	Role          models.Role `json:"role"`
	Name          string      `json:"name"`
	jwt.RegisteredClaims
}

// Identity returns the identity context the claims assert.
func (c *Claims) Identity() models.Identity {
	return models.Identity{ParticipantID: c.ParticipantID, Role: c.Role, Name: c.Name}
}

// JWTService handles token generation and validation.
type JWTService struct {
	secret      []byte
	expireHours int
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int) *JWTService {
	return &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
	}
}

// Generate issues a token asserting identity.
func (s *JWTService) Generate(identity models.Identity) (string, error) {
	claims := Claims{
		ParticipantID: identity.ParticipantID,
		Role:          identity.Role,
		Name:          identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ParticipantID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(s.expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT, returning claims or error. Tokens without
// a participant or with an unknown role are rejected.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ParticipantID == "" {
		claims.ParticipantID = claims.Subject
	}
	if claims.ParticipantID == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Resolve validates token and returns the asserted identity.
func (s *JWTService) Resolve(token string) (models.Identity, error) {
	claims, err := s.Validate(token)
	if err != nil {
		return models.Identity{}, err
	}
	return claims.Identity(), nil
}
