package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/engagement/internal/models"
)

func TestGenerateAndResolve(t *testing.T) {
	svc := NewJWTService("secret", 1)
	want := models.Identity{ParticipantID: "p-1", Role: models.RoleTeacher, Name: "Ms. Rivera"}

	token, err := svc.Generate(want)
	require.NoError(t, err)

	got, err := svc.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("secret", 1)

	sign := func(secret string, claims Claims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	cases := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": sign("other", Claims{ParticipantID: "p", Role: models.RoleStudent, RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}),
		"expired": sign("secret", Claims{ParticipantID: "p", Role: models.RoleStudent, RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}}),
		"unknown role":   sign("secret", Claims{ParticipantID: "p", Role: "janitor", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}),
		"no participant": sign("secret", Claims{Role: models.RoleStudent, RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Validate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestValidateFallsBackToSubject(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: models.RoleStudent,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "p-9",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "p-9", claims.ParticipantID)
}
