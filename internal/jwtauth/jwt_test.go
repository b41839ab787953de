package jwtauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "peopleops/pkg/domain-errors"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewService("unit-test-key", "peopleops", "peopleops-api")

	token, err := svc.GenerateAccessToken("U1", "HR", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "U1", claims.UserID)
	assert.Equal(t, "HR", claims.Role)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := NewService("unit-test-key", "peopleops", "peopleops-api")

	token, err := svc.GenerateAccessToken("U1", "HR", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateRejectsForeignKey(t *testing.T) {
	minter := NewService("key-a", "peopleops", "peopleops-api")
	verifier := NewService("key-b", "peopleops", "peopleops-api")

	token, err := minter.GenerateAccessToken("U1", "ADMIN", time.Minute)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
