package util

import (
	"testing"
	"time"

	"llm_eval_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT(7, model.Curator, "curator@example.com", testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, model.Curator, claims.Role)

	_, err = ParseJWT(token, "another-secret-another-secret-xx")
	assert.Error(t, err)

	expired, err := GenerateJWT(7, model.Curator, "curator@example.com", testSecret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWT(expired, testSecret)
	assert.Error(t, err)
}
