package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verifyflow/config"
	"verifyflow/pkg/errors"
)

func setup(t *testing.T) {
	t.Helper()
	prev := config.Cfg
	config.Cfg.JWTSecret = "test-secret"
	config.Cfg.JWTExpireMinutes = 30
	config.Cfg.JWTRefreshDays = 7
	require.NoError(t, Init())
	t.Cleanup(func() {
		config.Cfg = prev
		sharedGenerator = nil
	})
}

func TestGenerateAndParse(t *testing.T) {
	setup(t)

	tok, expiresIn, err := GenerateAccessToken("prov-1", RoleReviewer)
	require.NoError(t, err)
	assert.Equal(t, int((30 * time.Minute).Seconds()), expiresIn)

	uid, role, err := Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "prov-1", uid)
	assert.Equal(t, RoleReviewer, role)
}

func TestParseRejectsForeignSignature(t *testing.T) {
	setup(t)
	tok, _, err := GenerateAccessToken("prov-1", RoleProvider)
	require.NoError(t, err)

	sharedGenerator.Key = []byte("another-secret")
	_, _, err = Parse(tok)
	assert.ErrorIs(t, err, errors.InvalidToken)
}

func TestNotInitialized(t *testing.T) {
	sharedGenerator = nil
	_, _, err := GenerateAccessToken("prov-1", RoleProvider)
	assert.Error(t, err)
}

func TestClaimString(t *testing.T) {
	assert.Equal(t, "42", ClaimString(float64(42)))
	assert.Equal(t, "abc", ClaimString("abc"))
	assert.Equal(t, "", ClaimString(nil))
}
