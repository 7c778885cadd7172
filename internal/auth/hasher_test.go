package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/firewatch/internal/auth"
)

func TestHashPassword(t *testing.T) {
	password := "correct-horse-battery-staple"

	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"), hash)

	match, err := auth.CheckPassword(password, hash)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = auth.CheckPassword("wrong-password", hash)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestHasher_CustomParams(t *testing.T) {
	h := auth.NewHasher(&auth.Params{Memory: 8 * 1024, Iterations: 2, Parallelism: 1})
	hash, err := h.Hash("pw")
	require.NoError(t, err)
	assert.Contains(t, hash, "m=8192,t=2,p=1")

	ok, err := auth.CheckPassword("pw", hash)
	require.NoError(t, err)
	assert.True(t, ok, "verification reads params from the hash")

	assert.False(t, h.NeedsRehash(hash))
	assert.True(t, auth.NewHasher(nil).NeedsRehash(hash))
}

func TestCheckPassword_BadHash(t *testing.T) {
	_, err := auth.CheckPassword("pw", "plaintext")
	assert.ErrorIs(t, err, auth.ErrInvalidHash)

	_, err = auth.CheckPassword("pw", "$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$a2V5")
	assert.ErrorIs(t, err, auth.ErrIncompatibleVariant)
}
