package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// cheap parameters keep the suite fast
var testParams = Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestHasher_HashAndVerify(t *testing.T) {
	h := NewHasher(testParams)

	encoded, err := h.Hash("Correct1Horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.Verify("Correct1Horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := h.Hash("Correct1Horse")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, again, "salts must differ")
}

func TestHasher_VerifyUsesEmbeddedParams(t *testing.T) {
	encoded, err := NewHasher(testParams).Hash("Secret123")
	require.NoError(t, err)

	// A hasher with different defaults still verifies older hashes
	ok, err := NewHasher(Params{Memory: 2048, Iterations: 2, Parallelism: 1}).Verify("Secret123", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasher_VerifyMalformed(t *testing.T) {
	h := NewHasher(testParams)

	tests := []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
	}
	for _, encoded := range tests {
		ok, err := h.Verify("anything", encoded)
		assert.ErrorIs(t, err, ErrMalformedHash, encoded)
		assert.False(t, ok)
	}
}

func TestHasher_DummyHashNeverMatches(t *testing.T) {
	h := NewHasher(testParams)
	dummy := h.DummyHash()

	assert.True(t, strings.HasPrefix(dummy, "$argon2id$v=19$m=1024,t=1,p=1$"))
	assert.Equal(t, dummy, h.DummyHash(), "dummy hash is fixed")

	for _, pw := range []string{"", "password", "Correct1Horse"} {
		ok, err := h.Verify(pw, dummy)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestNewHasher_Defaults(t *testing.T) {
	h := NewHasher(Params{})
	assert.Equal(t, DefaultParams, h.params)
}

func TestValidateStrength(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"Abcdefg1", true},
		{"Ünïcode9x", true},
		{"Abc1", false},
		{"abcdefg1", false},
		{"ABCDEFG1", false},
		{"Abcdefgh", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			err := ValidateStrength(tt.password)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, auth.ErrWeakPassword)
			}
		})
	}
}
