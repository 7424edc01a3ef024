package custody

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_RoundTrip(t *testing.T) {
	c := NewCipher("server-secret")

	secret := make([]byte, 64)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	blob, err := c.Encrypt(secret, "13579")
	require.NoError(t, err)
	require.Regexp(t, `^[0-9a-f]{32}:[0-9a-f]+$`, blob)

	decrypted, err := c.Decrypt(blob, "13579")
	require.NoError(t, err)
	assert.Equal(t, secret, decrypted)
}

func TestCipher_WrongPinNeverReturnsSecret(t *testing.T) {
	c := NewCipher("server-secret")
	secret := []byte("super-secret-private-key-material")

	blob, err := c.Encrypt(secret, "13579")
	require.NoError(t, err)

	got, err := c.Decrypt(blob, "00000")
	if err == nil {
		// CBC padding may accidentally validate; the plaintext must still be garbage.
		assert.NotEqual(t, secret, got)
		return
	}
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestCipher_CorruptBlob(t *testing.T) {
	c := NewCipher("server-secret")

	testCases := []struct {
		name string
		blob string
	}{
		{name: "no separator", blob: "deadbeef"},
		{name: "bad iv hex", blob: "zzzz:deadbeef"},
		{name: "short iv", blob: "dead:deadbeefdeadbeefdeadbeefdeadbeef"},
		{name: "empty cipher", blob: strings.Repeat("ab", 16) + ":"},
		{name: "ragged cipher length", blob: strings.Repeat("ab", 16) + ":abcdef"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Decrypt(tc.blob, "13579")
			assert.ErrorIs(t, err, ErrCorruptRecord)
		})
	}
}

func TestCipher_FreshIVPerCall(t *testing.T) {
	c := NewCipher("server-secret")
	secret := []byte("same input every time")

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		blob, err := c.Encrypt(secret, "13579")
		require.NoError(t, err)

		iv := strings.SplitN(blob, ":", 2)[0]
		if _, dup := seen[iv]; dup {
			t.Fatalf("iv %s reused after %d encryptions", iv, i)
		}
		seen[iv] = struct{}{}
	}
}

func TestCipher_DifferentServerSecretsDiverge(t *testing.T) {
	secret := []byte("key material")

	blob, err := NewCipher("secret-a").Encrypt(secret, "13579")
	require.NoError(t, err)

	got, err := NewCipher("secret-b").Decrypt(blob, "13579")
	if err == nil {
		assert.NotEqual(t, secret, got)
		return
	}
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestPinVerifier(t *testing.T) {
	assert.Equal(t, PinVerifier("13579"), PinVerifier("13579"))
	assert.NotEqual(t, PinVerifier("13579"), PinVerifier("13578"))
	assert.Len(t, PinVerifier("13579"), 64)

	assert.True(t, VerifyPin("13579", PinVerifier("13579")))
	assert.False(t, VerifyPin("00000", PinVerifier("13579")))
}
