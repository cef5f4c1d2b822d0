package keyvault

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, secretLength)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return secret
}

func TestNewCipherRejectsWrongLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		_, err := NewCipher(make([]byte, n))
		assert.ErrorIs(t, err, ErrConfig, "length %d", n)
	}
}

func TestCipherRoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		c, err := NewCipher(testSecret(t))
		require.NoError(t, err)

		plain := make([]byte, 32)
		_, err = rand.Read(plain)
		require.NoError(t, err)
		text := []byte("0x" + hex.EncodeToString(plain))

		first, err := c.Encrypt(text)
		require.NoError(t, err)
		second, err := c.Encrypt(text)
		require.NoError(t, err)
		assert.NotEqual(t, first, second, "random iv must differ per call")

		for _, blob := range []string{first, second} {
			got, err := c.Decrypt(blob)
			require.NoError(t, err)
			assert.Equal(t, text, got)
		}
	}
}

func TestCipherBlobFormat(t *testing.T) {
	c, err := NewCipher(testSecret(t))
	require.NoError(t, err)

	blob, err := c.Encrypt([]byte("hello"))
	require.NoError(t, err)

	ivHex, ctHex, ok := strings.Cut(blob, ":")
	require.True(t, ok)
	assert.Len(t, ivHex, 32)
	assert.Len(t, ctHex, 32, "five bytes pad to one block")

	empty, err := c.Encrypt(nil)
	require.NoError(t, err)
	got, err := c.Decrypt(empty)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCipherRejectsCorruptBlobs(t *testing.T) {
	c, err := NewCipher(testSecret(t))
	require.NoError(t, err)
	valid, err := c.Encrypt([]byte("0xabc"))
	require.NoError(t, err)
	ivHex, ctHex, _ := strings.Cut(valid, ":")

	cases := map[string]string{
		"missing separator": ivHex + ctHex,
		"non-hex iv":        "zz" + ivHex[2:] + ":" + ctHex,
		"odd-length iv":     ivHex[1:] + ":" + ctHex,
		"short iv":          ivHex[:16] + ":" + ctHex,
		"non-hex body":      ivHex + ":" + "xyz" + ctHex[3:],
		"odd-length body":   ivHex + ":" + ctHex[1:],
		"partial block":     ivHex + ":" + ctHex[:30],
		"empty body":        ivHex + ":",
		"empty":             "",
	}
	for name, blob := range cases {
		_, err := c.Decrypt(blob)
		assert.True(t, errors.Is(err, ErrCorruptRecord), "%s: got %v", name, err)
	}
}

func TestCipherWrongSecretNeverYieldsPlaintext(t *testing.T) {
	a, err := NewCipher(testSecret(t))
	require.NoError(t, err)
	b, err := NewCipher(testSecret(t))
	require.NoError(t, err)

	blob, err := a.Encrypt([]byte("0x" + strings.Repeat("ab", 32)))
	require.NoError(t, err)

	got, err := b.Decrypt(blob)
	if err == nil {
		// CBC carries no integrity tag; a wrong key can occasionally unpad cleanly.
		assert.NotEqual(t, "0x"+strings.Repeat("ab", 32), string(got))
		return
	}
	assert.ErrorIs(t, err, ErrCorruptRecord)
}
