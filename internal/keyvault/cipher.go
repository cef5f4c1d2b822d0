package keyvault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	secretLength = 32
	ivLength     = aes.BlockSize
	blobSep      = ":"
)

// Cipher encrypts key material with AES-256-CBC under a single process-wide
// secret. Blobs are stored as hex(iv) + ":" + hex(ciphertext).
type Cipher struct {
	block cipher.Block
	rand  io.Reader
}

// NewCipher validates the secret and prepares the block cipher.
func NewCipher(secret []byte) (*Cipher, error) {
	if len(secret) != secretLength {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes, got %d", ErrConfig, secretLength, len(secret))
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &Cipher{block: block, rand: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random IV.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("read iv: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)
	return hex.EncodeToString(iv) + blobSep + hex.EncodeToString(out), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed input yields ErrCorruptRecord.
func (c *Cipher) Decrypt(blob string) ([]byte, error) {
	ivHex, ctHex, ok := strings.Cut(blob, blobSep)
	if !ok {
		return nil, fmt.Errorf("%w: missing separator", ErrCorruptRecord)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", ErrCorruptRecord, err)
	}
	if len(iv) != ivLength {
		return nil, fmt.Errorf("%w: iv is %d bytes", ErrCorruptRecord, len(iv))
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrCorruptRecord, err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes", ErrCorruptRecord, len(ct))
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, ct)
	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(plain) {
		return nil, fmt.Errorf("%w: plaintext is not utf-8", ErrCorruptRecord)
	}
	return plain, nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrCorruptRecord)
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrCorruptRecord)
		}
	}
	return b[:len(b)-n], nil
}
