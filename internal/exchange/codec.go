package exchange

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Artifact layout, before base64: magic | salt | nonce | sealed payload.
const (
	artifactMagic = "AGX1"
	saltLength    = 16
	keyLength     = 32

	// Argon2id parameters for key derivation from the bundle password.
	defaultArgon2Time    = 3
	defaultArgon2Memory  = 64 * 1024
	defaultArgon2Threads = 4
)

var artifactEncoding = base64.StdEncoding.Strict()

// Codec encrypts bundle text with a password-derived key.
// The sealed payload is authenticated, so a wrong password or any
// modified byte fails Decrypt with ErrDecryption.
type Codec struct {
	time    uint32
	memory  uint32
	threads uint8
	rand    io.Reader
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithKDFParams overrides the Argon2id cost parameters. memoryKiB is in KiB.
// Artifacts only decrypt with the parameters they were encrypted with.
func WithKDFParams(time, memoryKiB uint32, threads uint8) CodecOption {
	return func(c *Codec) {
		c.time = time
		c.memory = memoryKiB
		c.threads = threads
	}
}

// WithRandom replaces the salt and nonce source.
func WithRandom(r io.Reader) CodecOption {
	return func(c *Codec) {
		c.rand = r
	}
}

// NewCodec creates a Codec with the default key derivation cost.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{
		time:    defaultArgon2Time,
		memory:  defaultArgon2Memory,
		threads: defaultArgon2Threads,
		rand:    rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encrypt seals plaintext and returns the base64 artifact text.
// A fresh salt and nonce are drawn for every call.
func (c *Codec) Encrypt(plaintext []byte, password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(c.rand, salt); err != nil {
		return "", fmt.Errorf("%w: generate salt: %v", ErrEncryption, err)
	}

	aead, err := chacha20poly1305.NewX(c.deriveKey(password, salt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", ErrEncryption, err)
	}

	out := make([]byte, 0, len(artifactMagic)+len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, artifactMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, []byte(artifactMagic))

	return artifactEncoding.EncodeToString(out), nil
}

// Decrypt opens an artifact produced by Encrypt.
func (c *Codec) Decrypt(artifact string, password string) ([]byte, error) {
	raw, err := artifactEncoding.DecodeString(strings.TrimSpace(artifact))
	if err != nil {
		return nil, fmt.Errorf("%w: not a bundle artifact", ErrDecryption)
	}

	header := len(artifactMagic) + saltLength + chacha20poly1305.NonceSizeX
	if len(raw) < header+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: artifact truncated", ErrDecryption)
	}
	if !bytes.Equal(raw[:len(artifactMagic)], []byte(artifactMagic)) {
		return nil, fmt.Errorf("%w: unrecognized artifact format", ErrDecryption)
	}

	salt := raw[len(artifactMagic) : len(artifactMagic)+saltLength]
	nonce := raw[len(artifactMagic)+saltLength : header]

	aead, err := chacha20poly1305.NewX(c.deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	plaintext, err := aead.Open(nil, nonce, raw[header:], []byte(artifactMagic))
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

func (c *Codec) deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, c.time, c.memory, c.threads, keyLength)
}
