package exchange

import (
	"errors"
	"strings"
	"testing"
)

// Cheap key derivation keeps the tests fast.
func newTestCodec() *Codec {
	return NewCodec(WithKDFParams(1, 64, 1))
}

func TestCodecRoundTrip(t *testing.T) {
	c := newTestCodec()
	plaintext := []byte(`{"version":"1.1.0","backupCount":0,"backups":[]}`)

	artifact, err := c.Encrypt(plaintext, "hunter22")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	if strings.Contains(artifact, "backupCount") {
		t.Error("artifact contains plaintext")
	}

	got, err := c.Decrypt(artifact, "hunter22")
	if err != nil {
		t.Fatalf("Decrypt() failed: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestCodecNotDeterministic(t *testing.T) {
	c := newTestCodec()

	a, err := c.Encrypt([]byte("same"), "password")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	b, err := c.Encrypt([]byte("same"), "password")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	if a == b {
		t.Error("two encryptions of the same input produced identical artifacts")
	}
}

func TestCodecWrongPassword(t *testing.T) {
	c := newTestCodec()

	artifact, err := c.Encrypt([]byte("secret state"), "right-password")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}

	if _, err := c.Decrypt(artifact, "wrong-password"); !errors.Is(err, ErrDecryption) {
		t.Errorf("Decrypt() with wrong password error = %v, want ErrDecryption", err)
	}
}

func TestCodecTamperedArtifact(t *testing.T) {
	c := newTestCodec()

	artifact, err := c.Encrypt([]byte("some bundle text that is long enough"), "password")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}

	for i := 0; i < len(artifact); i++ {
		tampered := []byte(artifact)
		if tampered[i] == 'A' {
			tampered[i] = 'B'
		} else {
			tampered[i] = 'A'
		}

		if _, err := c.Decrypt(string(tampered), "password"); !errors.Is(err, ErrDecryption) {
			t.Fatalf("Decrypt() with byte %d modified error = %v, want ErrDecryption", i, err)
		}
	}
}

func TestCodecMalformedArtifacts(t *testing.T) {
	c := newTestCodec()

	tests := []struct {
		name     string
		artifact string
	}{
		{"empty", ""},
		{"not base64", "this is not base64!"},
		{"too short", "QUdYMQ=="},
		{"wrong magic", strings.Repeat("QUJD", 40)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decrypt(tt.artifact, "password"); !errors.Is(err, ErrDecryption) {
				t.Errorf("Decrypt(%q) error = %v, want ErrDecryption", tt.artifact, err)
			}
		})
	}
}

func TestCodecKDFParamsMustMatch(t *testing.T) {
	artifact, err := NewCodec(WithKDFParams(1, 64, 1)).Encrypt([]byte("data"), "password")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	if _, err := NewCodec(WithKDFParams(2, 64, 1)).Decrypt(artifact, "password"); !errors.Is(err, ErrDecryption) {
		t.Errorf("Decrypt() with different KDF params error = %v, want ErrDecryption", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestCodecEncryptionError(t *testing.T) {
	c := NewCodec(WithKDFParams(1, 64, 1), WithRandom(failingReader{}))

	if _, err := c.Encrypt([]byte("data"), "password"); !errors.Is(err, ErrEncryption) {
		t.Errorf("Encrypt() error = %v, want ErrEncryption", err)
	}
}
