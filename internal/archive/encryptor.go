// Package archive packages artifacts into password-protected zip
// containers using AES-256 entry encryption.
package archive

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/rs/zerolog"
	"github.com/yeka/zip"

	"trackdrop/internal/domain"
)

// PasswordLength is the length of generated archive passwords: long enough
// to resist casual brute force, short enough to relay to a human.
const PasswordLength = 10

const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// NewPassword generates a fresh random alphanumeric password. Never reused
// across archives.
func NewPassword() (string, error) {
	buf := make([]byte, PasswordLength)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// Encryptor creates encrypted containers from artifact sets.
type Encryptor struct {
	log zerolog.Logger
}

// NewEncryptor creates an Encryptor.
func NewEncryptor(log zerolog.Logger) *Encryptor {
	return &Encryptor{log: log}
}

// Create writes a password-protected zip at dest containing every artifact
// under its declared name, Unicode preserved. All inputs are validated
// before the first entry is written; a missing or zero-length artifact
// fails the whole archive.
func (e *Encryptor) Create(dest string, artifacts []domain.Artifact) (*domain.Archive, error) {
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("archive: no artifacts to pack")
	}
	for _, a := range artifacts {
		info, err := os.Stat(a.Path)
		if err != nil {
			return nil, fmt.Errorf("archive: artifact %q: %w", a.Name, err)
		}
		if info.Size() == 0 {
			return nil, fmt.Errorf("archive: artifact %q is empty", a.Name)
		}
	}

	password, err := NewPassword()
	if err != nil {
		return nil, err
	}

	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", dest, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, a := range artifacts {
		if err := addEntry(zw, a, password); err != nil {
			zw.Close()
			os.Remove(dest)
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("archive: finalize: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("archive: stat %s: %w", dest, err)
	}

	e.log.Info().Str("archive", dest).Int64("size", info.Size()).
		Int("entries", len(artifacts)).Msg("encrypted archive created")

	return &domain.Archive{Path: dest, Password: password, Size: info.Size()}, nil
}

func addEntry(zw *zip.Writer, a domain.Artifact, password string) error {
	w, err := zw.Encrypt(a.Name, password, zip.AES256Encryption)
	if err != nil {
		return fmt.Errorf("archive: add %q: %w", a.Name, err)
	}
	src, err := os.Open(a.Path)
	if err != nil {
		return fmt.Errorf("archive: open %q: %w", a.Name, err)
	}
	defer src.Close()
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("archive: write %q: %w", a.Name, err)
	}
	return nil
}
