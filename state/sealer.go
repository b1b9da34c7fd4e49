package state

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrSnapshotFormat   = errors.New("invalid state snapshot format")
	ErrSnapshotInvalid  = errors.New("invalid state snapshot")
	ErrSealerConfig     = errors.New("invalid state sealer configuration")
	ErrSnapshotTooLarge = errors.New("state snapshot too large")
)

// KeySize is the key length expected by the default AEAD.
const KeySize = chacha20poly1305.KeySize

// MaxSnapshotSize bounds a snapshot file, sealed or not. Save refuses to
// write a larger file and Load refuses to read one.
const MaxSnapshotSize = 64 << 20

// snapshotAAD binds sealed data to the state snapshot file.
var snapshotAAD = []byte("linerpc-state")

// Sealer encrypts and authenticates snapshot bytes.
//
// Sealed format: [keyID] "." base64url(nonce || AEAD.Seal(plaintext, aad)).
// Keys holds every accepted key and KeyID selects the one used for sealing.
// Rotate by adding a key and switching KeyID; older snapshots still open.
type Sealer struct {
	KeyID string
	Keys  map[string][]byte

	// NewAEAD constructs the AEAD. Defaults to chacha20poly1305.NewX.
	NewAEAD func(key []byte) (cipher.AEAD, error)
}

// NewSealer validates keys and returns a Sealer. A nil newAEAD selects
// XChaCha20-Poly1305.
func NewSealer(keyID string, keys map[string][]byte, newAEAD func(key []byte) (cipher.AEAD, error)) (*Sealer, error) {
	switch {
	case len(keys) == 0:
		return nil, fmt.Errorf("%w: no keys", ErrSealerConfig)
	case strings.Contains(keyID, "."):
		return nil, fmt.Errorf("%w: key id %q contains '.'", ErrSealerConfig, keyID)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key id %q not found", ErrSealerConfig, keyID)
	}
	if newAEAD == nil {
		newAEAD = chacha20poly1305.NewX
	}
	for id, k := range keys {
		if _, err := newAEAD(k); err != nil {
			return nil, fmt.Errorf("invalid key %s: %w", id, err)
		}
	}
	return &Sealer{KeyID: keyID, Keys: keys, NewAEAD: newAEAD}, nil
}

// aead returns the cipher for keyID. An unknown id means the data was sealed
// with a key this Sealer does not hold.
func (s *Sealer) aead(keyID string) (cipher.AEAD, error) {
	key, ok := s.Keys[keyID]
	if !ok {
		return nil, ErrSnapshotInvalid
	}
	return s.NewAEAD(key)
}

// Seal encrypts plain under the current key.
func (s *Sealer) Seal(plain, aad []byte) ([]byte, error) {
	if s == nil || s.Keys[s.KeyID] == nil {
		return nil, ErrSealerConfig
	}
	aead, err := s.aead(s.KeyID)
	if err != nil {
		return nil, err
	}

	encrypted := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(encrypted); err != nil {
		return nil, err
	}
	encrypted = aead.Seal(encrypted, encrypted, plain, aad)

	enc := base64.RawURLEncoding
	out := make([]byte, len(s.KeyID)+1+enc.EncodedLen(len(encrypted)))
	n := copy(out, s.KeyID)
	out[n] = '.'
	enc.Encode(out[n+1:], encrypted)
	return out, nil
}

// Open decrypts data produced by Seal with any configured key. Input larger
// than MaxSnapshotSize is rejected before decoding.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrSealerConfig
	}
	if len(sealed) > MaxSnapshotSize {
		return nil, ErrSnapshotTooLarge
	}
	keyID, encB64, ok := bytes.Cut(bytes.TrimSpace(sealed), []byte("."))
	if !ok || len(keyID) == 0 || len(encB64) == 0 {
		return nil, ErrSnapshotFormat
	}

	encrypted := make([]byte, base64.RawURLEncoding.DecodedLen(len(encB64)))
	n, err := base64.RawURLEncoding.Decode(encrypted, encB64)
	if err != nil {
		return nil, ErrSnapshotFormat
	}
	encrypted = encrypted[:n]

	aead, err := s.aead(string(keyID))
	if err != nil {
		return nil, err
	}
	if len(encrypted) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrSnapshotFormat
	}
	nonce, ciphertext := encrypted[:aead.NonceSize()], encrypted[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrSnapshotInvalid
	}
	return plain, nil
}
