package state

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

const snapshotVersion = 1

type snapshot struct {
	Version int                        `cbor:"1,keyasint"`
	KV      map[string]cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

// Save writes the store to path, sealed when sealer is non-nil. The file is
// replaced atomically. The dirty flag is cleared only if the store did not
// change after its contents were captured.
func (s *Store) Save(path string, sealer *Sealer) error {
	if s == nil {
		return ErrNilStore
	}
	b, gen, err := s.encode()
	if err != nil {
		return fmt.Errorf("encode state snapshot: %w", err)
	}
	if sealer != nil {
		if b, err = sealer.Seal(b, snapshotAAD); err != nil {
			return fmt.Errorf("seal state snapshot: %w", err)
		}
	}
	if len(b) > MaxSnapshotSize {
		return ErrSnapshotTooLarge
	}
	if err := writeFileAtomic(path, b, 0o600); err != nil {
		return fmt.Errorf("write state snapshot: %w", err)
	}
	s.markSaved(gen)
	return nil
}

// encode captures the contents together with the mutation count they
// reflect.
func (s *Store) encode() ([]byte, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := cbor.Marshal(snapshot{Version: snapshotVersion, KV: s.kv})
	return b, s.gen, err
}

func (s *Store) markSaved(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.dirty = false
	}
}

// Load reads a store saved by Save. A missing file yields an empty store.
// sealer must be non-nil exactly when the file was saved sealed.
func Load(path string, sealer *Sealer) (*Store, error) {
	b, err := readFileLimit(path, MaxSnapshotSize)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state snapshot: %w", err)
	}
	if sealer != nil {
		if b, err = sealer.Open(b, snapshotAAD); err != nil {
			return nil, err
		}
	}
	var snap snapshot
	if err := cbor.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotFormat, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSnapshotFormat, snap.Version)
	}
	if snap.KV == nil {
		snap.KV = make(map[string]cbor.RawMessage)
	}
	return &Store{kv: snap.KV}, nil
}

func readFileLimit(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, ErrSnapshotTooLarge
	}
	return b, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
