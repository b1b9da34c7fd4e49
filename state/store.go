package state

import (
	"errors"
	"reflect"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var ErrNilStore = errors.New("nil state store")

// decMode decodes maps held in `any` as map[string]any so that values read
// back from the store can be sent as JSON.
var decMode = mustDecMode(cbor.DecOptions{
	DefaultMapType: reflect.TypeOf(map[string]any(nil)),
})

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	dm, err := opts.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// Store is a key/value bag shared by every procedure call of a server.
//
// Values are kept CBOR-encoded, so a value read with Get is a copy and
// changing it does not change the store. Store tracks whether it changed
// since it was created, loaded or saved.
type Store struct {
	mu    sync.Mutex
	kv    map[string]cbor.RawMessage
	dirty bool
	// gen counts mutations. Save clears dirty only if gen did not move
	// while the snapshot was being written.
	gen uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{kv: make(map[string]cbor.RawMessage)}
}

// Get decodes the value stored under key into dest, which must be a pointer.
// It reports false if key is not set.
func (s *Store) Get(key string, dest any) (bool, error) {
	if s == nil {
		return false, ErrNilStore
	}
	s.mu.Lock()
	raw, ok := s.kv[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := decMode.Unmarshal(raw, dest); err != nil {
		return true, err
	}
	return true, nil
}

// Set stores value under key.
func (s *Store) Set(key string, value any) error {
	if s == nil {
		return ErrNilStore
	}
	raw, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = raw
	s.dirty = true
	s.gen++
	return nil
}

// Delete removes key and reports whether it was set.
func (s *Store) Delete(key string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kv[key]; !ok {
		return false
	}
	delete(s.kv, key)
	s.dirty = true
	s.gen++
	return true
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	keys := make([]string, 0, len(s.kv))
	for k := range s.kv {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kv)
}

// Dirty reports whether the store changed since it was created, loaded or
// last saved.
func (s *Store) Dirty() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}
