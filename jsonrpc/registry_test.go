package jsonrpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constHandler(v string) HandlerFunc {
	return func(context.Context, *Request) (any, error) {
		return v, nil
	}
}

func lookupValue(t *testing.T, r *Registry, name string) (string, bool) {
	t.Helper()
	h, ok := r.Lookup(name)
	if !ok {
		return "", false
	}
	v, err := h.ServeRPC(context.Background(), &Request{Name: name})
	require.NoError(t, err)
	return v.(string), true
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Register("", constHandler("x")), ErrEmptyName)
	assert.ErrorIs(t, r.Register("x", nil), ErrNilHandler)
	assert.ErrorIs(t, r.RegisterFunc("x", nil), ErrNilHandler)
	assert.Equal(t, 0, r.Len())
}

func TestLookupNewestFirst(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", constHandler("a1")))
	require.NoError(t, r.Register("b", constHandler("b1")))
	require.NoError(t, r.Register("a", constHandler("a2")))

	v, ok := lookupValue(t, r, "a")
	require.True(t, ok)
	assert.Equal(t, "a2", v)
	assert.Equal(t, 3, r.Len())

	_, ok = r.Lookup("c")
	assert.False(t, ok)
}

func TestDeregisterOldestFirst(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", constHandler("a1")))
	require.NoError(t, r.Register("b", constHandler("b1")))
	require.NoError(t, r.Register("a", constHandler("a2")))
	require.NoError(t, r.Register("a", constHandler("a3")))

	require.NoError(t, r.Deregister("a"))
	assert.Equal(t, 3, r.Len())
	v, _ := lookupValue(t, r, "a")
	assert.Equal(t, "a3", v)

	require.NoError(t, r.Deregister("a"))
	v, _ = lookupValue(t, r, "a")
	assert.Equal(t, "a3", v)

	require.NoError(t, r.Deregister("a"))
	_, ok := r.Lookup("a")
	assert.False(t, ok)

	v, ok = lookupValue(t, r, "b")
	require.True(t, ok)
	assert.Equal(t, "b1", v)
}

func TestDeregisterKeepsOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, r.Register(name, constHandler(name)))
	}
	require.NoError(t, r.Deregister("b"))
	assert.Equal(t, []string{"a", "c", "d"}, r.Names())
}

func TestDeregisterMissingIsNoop(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Deregister("nothing"))
	require.NoError(t, r.Register("a", constHandler("a")))
	require.NoError(t, r.Deregister("nothing"))
	require.NoError(t, r.Deregister("nothing"))
	assert.Equal(t, 1, r.Len())
}

func TestRejectDuplicates(t *testing.T) {
	r := NewRegistry(WithDuplicatePolicy(Reject))
	require.NoError(t, r.Register("a", constHandler("a1")))
	assert.ErrorIs(t, r.Register("a", constHandler("a2")), ErrDuplicate)

	v, _ := lookupValue(t, r, "a")
	assert.Equal(t, "a1", v)

	require.NoError(t, r.Deregister("a"))
	require.NoError(t, r.Register("a", constHandler("a3")))
	v, _ = lookupValue(t, r, "a")
	assert.Equal(t, "a3", v)
}

func TestNamesDistinct(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("b", constHandler("b")))
	require.NoError(t, r.Register("a", constHandler("a")))
	require.NoError(t, r.Register("b", constHandler("b2")))
	assert.Equal(t, []string{"b", "a"}, r.Names())
}

func TestSnapshotUnaffectedByMutation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", constHandler("a")))
	require.NoError(t, r.Register("b", constHandler("b")))

	snap := r.snapshot()
	require.NoError(t, r.Register("c", constHandler("c")))
	require.NoError(t, r.Deregister("a"))

	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].name)
	assert.Equal(t, "b", snap[1].name)
}

func TestParseDuplicatePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    DuplicatePolicy
		wantErr bool
	}{
		{"", Shadow, false},
		{"shadow", Shadow, false},
		{"reject", Reject, false},
		{"replace", Shadow, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuplicatePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.in != "" {
				assert.Equal(t, tt.in, got.String())
			}
		})
	}
}
