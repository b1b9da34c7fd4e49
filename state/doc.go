// Package state provides the shared context value handed to every
// procedure call: a key/value store whose values are kept CBOR-encoded.
//
// The store can be saved to and loaded from a snapshot file. When a Sealer
// is supplied the snapshot is encrypted and authenticated with
// XChaCha20-Poly1305.
package state
