// Package codec (de)serializes cached values. The orchestrator stores
// Encode's bytes verbatim and treats Decode failures as corruption
// (self-heal delete + miss), so codecs must round-trip exactly.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
