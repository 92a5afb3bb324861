// Package codec provides pluggable (de)serialization for cached values.
// The cache stores exactly the bytes a codec produces; entries carry no
// framing of their own, so other consumers of the shared namespace can
// decode them with the same codec.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
