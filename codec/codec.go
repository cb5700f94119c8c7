// Package codec converts application values to and from the byte payloads
// stored by kvcache backends.
//
// Decode failures are reported, never swallowed: kvcache.Typed turns them
// into *kvcache.DecodeError so callers can tell "absent" from "unreadable".
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
