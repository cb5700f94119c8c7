package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

var errNoConstructor = errors.New("codec: protobuf codec built without a message constructor")

// Protobuf encodes generated protobuf messages. Build it with NewProtobuf;
// the zero value fails every Decode.
type Protobuf[T proto.Message] struct {
	newMsg func() T // e.g. func() *mypb.User { return &mypb.User{} }

	// DiscardUnknown drops fields this binary does not know instead of
	// carrying them through a read-modify-write.
	DiscardUnknown bool
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{newMsg: ctor}
}

// Encode is deterministic so equal messages produce equal stored bytes.
func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	if c.newMsg == nil {
		var zero T
		return zero, errNoConstructor
	}
	m := c.newMsg()
	err := proto.UnmarshalOptions{DiscardUnknown: c.DiscardUnknown}.Unmarshal(b, m)
	return m, err
}
