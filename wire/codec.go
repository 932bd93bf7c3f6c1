package wire

// BinaryMarshalerTo writes a value's wire representation into b,
// returning the number of bytes written. Mirrors the teacher's
// BinaryMarshalerTo interface: it lets a caller reuse one buffer
// across many encode calls instead of allocating per message.
type BinaryMarshalerTo interface {
	MarshalBinaryTo(b []byte) (int, error)
}

// BinaryUnmarshaler decodes a value from its wire representation.
type BinaryUnmarshaler interface {
	UnmarshalBinary(b []byte) error
}

// Len reports how many bytes a fixed-size record occupies on the wire.
type Len interface {
	Len() int
}

// Bytes allocates a buffer sized to p and encodes p into it.
func Bytes(p interface {
	BinaryMarshalerTo
	Len
}) ([]byte, error) {
	buf := make([]byte, p.Len())
	n, err := p.MarshalBinaryTo(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// FromBytes decodes raw bytes into p.
func FromBytes(raw []byte, p BinaryUnmarshaler) error {
	return p.UnmarshalBinary(raw)
}
