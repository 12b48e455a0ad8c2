package kdbx

import (
	"encoding/binary"
	"io"
)

// byteReader is a position-tracked, endian-aware sequential reader over an
// io.Reader. It never seeks; the header parser recovers the exact bytes it
// consumed by wrapping the source in an io.TeeReader before reading.
type byteReader struct {
	r   io.Reader
	pos int64
}

func newByteReader(r io.Reader) *byteReader {
	return &byteReader{r: r}
}

func (b *byteReader) readExact(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return nil, newErr(KindTruncatedInput, "short read", err)
	}
	b.pos += int64(n)
	return buf, nil
}

func (b *byteReader) readU8() (uint8, error) {
	buf, err := b.readExact(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *byteReader) readU16LE() (uint16, error) {
	buf, err := b.readExact(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

