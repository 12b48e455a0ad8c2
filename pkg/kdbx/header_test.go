package kdbx

import (
	"bytes"
	"errors"
	"testing"
)

func TestReadHeader_Valid(t *testing.T) {
	masterSeed := repeatByte(0x11, 32)
	transformSeed := repeatByte(0x22, 32)
	iv := repeatByte(0x33, 16)
	innerKey := repeatByte(0x44, 32)
	streamStart := repeatByte(0x55, 32)

	raw := buildHeaderBytes(CompressionGzip, masterSeed, transformSeed, 6000, iv, innerKey, streamStart)
	h, err := readHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("readHeader: %v", err)
	}
	if h.VersionMajor != 3 {
		t.Fatalf("VersionMajor = %d, want 3", h.VersionMajor)
	}
	if h.TransformRounds != 6000 {
		t.Fatalf("TransformRounds = %d, want 6000", h.TransformRounds)
	}
	if h.CompressionFlags != CompressionGzip {
		t.Fatalf("CompressionFlags = %v, want gzip", h.CompressionFlags)
	}
	if !bytes.Equal(h.Raw, raw) {
		t.Fatalf("Raw header bytes not captured verbatim")
	}
}

func TestReadHeader_BadSignature(t *testing.T) {
	_, err := readHeader(bytes.NewReader(make([]byte, 16)))
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestReadHeader_TruncatedInput(t *testing.T) {
	raw := buildHeaderBytes(CompressionNone, repeatByte(0x11, 32), repeatByte(0x22, 32), 1, repeatByte(0x33, 16), repeatByte(0x44, 32), repeatByte(0x55, 32))
	_, err := readHeader(bytes.NewReader(raw[:len(raw)-5]))
	if !errors.Is(err, ErrTruncatedInput) {
		t.Fatalf("err = %v, want ErrTruncatedInput", err)
	}
}

func TestReadHeader_MissingRequiredField(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(primarySignature[:])
	buf.Write(secondarySignature[:])
	writeU16LE(&buf, 1)
	writeU16LE(&buf, 3)
	writeField(&buf, fieldCipherID, cipherAES[:])
	writeField(&buf, fieldEndOfHeader, nil)

	_, err := readHeader(bytes.NewReader(buf.Bytes()))
	if !errors.Is(err, ErrMissingHeaderField) {
		t.Fatalf("err = %v, want ErrMissingHeaderField", err)
	}
}

func TestReadHeader_UnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(primarySignature[:])
	buf.Write(secondarySignature[:])
	writeU16LE(&buf, 0)
	writeU16LE(&buf, 4)

	_, err := readHeader(bytes.NewReader(buf.Bytes()))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("err = %v, want ErrUnsupportedVersion", err)
	}
}

func TestReadHeader_UnsupportedCipher(t *testing.T) {
	masterSeed := repeatByte(0x11, 32)
	transformSeed := repeatByte(0x22, 32)
	iv := repeatByte(0x33, 16)
	innerKey := repeatByte(0x44, 32)
	streamStart := repeatByte(0x55, 32)
	raw := buildHeaderBytes(CompressionNone, masterSeed, transformSeed, 1, iv, innerKey, streamStart)

	// Flip a byte inside the cipher_id field's value (field starts right
	// after the 12-byte signature+version preamble: id(1) + len(2)).
	mutated := append([]byte{}, raw...)
	mutated[12+3] ^= 0xFF

	_, err := readHeader(bytes.NewReader(mutated))
	if !errors.Is(err, ErrUnsupportedCipher) {
		t.Fatalf("err = %v, want ErrUnsupportedCipher", err)
	}
}
