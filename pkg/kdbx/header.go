package kdbx

import (
	"bytes"
	"encoding/binary"
	"io"
)

var (
	primarySignature   = [4]byte{0x9A, 0xA2, 0xD9, 0x03}
	secondarySignature = [4]byte{0x67, 0xFB, 0x4B, 0xB5}

	// cipherAES is the only CipherID this loader accepts (KDBX3.1, AES-256).
	cipherAES = [16]byte{
		0x31, 0xC1, 0xF2, 0xE6, 0xBF, 0x71, 0x43, 0x50,
		0xBE, 0x58, 0x05, 0x21, 0x6A, 0xFC, 0x5A, 0xFF,
	}
)

// innerStreamSalsa20 is the only InnerRandomStreamID this loader accepts.
const innerStreamSalsa20 uint32 = 2

// CompressionFlag enumerates the header's compression_flags field.
type CompressionFlag uint32

const (
	CompressionNone CompressionFlag = 0
	CompressionGzip CompressionFlag = 1
)

// header holds every KDBX3.1 TLV header field consumed by the loader, plus
// the raw bytes of the header section (signature through terminator
// inclusive) for callers that need them as HMAC/hash input.
type header struct {
	VersionMinor uint16
	VersionMajor uint16

	CipherID             []byte
	CompressionFlags     CompressionFlag
	MasterSeed           []byte
	TransformSeed        []byte
	TransformRounds      uint64
	EncryptionIV         []byte
	InnerRandomStreamKey []byte
	StreamStartBytes     []byte
	InnerRandomStreamID  uint32

	Raw []byte

	seen map[uint8]bool
}

const (
	fieldEndOfHeader         uint8 = 0
	fieldCipherID            uint8 = 2
	fieldCompressionFlags    uint8 = 3
	fieldMasterSeed          uint8 = 4
	fieldTransformSeed       uint8 = 5
	fieldTransformRounds     uint8 = 6
	fieldEncryptionIV        uint8 = 7
	fieldInnerRandomStreamKey uint8 = 8
	fieldStreamStartBytes    uint8 = 9
	fieldInnerRandomStreamID uint8 = 10
)

// requiredFields lists every TLV that must be present before the header
// terminator. A field that appears more than once is not rejected; its last
// value is kept.
var requiredFields = []uint8{
	fieldCipherID,
	fieldCompressionFlags,
	fieldMasterSeed,
	fieldTransformSeed,
	fieldTransformRounds,
	fieldEncryptionIV,
	fieldInnerRandomStreamKey,
	fieldStreamStartBytes,
	fieldInnerRandomStreamID,
}

// readHeader reads the kdbx signature, version, and TLV fields from r,
// returning the populated header. r's position after return is exactly the
// first byte of outer ciphertext.
func readHeader(r io.Reader) (*header, error) {
	var rawBuf bytes.Buffer
	tee := io.TeeReader(r, &rawBuf)
	br := newByteReader(tee)

	magic, err := br.readExact(8)
	if err != nil {
		return nil, newErr(KindTruncatedInput, "reading signature", err)
	}
	if !bytes.Equal(magic[0:4], primarySignature[:]) || !bytes.Equal(magic[4:8], secondarySignature[:]) {
		return nil, newErr(KindBadSignature, "file does not begin with the KDBX signature", nil)
	}

	h := &header{seen: map[uint8]bool{}}

	h.VersionMinor, err = br.readU16LE()
	if err != nil {
		return nil, newErr(KindTruncatedInput, "reading version_minor", err)
	}
	h.VersionMajor, err = br.readU16LE()
	if err != nil {
		return nil, newErr(KindTruncatedInput, "reading version_major", err)
	}
	if h.VersionMajor != 3 {
		return nil, newErr(KindUnsupportedVersion, "only KDBX3.1 (major version 3) is supported", nil)
	}

	for {
		done, err := h.readField(br)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}

	if err := h.checkRequired(); err != nil {
		return nil, err
	}
	if !bytes.Equal(h.CipherID, cipherAES[:]) {
		return nil, newErr(KindUnsupportedCipher, "cipher_id is not AES-256", nil)
	}
	if h.InnerRandomStreamID != innerStreamSalsa20 {
		return nil, newErr(KindUnsupportedInnerStream, "inner_random_stream_id is not Salsa20", nil)
	}

	h.Raw = rawBuf.Bytes()
	return h, nil
}

// readField reads a single TLV triple and dispatches on field_id. It
// returns done=true once the terminator (field_id 0) has been consumed.
func (h *header) readField(br *byteReader) (done bool, err error) {
	id, err := br.readU8()
	if err != nil {
		return false, newErr(KindTruncatedInput, "reading field_id", err)
	}
	length, err := br.readU16LE()
	if err != nil {
		return false, newErr(KindTruncatedInput, "reading field length", err)
	}
	value, err := br.readExact(int(length))
	if err != nil {
		return false, newErr(KindTruncatedInput, "reading field value", err)
	}

	if id == fieldEndOfHeader {
		return true, nil
	}
	h.seen[id] = true

	switch id {
	case fieldCipherID:
		h.CipherID = value
	case fieldCompressionFlags:
		if len(value) != 4 {
			return false, newErr(KindTruncatedInput, "compression_flags must be 4 bytes", nil)
		}
		h.CompressionFlags = CompressionFlag(binary.LittleEndian.Uint32(value))
	case fieldMasterSeed:
		h.MasterSeed = value
	case fieldTransformSeed:
		h.TransformSeed = value
	case fieldTransformRounds:
		if len(value) != 8 {
			return false, newErr(KindTruncatedInput, "transform_rounds must be 8 bytes", nil)
		}
		h.TransformRounds = binary.LittleEndian.Uint64(value)
	case fieldEncryptionIV:
		h.EncryptionIV = value
	case fieldInnerRandomStreamKey:
		h.InnerRandomStreamKey = value
	case fieldStreamStartBytes:
		h.StreamStartBytes = value
	case fieldInnerRandomStreamID:
		if len(value) != 4 {
			return false, newErr(KindTruncatedInput, "inner_random_stream_id must be 4 bytes", nil)
		}
		h.InnerRandomStreamID = binary.LittleEndian.Uint32(value)
	default:
		// Unknown ids are ignored, but their bytes have already been
		// consumed above.
	}
	return false, nil
}

func (h *header) checkRequired() error {
	for _, id := range requiredFields {
		if !h.seen[id] {
			return newErr(KindMissingHeaderField, fieldName(id), nil)
		}
	}
	return nil
}

func fieldName(id uint8) string {
	switch id {
	case fieldCipherID:
		return "cipher_id"
	case fieldCompressionFlags:
		return "compression_flags"
	case fieldMasterSeed:
		return "master_seed"
	case fieldTransformSeed:
		return "transform_seed"
	case fieldTransformRounds:
		return "transform_rounds"
	case fieldEncryptionIV:
		return "encryption_iv"
	case fieldInnerRandomStreamKey:
		return "inner_random_stream_key"
	case fieldStreamStartBytes:
		return "stream_start_bytes"
	case fieldInnerRandomStreamID:
		return "inner_random_stream_id"
	default:
		return "unknown"
	}
}
