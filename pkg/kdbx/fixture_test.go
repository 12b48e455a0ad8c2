package kdbx

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// fixtureEntry is a minimal entry description used to build a synthetic
// KDBX3.1 file for tests; it mirrors the well-known String keys decodeInnerXML
// understands.
type fixtureEntry struct {
	Title, Username, Password, URL, Notes string
}

// fixtureOptions controls the header fields and compression of a built
// fixture.
type fixtureOptions struct {
	Passphrase      string
	Rounds          uint64
	Compress        bool
	Entries         []fixtureEntry
	GroupName       string
	CorruptLastByte bool
}

// buildFixture assembles a complete, well-formed (unless CorruptLastByte is
// set) KDBX3.1 file byte-for-byte per spec.md §6, using this package's own
// primitives (compositeKey/transformKey/masterKey/newSalsaStream) so the
// fixture is decodable by Decode under matching credentials.
func buildFixture(opts fixtureOptions) []byte {
	masterSeed := repeatByte(0x11, 32)
	transformSeed := repeatByte(0x22, 32)
	encryptionIV := repeatByte(0x33, 16)
	innerKey := repeatByte(0x44, 32)
	streamStart := repeatByte(0x55, 32)

	rounds := opts.Rounds
	if rounds == 0 {
		rounds = 4
	}

	groupName := opts.GroupName
	if groupName == "" {
		groupName = "General"
	}

	cipherStream := newSalsaStream(innerKey)
	innerXML := buildInnerXML(cipherStream, groupName, opts.Entries)

	compressionFlag := CompressionNone
	payload := innerXML
	if opts.Compress {
		compressionFlag = CompressionGzip
		payload = mustGzip(innerXML)
	}

	header := buildHeaderBytes(compressionFlag, masterSeed, transformSeed, rounds, encryptionIV, innerKey, streamStart)

	creds := Credentials{Passphrase: opts.Passphrase}
	comp, err := compositeKey(creds)
	if err != nil {
		panic(err)
	}
	transformed, err := transformKey(comp, transformSeed, rounds)
	if err != nil {
		panic(err)
	}
	mk := masterKey(masterSeed, transformed)

	blockStream := buildBlockStream(payload)
	plaintext := append(append([]byte{}, streamStart...), blockStream...)
	ciphertext := aesCBCEncrypt(plaintext, mk, encryptionIV)

	if opts.CorruptLastByte {
		ciphertext[len(ciphertext)-1] ^= 0x01
	}

	return append(header, ciphertext...)
}

func buildHeaderBytes(compression CompressionFlag, masterSeed, transformSeed []byte, rounds uint64, iv, innerKey, streamStart []byte) []byte {
	var buf bytes.Buffer
	buf.Write(primarySignature[:])
	buf.Write(secondarySignature[:])
	writeU16LE(&buf, 1)
	writeU16LE(&buf, 3)

	writeField(&buf, fieldCipherID, cipherAES[:])
	compBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(compBytes, uint32(compression))
	writeField(&buf, fieldCompressionFlags, compBytes)
	writeField(&buf, fieldMasterSeed, masterSeed)
	writeField(&buf, fieldTransformSeed, transformSeed)
	roundsBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(roundsBytes, rounds)
	writeField(&buf, fieldTransformRounds, roundsBytes)
	writeField(&buf, fieldEncryptionIV, iv)
	writeField(&buf, fieldInnerRandomStreamKey, innerKey)
	writeField(&buf, fieldStreamStartBytes, streamStart)
	streamIDBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(streamIDBytes, innerStreamSalsa20)
	writeField(&buf, fieldInnerRandomStreamID, streamIDBytes)
	writeField(&buf, fieldEndOfHeader, nil)

	return buf.Bytes()
}

func writeField(buf *bytes.Buffer, id uint8, value []byte) {
	buf.WriteByte(id)
	length := make([]byte, 2)
	binary.LittleEndian.PutUint16(length, uint16(len(value)))
	buf.Write(length)
	buf.Write(value)
}

func writeU16LE(buf *bytes.Buffer, v uint16) {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	buf.Write(b)
}

// buildInnerXML renders a root group holding a single child group named
// groupName with the given entries, encrypting each protected field
// (Password) in document order against cipher.
func buildInnerXML(cipher *salsaStream, groupName string, entries []fixtureEntry) []byte {
	var sb bytes.Buffer
	sb.WriteString("<KeePassFile><Root><Group>")
	sb.WriteString("<UUID>" + fixtureUUID(0) + "</UUID>")
	sb.WriteString("<Name>Root</Name>")
	sb.WriteString("<Group>")
	sb.WriteString("<UUID>" + fixtureUUID(1) + "</UUID>")
	sb.WriteString("<Name>" + groupName + "</Name>")
	sb.WriteString("<Notes></Notes>")
	for i, e := range entries {
		sb.WriteString("<Entry>")
		sb.WriteString("<UUID>" + fixtureUUID(byte(2+i)) + "</UUID>")
		sb.WriteString(stringElem("Title", e.Title, false, cipher))
		sb.WriteString(stringElem("UserName", e.Username, false, cipher))
		sb.WriteString(stringElem("Password", e.Password, true, cipher))
		sb.WriteString(stringElem("URL", e.URL, false, cipher))
		sb.WriteString(stringElem("Notes", e.Notes, false, cipher))
		sb.WriteString("</Entry>")
	}
	sb.WriteString("</Group></Group></Root></KeePassFile>")
	return sb.Bytes()
}

func stringElem(key, value string, protected bool, cipher *salsaStream) string {
	if !protected {
		return fmt.Sprintf("<String><Key>%s</Key><Value>%s</Value></String>", key, value)
	}
	ciphertext := cipher.xor([]byte(value))
	encoded := base64.StdEncoding.EncodeToString(ciphertext)
	return fmt.Sprintf(`<String><Key>%s</Key><Value Protected="True">%s</Value></String>`, key, encoded)
}

func fixtureUUID(b byte) string {
	raw := repeatByte(b, 16)
	return base64.StdEncoding.EncodeToString(raw)
}

func buildBlockStream(payload []byte) []byte {
	var buf bytes.Buffer
	sum := sha256.Sum256(payload)
	writeU32LE(&buf, 0)
	buf.Write(sum[:])
	writeU32LE(&buf, uint32(len(payload)))
	buf.Write(payload)

	writeU32LE(&buf, 1)
	buf.Write(make([]byte, 32))
	writeU32LE(&buf, 0)
	return buf.Bytes()
}

func writeU32LE(buf *bytes.Buffer, v uint32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	buf.Write(b)
}

func aesCBCEncrypt(data, key, iv []byte) []byte {
	padded := padPKCS7(data, aes.BlockSize)
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

func padPKCS7(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func mustGzip(data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func repeatByte(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
