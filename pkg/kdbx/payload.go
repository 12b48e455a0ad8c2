package kdbx

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"io"
)

// decryptPayload implements spec.md 4.D: AES-256-CBC decrypt, verify
// stream_start_bytes, then unpack the hashed block stream into the inner
// (possibly gzipped) XML document.
func decryptPayload(ciphertext []byte, h *header, masterKey []byte) ([]byte, error) {
	plaintext, err := aesCBCDecrypt(ciphertext, masterKey, h.EncryptionIV)
	if err != nil {
		return nil, newErr(KindInvalidPassword, "AES-CBC decryption failed", err)
	}

	if len(plaintext) < len(h.StreamStartBytes) {
		return nil, newErr(KindInvalidPassword, "decrypted payload shorter than stream_start_bytes", nil)
	}
	if subtle.ConstantTimeCompare(plaintext[:len(h.StreamStartBytes)], h.StreamStartBytes) != 1 {
		return nil, newErr(KindInvalidPassword, "stream_start_bytes mismatch", nil)
	}
	blockStream := plaintext[len(h.StreamStartBytes):]

	inner, err := unpackBlocks(blockStream)
	if err != nil {
		return nil, err
	}

	if h.CompressionFlags == CompressionGzip {
		inner, err = gunzip(inner)
		if err != nil {
			return nil, newErr(KindCorruptPayload, "gunzip of inner payload failed", err)
		}
	}
	return inner, nil
}

// aesCBCDecrypt decrypts data with AES-256-CBC and strips PKCS#7 padding.
func aesCBCDecrypt(data, key, iv []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, newErr(KindInvalidPassword, "ciphertext is not a multiple of the AES block size", nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	return stripPKCS7(out)
}

func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, newErr(KindInvalidPassword, "empty plaintext, cannot unpad", nil)
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, newErr(KindInvalidPassword, "invalid PKCS#7 padding length", nil)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, newErr(KindInvalidPassword, "invalid PKCS#7 padding bytes", nil)
		}
	}
	return data[:len(data)-padLen], nil
}

// unpackBlocks reassembles the hashed block stream described by spec.md
// 4.D step 3: index (u32 LE), hash (32 bytes), size (u32 LE), data.
// Termination is a zero-size block whose hash is all zeros.
func unpackBlocks(data []byte) ([]byte, error) {
	var out bytes.Buffer
	off := 0
	expectedIndex := uint32(0)

	for {
		if off+4+32+4 > len(data) {
			return nil, newErr(KindCorruptPayload, "truncated block header", nil)
		}
		index := binary.LittleEndian.Uint32(data[off:])
		off += 4
		hash := data[off : off+32]
		off += 32
		size := binary.LittleEndian.Uint32(data[off:])
		off += 4

		if index != expectedIndex {
			return nil, newErr(KindCorruptPayload, "block index is not monotonic", nil)
		}

		if size == 0 {
			if !allZero(hash) {
				return nil, newErr(KindCorruptPayload, "terminator block hash is not all zero", nil)
			}
			break
		}

		if off+int(size) > len(data) {
			return nil, newErr(KindCorruptPayload, "block data exceeds available bytes", nil)
		}
		blockData := data[off : off+int(size)]
		off += int(size)

		sum := sha256.Sum256(blockData)
		if subtle.ConstantTimeCompare(sum[:], hash) != 1 {
			return nil, newErr(KindCorruptPayload, "block hash mismatch", nil)
		}

		out.Write(blockData)
		expectedIndex++
	}
	return out.Bytes(), nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
