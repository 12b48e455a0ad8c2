// Package kdbx implements a read-only loader for KeePass KDBX3.1 password
// databases: header parsing, key derivation, payload decryption, inner
// protected-field decryption, and an in-memory Group/Entry tree.
package kdbx

import (
	"io"
	"os"

	"github.com/kdbxwalk/kdbxwalk/pkg/export"
)

// Database is a decrypted, in-memory KDBX3.1 document. It is immutable once
// returned by Open; there is no Save/Write path, per spec.md's Non-goals.
type Database struct {
	root     *Group
	innerXML []byte
}

// Root returns the database's root group.
func (db *Database) Root() *Group {
	return db.root
}

// InnerXML returns the decrypted inner XML document exactly as reconstructed
// from the block stream, before Component E is applied: protected fields
// remain base64 Salsa20-ciphertext with Protected="True", per spec.md 4.H's
// resolved export-fidelity question. It is used by pkg/export and is not
// meant for direct consumption otherwise.
func (db *Database) InnerXML() []byte {
	return db.innerXML
}

// Export writes db's inner XML document to targetPath in the given format
// ("xml" or "gzip"), per spec.md §6's Database.export.
func (db *Database) Export(targetPath string, format export.Format) error {
	return export.To(db, targetPath, format)
}

// Close releases db's in-memory state. The tree and any strings derived
// from it remain valid for as long as the caller holds references to them;
// Close exists for symmetry with Open and to signal end-of-use to callers
// that pool Database handles.
func (db *Database) Close() {
	db.root = nil
	zeroize(db.innerXML)
	db.innerXML = nil
}

// Open reads, authenticates, and decrypts the KDBX3.1 database at path using
// creds, returning its tree on success. Every Kind-tagged error in errors.go
// can be returned; see spec.md §7 for the full table.
func Open(path string, creds Credentials) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newErr(KindTruncatedInput, "opening database file", err)
	}
	defer f.Close()
	return Decode(f, creds)
}

// Decode runs the full pipeline (header -> key derivation -> payload
// decryption -> inner XML decode) over r. It is the streaming counterpart of
// Open, used directly by tests and by callers that already hold an
// io.Reader.
func Decode(r io.Reader, creds Credentials) (*Database, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	ciphertext, err := io.ReadAll(r)
	if err != nil {
		return nil, newErr(KindTruncatedInput, "reading outer ciphertext", err)
	}

	mk, err := deriveMasterKey(creds, h)
	if err != nil {
		return nil, err
	}
	defer zeroize(mk)

	inner, err := decryptPayload(ciphertext, h, mk)
	if err != nil {
		return nil, err
	}

	cipher := newSalsaStream(h.InnerRandomStreamKey)
	root, err := decodeInnerXML(inner, cipher)
	if err != nil {
		return nil, err
	}

	return &Database{root: root, innerXML: inner}, nil
}
