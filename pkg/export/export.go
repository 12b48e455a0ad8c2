// Package export implements the database Export sink: writing a decrypted
// database's inner XML document to disk, plain or gzip-compressed, with an
// atomic write so a crash or concurrent read never observes a partial file.
package export

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"path/filepath"

	"github.com/kdbxwalk/kdbxwalk/pkg/utils"
)

// Format selects the on-disk encoding of the exported document.
type Format string

const (
	FormatXML  Format = "xml"
	FormatGzip Format = "gzip"
)

// innerXML is the subset of *kdbx.Database this package depends on, kept
// narrow so export doesn't need to import kdbx's internals beyond the one
// accessor it actually uses.
type innerXML interface {
	InnerXML() []byte
}

// To writes db's inner XML document to targetPath in the given format,
// atomically. Protected fields in the written document remain ciphertext,
// per spec.md 4.H: export reproduces the inner document exactly as
// reconstructed from the block stream, before the protected-field cipher is
// applied.
func To(db innerXML, targetPath string, format Format) error {
	content := db.InnerXML()

	var payload []byte
	switch format {
	case FormatXML:
		payload = content
	case FormatGzip:
		compressed, err := gzipBytes(content)
		if err != nil {
			return fmt.Errorf("export: gzipping inner XML: %w", err)
		}
		payload = compressed
	default:
		return fmt.Errorf("export: unknown format %q", format)
	}

	dir := filepath.Dir(targetPath)
	name := filepath.Base(targetPath)
	return utils.WriteFileAtomic(name, dir, payload)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
