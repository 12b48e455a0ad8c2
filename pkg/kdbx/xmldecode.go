package kdbx

import (
	"encoding/base64"
	"encoding/xml"
	"io"
	"strings"

	"github.com/google/uuid"
)

// decodeInnerXML parses the inner KDBX XML document into a Group tree
// rooted at /KeePassFile/Root/Group, driving cipher for every protected
// Value element in the exact document order the XML decoder encounters
// them (spec.md 4.E/4.F's central invariant).
func decodeInnerXML(data []byte, cipher *salsaStream) (*Group, error) {
	dec := xml.NewDecoder(newBytesReader(data))

	var root *Group
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newErr(KindMalformedXML, "reading inner XML", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "KeePassFile" {
			continue
		}
		root, err = findRootGroup(dec, start, cipher)
		if err != nil {
			return nil, err
		}
		break
	}
	if root == nil {
		return nil, newErr(KindMalformedXML, "no KeePassFile/Root/Group element found", nil)
	}
	// spec.md 4.F: the root group is synthesized with name "/"; whatever
	// Name element the XML carried for the top-level group is discarded.
	root.Name = "/"
	root.parent = nil
	linkParents(root)
	return root, nil
}

func newBytesReader(b []byte) io.Reader {
	return strings.NewReader(string(b))
}

// findRootGroup descends KeePassFile > Root > Group, parsing the first
// (and only) top-level Group as the tree root.
func findRootGroup(dec *xml.Decoder, keePassFileStart xml.StartElement, cipher *salsaStream) (*Group, error) {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, newErr(KindMalformedXML, "KeePassFile ended before Root", nil)
		}
		if err != nil {
			return nil, newErr(KindMalformedXML, "reading inner XML", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "Root" {
				return findGroupUnder(dec, t, cipher)
			}
			if err := dec.Skip(); err != nil {
				return nil, newErr(KindMalformedXML, "skipping unknown KeePassFile child", err)
			}
		case xml.EndElement:
			if t.Name.Local == keePassFileStart.Name.Local {
				return nil, newErr(KindMalformedXML, "Root element missing", nil)
			}
		}
	}
}

func findGroupUnder(dec *xml.Decoder, rootStart xml.StartElement, cipher *salsaStream) (*Group, error) {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, newErr(KindMalformedXML, "Root ended before Group", nil)
		}
		if err != nil {
			return nil, newErr(KindMalformedXML, "reading inner XML", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "Group" {
				return parseGroupElement(dec, t, cipher)
			}
			if err := dec.Skip(); err != nil {
				return nil, newErr(KindMalformedXML, "skipping unknown Root child", err)
			}
		case xml.EndElement:
			if t.Name.Local == rootStart.Name.Local {
				return nil, newErr(KindMalformedXML, "Group element missing under Root", nil)
			}
		}
	}
}

// parseGroupElement consumes tokens until start's matching EndElement,
// populating a *Group. Children (Group, Entry) are parsed recursively in
// the order they are encountered.
func parseGroupElement(dec *xml.Decoder, start xml.StartElement, cipher *salsaStream) (*Group, error) {
	g := &Group{}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, newErr(KindMalformedXML, "unexpected end of document inside Group", err)
		}
		if err != nil {
			return nil, newErr(KindMalformedXML, "reading inner XML", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Name":
				name, err := readChardata(dec, t)
				if err != nil {
					return nil, err
				}
				g.Name = name
			case "Notes":
				notes, err := readChardata(dec, t)
				if err != nil {
					return nil, err
				}
				g.Notes = notes
			case "UUID":
				u, err := readUUID(dec, t)
				if err != nil {
					return nil, err
				}
				g.UUID = u
			case "Group":
				child, err := parseGroupElement(dec, t, cipher)
				if err != nil {
					return nil, err
				}
				g.Groups = append(g.Groups, child)
			case "Entry":
				child, err := parseEntryElement(dec, t, cipher)
				if err != nil {
					return nil, err
				}
				g.Entries = append(g.Entries, child)
			default:
				if err := dec.Skip(); err != nil {
					return nil, newErr(KindMalformedXML, "skipping unknown Group child", err)
				}
			}
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return g, nil
			}
		}
	}
}

// parseEntryElement consumes tokens until start's matching EndElement,
// populating an *Entry. Protected String/Value elements are decrypted via
// cipher at the exact point they are encountered.
func parseEntryElement(dec *xml.Decoder, start xml.StartElement, cipher *salsaStream) (*Entry, error) {
	e := &Entry{}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, newErr(KindMalformedXML, "unexpected end of document inside Entry", err)
		}
		if err != nil {
			return nil, newErr(KindMalformedXML, "reading inner XML", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "UUID":
				u, err := readUUID(dec, t)
				if err != nil {
					return nil, err
				}
				e.UUID = u
			case "IconID":
				raw, err := readChardata(dec, t)
				if err != nil {
					return nil, err
				}
				e.IconID = parseIntSafe(raw)
			case "Tags":
				raw, err := readChardata(dec, t)
				if err != nil {
					return nil, err
				}
				e.Tags = splitTags(raw)
			case "String":
				key, value, err := parseStringElement(dec, t, cipher)
				if err != nil {
					return nil, err
				}
				e.setWellKnown(key, value)
			default:
				if err := dec.Skip(); err != nil {
					return nil, newErr(KindMalformedXML, "skipping unknown Entry child", err)
				}
			}
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return e, nil
			}
		}
	}
}

// parseStringElement parses a String{Key,Value} pair. If Value carries
// Protected="True" (case-sensitive, per spec.md 4.E), its text is
// base64-decoded and XORed against the next len(ciphertext) bytes of
// cipher's keystream; otherwise its text is the plaintext value verbatim.
func parseStringElement(dec *xml.Decoder, start xml.StartElement, cipher *salsaStream) (key, value string, err error) {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", "", newErr(KindMalformedXML, "unexpected end of document inside String", err)
		}
		if err != nil {
			return "", "", newErr(KindMalformedXML, "reading inner XML", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Key":
				k, err := readChardata(dec, t)
				if err != nil {
					return "", "", err
				}
				key = k
			case "Value":
				v, err := parseValueElement(dec, t, cipher)
				if err != nil {
					return "", "", err
				}
				value = v
			default:
				if err := dec.Skip(); err != nil {
					return "", "", newErr(KindMalformedXML, "skipping unknown String child", err)
				}
			}
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return key, value, nil
			}
		}
	}
}

func parseValueElement(dec *xml.Decoder, start xml.StartElement, cipher *salsaStream) (string, error) {
	protected := false
	for _, attr := range start.Attr {
		if attr.Name.Local == "Protected" && attr.Value == "True" {
			protected = true
		}
	}
	text, err := readChardata(dec, start)
	if err != nil {
		return "", err
	}
	if !protected {
		return text, nil
	}
	if text == "" {
		// Consumes zero keystream bytes, per spec.md 4.E.
		return "", nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return "", newErr(KindMalformedXML, "decoding base64 protected value", err)
	}
	if cipher == nil {
		return "", newErr(KindMalformedXML, "protected field present but no inner stream cipher configured", nil)
	}
	plain := cipher.xor(ciphertext)
	return string(plain), nil
}

// readChardata reads character data until start's matching EndElement,
// tolerating (and skipping) any nested elements by delegating to Skip.
func readChardata(dec *xml.Decoder, start xml.StartElement) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", newErr(KindMalformedXML, "unexpected end of document reading text", err)
		}
		if err != nil {
			return "", newErr(KindMalformedXML, "reading inner XML", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			if err := dec.Skip(); err != nil {
				return "", err
			}
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return sb.String(), nil
			}
		}
	}
}

func readUUID(dec *xml.Decoder, start xml.StartElement) (uuid.UUID, error) {
	text, err := readChardata(dec, start)
	if err != nil {
		return uuid.UUID{}, err
	}
	if text == "" {
		return uuid.UUID{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil || len(raw) != 16 {
		// Some third-party-authored files emit malformed UUIDs; spec.md
		// does not list this as fatal, so fall back to the zero UUID.
		return uuid.UUID{}, nil
	}
	u, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.UUID{}, nil
	}
	return u, nil
}

func parseIntSafe(s string) int64 {
	var n int64
	neg := false
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int64(r-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// linkParents sets the weak parent back-reference on every descendant of
// root, per spec.md §9's "weak, non-owning handle" design note.
func linkParents(root *Group) {
	var walk func(g *Group)
	walk = func(g *Group) {
		for _, child := range g.Groups {
			child.parent = g
			walk(child)
		}
		for _, e := range g.Entries {
			e.group = g
		}
	}
	walk(root)
}
