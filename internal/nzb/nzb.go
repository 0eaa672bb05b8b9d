package nzb

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// MetaTitle and MetaPassword are the meta types written by indexers and
// understood by every download client we push to.
const (
	MetaTitle    = "title"
	MetaPassword = "password"
)

const (
	xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>`
	doctype   = `<!DOCTYPE nzb PUBLIC "-//newzBin//DTD NZB 1.1//EN" "http://www.newzbin.com/DTD/nzb/nzb-1.1.dtd">`
	xmlns     = "http://www.newzbin.com/DTD/2003/nzb"
)

// ErrFormat indicates the input is not a well-formed NZB document.
var ErrFormat = fmt.Errorf("invalid NZB format")

// Document is a parsed NZB file
type Document struct {
	XMLName  xml.Name `xml:"nzb"`
	Head     *Head    `xml:"head"`
	Files    []File   `xml:"file"`
	Comments []string `xml:"-"` // document-level comments, written on serialize only
}

// Head holds the meta entries of an NZB document
type Head struct {
	Meta []Meta `xml:"meta"`
}

// Meta is a single typed head entry (title, password, category, ...)
type Meta struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// File is one posted file with its Usenet segments
type File struct {
	Poster   string    `xml:"poster,attr"`
	Date     int64     `xml:"date,attr"`
	Subject  string    `xml:"subject,attr"`
	Groups   []string  `xml:"groups>group"`
	Segments []Segment `xml:"segments>segment"`
}

// Segment is a single article of a file
type Segment struct {
	Bytes  int64  `xml:"bytes,attr"`
	Number int    `xml:"number,attr"`
	ID     string `xml:",chardata"`
}

// Parse decodes an NZB document, tolerating non-UTF8 charset declarations.
// The file list is normalized to be non-nil so callers can treat an empty
// document as "zero files" rather than a special case.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if doc.Files == nil {
		doc.Files = []File{}
	}
	return &doc, nil
}

// ParseString decodes an NZB document from a string.
func ParseString(text string) (*Document, error) {
	return Parse(strings.NewReader(text))
}

// MetaValue returns the value of the first head entry of the given type.
func (d *Document) MetaValue(metaType string) string {
	if d.Head == nil {
		return ""
	}
	for _, m := range d.Head.Meta {
		if strings.EqualFold(m.Type, metaType) {
			return strings.TrimSpace(m.Value)
		}
	}
	return ""
}

// SetMeta sets or replaces a head entry.
func (d *Document) SetMeta(metaType, value string) {
	if d.Head == nil {
		d.Head = &Head{}
	}
	for i := range d.Head.Meta {
		if strings.EqualFold(d.Head.Meta[i].Type, metaType) {
			d.Head.Meta[i].Value = value
			return
		}
	}
	d.Head.Meta = append(d.Head.Meta, Meta{Type: metaType, Value: value})
}

// AddComment records a document-level comment emitted on the next Serialize.
func (d *Document) AddComment(text string) {
	d.Comments = append(d.Comments, text)
}

// Serialize writes the document back to XML with the standard NZB preamble.
// With formatted=true the output is indented by indent per level.
func (d *Document) Serialize(formatted bool, indent string) (string, error) {
	// Wrapper carries the namespace attribute the decoder drops on parse.
	type serialized struct {
		XMLName xml.Name `xml:"nzb"`
		Xmlns   string   `xml:"xmlns,attr"`
		Head    *Head    `xml:"head"`
		Files   []File   `xml:"file"`
	}
	out := serialized{Xmlns: xmlns, Head: d.Head, Files: d.Files}

	var body []byte
	var err error
	if formatted {
		body, err = xml.MarshalIndent(out, "", indent)
	} else {
		body, err = xml.Marshal(out)
	}
	if err != nil {
		return "", fmt.Errorf("serializing NZB: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.WriteString("\n")
	buf.WriteString(doctype)
	buf.WriteString("\n")
	for _, c := range d.Comments {
		buf.WriteString("<!-- ")
		buf.WriteString(strings.ReplaceAll(c, "--", "- -"))
		buf.WriteString(" -->\n")
	}
	buf.Write(body)
	buf.WriteString("\n")
	return buf.String(), nil
}

// TotalSegments counts the segments across all files.
func (d *Document) TotalSegments() int {
	total := 0
	for _, f := range d.Files {
		total += len(f.Segments)
	}
	return total
}

// TotalSize returns the byte size of all segments.
func (d *Document) TotalSize() int64 {
	var total int64
	for _, f := range d.Files {
		for _, s := range f.Segments {
			total += s.Bytes
		}
	}
	return total
}
