// Package record reads and writes the flat table-row stream of a PLEXOS XML
// file: one root element carrying the namespace, then one `t_<table>` element
// per row whose children are column=text pairs.
package record

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"

	"plexdb/common"
)

// TablePrefix marks table-row elements.
const TablePrefix = "t_"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Character references ElementTree accepts but encoding/xml rejects.
var invalidChars = [][]byte{[]byte("&#x08;"), []byte("&#x8;")}

type Header struct {
	Root      string
	Namespace string
}

type Field struct {
	Name  string
	Value string
	// Nil is set when the element had no text at all.
	Nil bool
}

type Record struct {
	Table  string
	Fields []Field
}

func (r *Record) FieldNames() []string {
	ret := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		ret = append(ret, f.Name)
	}
	return ret
}

type Reader struct {
	dec       *xml.Decoder
	header    Header
	hasHeader bool
	done      bool
}

func NewReader(r io.Reader) *Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		br.Discard(len(utf8BOM))
	}
	return &Reader{dec: xml.NewDecoder(br)}
}

// StripInvalidChars reads all of r and drops character references that
// are not legal XML 1.0 characters.
func StripInvalidChars(r io.Reader) (io.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for _, c := range invalidChars {
		data = bytes.ReplaceAll(data, c, nil)
	}
	return bytes.NewReader(data), nil
}

func malformed(err error) error {
	return errors.Wrapf(common.ErrMalformedInput, "%v", err)
}

// Header returns the root element and its namespace, reading up to the root
// start tag on first use.
func (r *Reader) Header() (h Header, err error) {
	if r.hasHeader {
		return r.header, nil
	}
	for {
		var tok xml.Token
		tok, err = r.dec.Token()
		if err == io.EOF {
			err = errors.Wrap(common.ErrMalformedInput, "no root element")
			return
		}
		if err != nil {
			err = malformed(err)
			return
		}
		if se, ok := tok.(xml.StartElement); ok {
			r.header = Header{Root: se.Name.Local, Namespace: se.Name.Space}
			r.hasHeader = true
			return r.header, nil
		}
	}
}

// Next returns the next table row, or io.EOF after the root end tag.
func (r *Reader) Next() (rec *Record, err error) {
	if _, err = r.Header(); err != nil {
		return
	}
	if r.done {
		return nil, io.EOF
	}
	for {
		var tok xml.Token
		tok, err = r.dec.Token()
		if err == io.EOF {
			err = errors.Wrap(common.ErrMalformedInput, "unexpected end of input")
			return
		}
		if err != nil {
			err = malformed(err)
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !r.isTableRow(t.Name) {
				if err = r.dec.Skip(); err != nil {
					err = malformed(err)
					return
				}
				continue
			}
			return r.readRow(t)
		case xml.EndElement:
			r.done = true
			return nil, io.EOF
		}
	}
}

func (r *Reader) isTableRow(name xml.Name) bool {
	return name.Space == r.header.Namespace && strings.HasPrefix(name.Local, TablePrefix) &&
		len(name.Local) > len(TablePrefix)
}

func (r *Reader) readRow(start xml.StartElement) (rec *Record, err error) {
	rec = &Record{Table: start.Name.Local[len(TablePrefix):]}
	for {
		var tok xml.Token
		tok, err = r.dec.Token()
		if err != nil {
			err = malformed(err)
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var f Field
			f, err = r.readField(t)
			if err != nil {
				return nil, err
			}
			rec.Fields = append(rec.Fields, f)
		case xml.EndElement:
			return rec, nil
		}
	}
}

// readField keeps the text before the first child element, as the column
// value; nested elements are skipped.
func (r *Reader) readField(start xml.StartElement) (f Field, err error) {
	f = Field{Name: start.Name.Local, Nil: true}
	buf := &bytes.Buffer{}
	child := false
	for {
		var tok xml.Token
		tok, err = r.dec.Token()
		if err != nil {
			err = malformed(err)
			return
		}
		switch t := tok.(type) {
		case xml.CharData:
			if !child {
				buf.Write(t)
			}
		case xml.StartElement:
			child = true
			if err = r.dec.Skip(); err != nil {
				err = malformed(err)
				return
			}
		case xml.EndElement:
			if buf.Len() > 0 {
				f.Nil = false
				f.Value = buf.String()
			}
			return f, nil
		}
	}
}
