package record

import (
	"bufio"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// Default header used when a store carries no metadata.
var DefaultHeader = Header{
	Root:      "MasterDataSet",
	Namespace: "http://tempuri.org/MasterDataSet.xsd",
}

const (
	crlf        = "\r\n"
	rowIndent   = "  "
	fieldIndent = "    "
)

// Writer emits rows in the layout PLEXOS tooling diffs against: UTF-8 BOM,
// CRLF line endings, rows indented by two spaces and fields by four.
type Writer struct {
	w      *bufio.Writer
	header Header
	err    error
}

func NewWriter(w io.Writer, h Header) *Writer {
	return &Writer{w: bufio.NewWriter(w), header: h}
}

func (w *Writer) writeString(s string) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.WriteString(s)
}

func (w *Writer) WriteHeader() error {
	if w.err == nil {
		_, w.err = w.w.Write(utf8BOM)
	}
	w.writeString("<" + w.header.Root + ` xmlns="` + w.header.Namespace + `">` + crlf)
	return errors.WithStack(w.err)
}

// WriteRecord writes one row. Fields must hold only set values; an empty
// value becomes a self-closing element.
func (w *Writer) WriteRecord(rec *Record) error {
	tag := TablePrefix + rec.Table
	w.writeString(rowIndent)
	if len(rec.Fields) == 0 {
		w.writeString("<" + tag + " />" + crlf)
		return errors.WithStack(w.err)
	}
	w.writeString("<" + tag + ">")
	for _, f := range rec.Fields {
		w.writeString(crlf + fieldIndent)
		if f.Value == "" {
			w.writeString("<" + f.Name + " />")
			continue
		}
		w.writeString("<" + f.Name + ">" + EscapeText(f.Value) + "</" + f.Name + ">")
	}
	w.writeString(crlf + rowIndent + "</" + tag + ">" + crlf)
	return errors.WithStack(w.err)
}

// Close writes the root end tag and flushes.
func (w *Writer) Close() error {
	w.writeString("</" + w.header.Root + ">" + crlf)
	if w.err == nil {
		w.err = w.w.Flush()
	}
	return errors.WithStack(w.err)
}

// EscapeText escapes &, < and > and writes every non-ASCII rune as a decimal
// character reference.
func EscapeText(s string) string {
	plain := true
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == '&' || c == '<' || c == '>' || c >= 0x80 {
			plain = false
			break
		}
	}
	if plain {
		return s
	}
	buf := make([]byte, 0, len(s)+16)
	for _, r := range s {
		switch {
		case r == '&':
			buf = append(buf, "&amp;"...)
		case r == '<':
			buf = append(buf, "&lt;"...)
		case r == '>':
			buf = append(buf, "&gt;"...)
		case r >= 0x80:
			buf = append(buf, "&#"...)
			buf = strconv.AppendInt(buf, int64(r), 10)
			buf = append(buf, ';')
		default:
			buf = append(buf, byte(r))
		}
	}
	return string(buf)
}
