package record

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plexdb/common"
)

const sample = "\xEF\xBB\xBF<MasterDataSet xmlns=\"http://tempuri.org/MasterDataSet.xsd\">\r\n" +
	"  <t_class>\r\n    <class_id>1</class_id>\r\n    <name>System</name>\r\n  </t_class>\r\n" +
	"  <other>\r\n    <x>1</x>\r\n  </other>\r\n" +
	"  <t_object>\r\n    <object_id>1</object_id>\r\n    <description />\r\n    <name>a &amp; b</name>\r\n  </t_object>\r\n" +
	"</MasterDataSet>\r\n"

func readAll(t *testing.T, r *Reader) []*Record {
	t.Helper()
	ret := []*Record{}
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return ret
		}
		require.NoError(t, err)
		ret = append(ret, rec)
	}
}

func TestReader(t *testing.T) {
	t.Run("Test Header And Rows", func(t *testing.T) {
		r := NewReader(strings.NewReader(sample))
		h, err := r.Header()
		require.NoError(t, err)
		assert.Equal(t, DefaultHeader, h)

		recs := readAll(t, r)
		require.Len(t, recs, 2)
		assert.Equal(t, "class", recs[0].Table)
		assert.Equal(t, []string{"class_id", "name"}, recs[0].FieldNames())
		assert.Equal(t, "System", recs[0].Fields[1].Value)

		assert.Equal(t, "object", recs[1].Table)
		assert.Equal(t, Field{Name: "description", Nil: true}, recs[1].Fields[1])
		assert.Equal(t, "a & b", recs[1].Fields[2].Value)
	})

	t.Run("Test Malformed", func(t *testing.T) {
		r := NewReader(strings.NewReader(`<Root xmlns="ns"><t_a><b>1</b></t_a>`))
		_, err := r.Next()
		require.NoError(t, err)
		_, err = r.Next()
		assert.True(t, errors.Is(err, common.ErrMalformedInput))

		_, err = NewReader(strings.NewReader("")).Header()
		assert.True(t, errors.Is(err, common.ErrMalformedInput))
	})

	t.Run("Test Strip Invalid Chars", func(t *testing.T) {
		in := `<Root xmlns="ns"><t_a><b>x&#x08;y</b></t_a></Root>`
		_, err := NewReader(strings.NewReader(in)).Next()
		assert.Error(t, err)

		stripped, err := StripInvalidChars(strings.NewReader(in))
		require.NoError(t, err)
		recs := readAll(t, NewReader(stripped))
		require.Len(t, recs, 1)
		assert.Equal(t, "xy", recs[0].Fields[0].Value)
	})
}

func TestWriter(t *testing.T) {
	t.Run("Test Layout", func(t *testing.T) {
		buf := &bytes.Buffer{}
		w := NewWriter(buf, DefaultHeader)
		require.NoError(t, w.WriteHeader())
		require.NoError(t, w.WriteRecord(&Record{Table: "class", Fields: []Field{
			{Name: "class_id", Value: "1"},
			{Name: "name", Value: "System"},
		}}))
		require.NoError(t, w.WriteRecord(&Record{Table: "object", Fields: []Field{
			{Name: "object_id", Value: "1"},
			{Name: "description", Value: ""},
			{Name: "name", Value: "a & b"},
		}}))
		require.NoError(t, w.Close())
		expected := "\xEF\xBB\xBF<MasterDataSet xmlns=\"http://tempuri.org/MasterDataSet.xsd\">\r\n" +
			"  <t_class>\r\n    <class_id>1</class_id>\r\n    <name>System</name>\r\n  </t_class>\r\n" +
			"  <t_object>\r\n    <object_id>1</object_id>\r\n    <description />\r\n    <name>a &amp; b</name>\r\n  </t_object>\r\n" +
			"</MasterDataSet>\r\n"
		assert.Equal(t, expected, buf.String())
	})

	t.Run("Test Empty Row", func(t *testing.T) {
		buf := &bytes.Buffer{}
		w := NewWriter(buf, Header{Root: "R", Namespace: "ns"})
		require.NoError(t, w.WriteRecord(&Record{Table: "x"}))
		require.NoError(t, w.Close())
		assert.Equal(t, "  <t_x />\r\n</R>\r\n", buf.String())
	})

	t.Run("Test Escape", func(t *testing.T) {
		assert.Equal(t, "plain", EscapeText("plain"))
		assert.Equal(t, "&lt;a&gt; &amp; caf&#233;", EscapeText("<a> & café"))
	})
}
