package ingest

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docxArchive(t *testing.T, documentXML string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

const docxHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

func TestDOCX(t *testing.T) {
	r := docxArchive(t, docxHeader+
		`<w:p><w:r><w:t>first paragraph</w:t></w:r></w:p>`+
		`<w:p><w:r><w:t>split </w:t></w:r><w:r><w:t>run</w:t></w:r></w:p>`+
		`<w:p></w:p>`+
		`<w:p><w:r><w:t>今天天气很好</w:t></w:r></w:p>`+
		`</w:body></w:document>`)

	s, err := DOCX(r, r.Size())
	require.NoError(t, err)
	lines := drain(t, s)
	require.Len(t, lines, 3)
	assert.Equal(t, "first paragraph", lines[0].Text)
	assert.Equal(t, "split run", lines[1].Text)
	assert.Equal(t, "今天天气很好", lines[2].Text)
	for i, ln := range lines {
		assert.Equal(t, uint32(1), ln.Page)
		assert.Equal(t, uint32(i+1), ln.LineNo)
	}
}

func TestDOCXPageBreaks(t *testing.T) {
	r := docxArchive(t, docxHeader+
		`<w:p><w:r><w:t>page one</w:t></w:r></w:p>`+
		`<w:p><w:r><w:br w:type="page"/><w:t>still flushed on page one</w:t></w:r></w:p>`+
		`<w:p><w:r><w:lastRenderedPageBreak/><w:t>page two</w:t></w:r></w:p>`+
		`<w:p><w:r><w:t>page three</w:t></w:r></w:p>`+
		`</w:body></w:document>`)

	s, err := DOCX(r, r.Size())
	require.NoError(t, err)
	lines := drain(t, s)
	require.Len(t, lines, 4)
	assert.Equal(t, uint32(1), lines[0].Page)
	assert.Equal(t, uint32(1), lines[1].Page)
	assert.Equal(t, uint32(2), lines[2].Page)
	assert.Equal(t, uint32(3), lines[3].Page)
	assert.Equal(t, uint32(1), lines[2].LineNo)
	assert.Equal(t, uint32(1), lines[3].LineNo)
}

func TestDOCXNotAZip(t *testing.T) {
	_, err := DOCX(bytes.NewReader([]byte("nope")), 4)
	assert.Error(t, err)
}

func TestDOCXMissingDocument(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("unrelated.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	r := bytes.NewReader(buf.Bytes())
	_, err = DOCX(r, r.Size())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "word/document.xml")
}
