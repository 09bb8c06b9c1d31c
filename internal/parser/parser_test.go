package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"document-rag/internal/apperr"
	"document-rag/internal/testutil"
)

func TestParseFile_PDF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guide.pdf")
	testutil.WritePDF(t, path,
		[]string{"Retrieval augmented generation"},
		[]string{"Chromem stores vectors on disk"},
	)

	pages, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, 1, pages[0].PageNumber)
	assert.Contains(t, pages[0].Text, "Retrieval")
	assert.Equal(t, 2, pages[1].PageNumber)
	assert.Contains(t, pages[1].Text, "Chromem")
}

func TestParseFile_Text(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("  line one\r\nline two  \n"), 0o644))

	pages, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "line one\nline two", pages[0].Text)
}

func TestParseFile_EmptyTextDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank.txt")
	require.NoError(t, os.WriteFile(path, []byte(" \n\t"), 0o644))

	pages, err := ParseFile(path)
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestParseFile_Markdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readme.md")
	md := "# Title\n\nSome *emphasis* and a [link](http://x).\n\n```\ncode line\n```\n"
	require.NoError(t, os.WriteFile(path, []byte(md), 0o644))

	pages, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	text := pages[0].Text
	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "Some emphasis and a link.")
	assert.Contains(t, text, "code line")
	assert.NotContains(t, text, "#")
	assert.NotContains(t, text, "http://x")
}

func TestParseFile_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheet.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "value"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "alpha"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 42))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	pages, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Sheet: Sheet1\nname\tvalue\nalpha\t42", pages[0].Text)
}

func TestDocxPlainText(t *testing.T) {
	xml := `<w:document><w:body>` +
		`<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world &amp; more</w:t></w:r></w:p>` +
		`<w:p><w:r><w:rPr/></w:r></w:p>` +
		`<w:p><w:r><w:t>Second</w:t></w:r></w:p>` +
		`</w:body></w:document>`
	assert.Equal(t, "Hello world & more\nSecond\n", docxPlainText(xml))
}

func TestParseFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ParseFile(filepath.Join(dir, "missing.pdf"))
	assert.ErrorIs(t, err, apperr.ErrConfiguration)

	bad := filepath.Join(dir, "bad.pdf")
	require.NoError(t, os.WriteFile(bad, []byte("not a pdf"), 0o644))
	_, err = ParseFile(bad)
	assert.ErrorIs(t, err, apperr.ErrData)

	_, err = ParseFile(filepath.Join(dir, "image.png"))
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestFindDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub", "deeper"), 0o755))
	for _, name := range []string{"b.pdf", "a.pdf", "sub/c.pdf", "sub/deeper/d.pdf", "notes.txt", ".hidden.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	files, err := FindDocuments(dir, "**/*.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "sub/c.pdf", "sub/deeper/d.pdf"}, files)

	files, err = FindDocuments(dir, "*.{pdf,txt}")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "notes.txt"}, files)
}

func TestFindDocuments_BadRoot(t *testing.T) {
	_, err := FindDocuments(filepath.Join(t.TempDir(), "nope"), "**/*.pdf")
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.ErrorIs(t, err, apperr.ErrPathNotFound)

	file := filepath.Join(t.TempDir(), "file.pdf")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = FindDocuments(file, "**/*.pdf")
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestDirLoader_Load(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	testutil.WritePDF(t, filepath.Join(dir, "sub", "one.pdf"), []string{"Vector index persisted"})

	pages, docs, err := DirLoader{Glob: "**/*.pdf"}.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
	require.Len(t, pages, 1)
	assert.Equal(t, "sub/one.pdf", pages[0].SourceFilename)
	assert.Contains(t, pages[0].Text, "Vector")
}

func TestDirLoader_NoDocuments(t *testing.T) {
	_, _, err := DirLoader{Glob: "**/*.pdf"}.Load(t.TempDir())
	assert.ErrorIs(t, err, apperr.ErrData)
	assert.ErrorIs(t, err, apperr.ErrNoDocuments)
}
