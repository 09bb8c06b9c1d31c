package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"document-rag/internal/apperr"
	"document-rag/internal/models"
)

const defaultPageNumber = 1

var (
	docxParagraphRe = regexp.MustCompile(`</w:p>`)
	docxTextRe      = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	xmlTagRe        = regexp.MustCompile(`<[^>]+>`)
)

// Loader turns the files under a root directory into pages of plain text.
type Loader interface {
	Load(root string) ([]models.Page, int, error)
}

// DirLoader loads every file under root matching Glob.
type DirLoader struct {
	Glob string
}

// FindDocuments returns the files under root matching glob, relative to root and sorted.
func FindDocuments(root, glob string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.Config("find documents", fmt.Errorf("%s: %w", root, apperr.ErrPathNotFound))
		}
		return nil, apperr.Config("find documents", err)
	}
	if !info.IsDir() {
		return nil, apperr.Config("find documents", fmt.Errorf("%s is not a directory", root))
	}

	matches, err := doublestar.Glob(os.DirFS(root), glob, doublestar.WithFilesOnly())
	if err != nil {
		return nil, apperr.Config("find documents", fmt.Errorf("glob %q: %w", glob, err))
	}

	files := matches[:0]
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), ".") {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}

// Load reads every matching document. It returns the pages and the number of
// documents read. No documents is a data error.
func (l DirLoader) Load(root string) ([]models.Page, int, error) {
	files, err := FindDocuments(root, l.Glob)
	if err != nil {
		return nil, 0, err
	}
	if len(files) == 0 {
		return nil, 0, apperr.Data("load documents", fmt.Errorf("%w in %s matching %q", apperr.ErrNoDocuments, root, l.Glob))
	}

	var pages []models.Page
	for _, rel := range files {
		filePages, err := ParseFile(filepath.Join(root, rel))
		if err != nil {
			return nil, 0, err
		}
		for i := range filePages {
			filePages[i].SourceFilename = filepath.ToSlash(rel)
		}
		log.Debug().Str("file", rel).Int("pages", len(filePages)).Msg("Parsed document")
		pages = append(pages, filePages...)
	}
	return pages, len(files), nil
}

// ParseFile extracts the text of one file, one page per PDF page or sheet.
// Pages without text are dropped.
func ParseFile(filePath string) ([]models.Page, error) {
	var (
		pages []models.Page
		err   error
	)
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		pages, err = parsePDF(filePath)
	case ".docx":
		pages, err = parseDOCX(filePath)
	case ".xlsx", ".xlsm":
		pages, err = parseXLSX(filePath)
	case ".md", ".markdown":
		pages, err = parseMarkdown(filePath)
	case ".txt":
		pages, err = parseText(filePath)
	default:
		return nil, apperr.Config("parse document", fmt.Errorf("unsupported file format: %s", ext))
	}
	if err != nil {
		return nil, err
	}

	out := pages[:0]
	for _, p := range pages {
		p.Text = normalizeText(p.Text)
		if p.Text == "" {
			continue
		}
		p.SourceFilename = filePath
		out = append(out, p)
	}
	return out, nil
}

func openError(filePath string, err error) error {
	return apperr.Config("open document", fmt.Errorf("%s: %w", filePath, err))
}

func parseError(filePath string, err error) error {
	return apperr.Data("parse document", fmt.Errorf("%s: %w", filePath, err))
}

func parsePDF(filePath string) (pages []models.Page, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, openError(filePath, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, openError(filePath, err)
	}

	// the pdf package panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, parseError(filePath, fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, parseError(filePath, err)
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, parseError(filePath, fmt.Errorf("page %d: %w", i, err))
		}
		pages = append(pages, models.Page{PageNumber: i, Text: pageText})
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]models.Page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, parseError(filePath, err)
	}
	defer r.Close()

	return []models.Page{{
		PageNumber: defaultPageNumber, // DOCX has no page numbers
		Text:       docxPlainText(r.Editable().GetContent()),
	}}, nil
}

// docxPlainText keeps the w:t runs of document.xml, one line per paragraph.
func docxPlainText(xmlContent string) string {
	var out strings.Builder
	for _, para := range docxParagraphRe.Split(xmlContent, -1) {
		var line strings.Builder
		for _, m := range docxTextRe.FindAllStringSubmatch(para, -1) {
			line.WriteString(m[1])
		}
		if line.Len() == 0 {
			continue
		}
		out.WriteString(unescapeXML(line.String()))
		out.WriteString("\n")
	}
	return out.String()
}

func unescapeXML(s string) string {
	s = xmlTagRe.ReplaceAllString(s, "")
	return strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&").Replace(s)
}

func parseXLSX(filePath string) ([]models.Page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, parseError(filePath, err)
	}
	defer f.Close()

	var pages []models.Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, parseError(filePath, fmt.Errorf("sheet %s: %w", sheetName, err))
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, models.Page{
			PageNumber: sheetNum + 1, // 1-based indexing
			Text:       text.String(),
		})
	}
	return pages, nil
}

func parseMarkdown(filePath string) ([]models.Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, openError(filePath, err)
	}
	return []models.Page{{
		PageNumber: defaultPageNumber,
		Text:       markdownPlainText(data),
	}}, nil
}

// markdownPlainText drops markdown syntax and keeps the readable text,
// one line per block.
func markdownPlainText(source []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				buf.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteString(" ")
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(source))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func parseText(filePath string) ([]models.Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, openError(filePath, err)
	}
	return []models.Page{{
		PageNumber: defaultPageNumber, // TXT has no pages
		Text:       string(data),
	}}, nil
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}
