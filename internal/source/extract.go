package source

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"
)

const (
	PlaceholderUnsupported = "Unsupported file type"
	PlaceholderPDF         = "Failed to read the PDF"
	PlaceholderDOCX        = "Failed to read the DOCX file."
)

// ErrUnsupported is returned for file extensions outside the Format set.
var ErrUnsupported = errors.New("unsupported file type")

// Format is the closed set of uploadable document formats.
type Format int

const (
	FormatUnsupported Format = iota
	FormatPDF
	FormatTXT
	FormatDOCX
)

func (f Format) String() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatTXT:
		return "txt"
	case FormatDOCX:
		return "docx"
	default:
		return "unsupported"
	}
}

// FormatFromName maps a file name (or bare extension) to a Format.
func FormatFromName(name string) Format {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		ext = strings.ToLower(strings.TrimPrefix(name, "."))
	}
	switch ext {
	case "pdf":
		return FormatPDF
	case "txt":
		return FormatTXT
	case "docx":
		return FormatDOCX
	default:
		return FormatUnsupported
	}
}

// Extractor decodes one document format into plain text.
type Extractor interface {
	Format() Format
	Extract(data []byte) (string, error)
	// Placeholder is the text substituted for the document when Extract fails.
	Placeholder() string
}

// ExtractorFor returns the extractor for f.
func ExtractorFor(f Format) Extractor {
	switch f {
	case FormatPDF:
		return pdfExtractor{}
	case FormatTXT:
		return txtExtractor{}
	case FormatDOCX:
		return docxExtractor{}
	default:
		return unsupportedExtractor{}
	}
}

// ExtractFile decodes an uploaded document. Failures are logged and turned
// into the format's placeholder text.
func ExtractFile(name string, data []byte, logger *slog.Logger) Ingested {
	ex := ExtractorFor(FormatFromName(name))
	text, err := ex.Extract(data)
	if err != nil {
		if logger != nil {
			logger.Warn("file extraction failed",
				slog.String("file", name),
				slog.String("format", ex.Format().String()),
				slog.String("error", err.Error()))
		}
		return Ingested{Kind: KindFile, Origin: name, Text: ex.Placeholder(), Err: err}
	}
	return Ingested{Kind: KindFile, Origin: name, Text: text}
}

type txtExtractor struct{}

func (txtExtractor) Format() Format      { return FormatTXT }
func (txtExtractor) Placeholder() string { return "" }

// Extract drops byte sequences that are not valid UTF-8.
func (txtExtractor) Extract(data []byte) (string, error) {
	return strings.ToValidUTF8(string(data), ""), nil
}

type unsupportedExtractor struct{}

func (unsupportedExtractor) Format() Format      { return FormatUnsupported }
func (unsupportedExtractor) Placeholder() string { return PlaceholderUnsupported }
func (unsupportedExtractor) Extract([]byte) (string, error) {
	return "", ErrUnsupported
}

type pdfExtractor struct{}

func (pdfExtractor) Format() Format      { return FormatPDF }
func (pdfExtractor) Placeholder() string { return PlaceholderPDF }

// Extract concatenates page text in page order, one newline between pages.
func (pdfExtractor) Extract(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed object graphs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("decode pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		pages = append(pages, content)
	}
	return strings.Join(pages, "\n"), nil
}

type docxExtractor struct{}

func (docxExtractor) Format() Format      { return FormatDOCX }
func (docxExtractor) Placeholder() string { return PlaceholderDOCX }

// Extract returns paragraph text in document order, one paragraph per line.
// Table cells contribute their paragraphs row by row.
func (docxExtractor) Extract(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx archive: %w", err)
	}
	if !hasDocumentPart(zr) {
		return "", errors.New("docx archive has no word/document.xml")
	}
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}
	var paragraphs []string
	for _, item := range doc.Document.Body.Items {
		paragraphs = appendBodyItem(paragraphs, item)
	}
	return strings.Join(paragraphs, "\n"), nil
}

func hasDocumentPart(zr *zip.Reader) bool {
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			return true
		}
	}
	return false
}

func appendBodyItem(out []string, item interface{}) []string {
	switch v := item.(type) {
	case *docx.Paragraph:
		out = append(out, paragraphText(v))
	case *docx.Table:
		for _, row := range v.TableRows {
			for _, cell := range row.TableCells {
				for _, p := range cell.Paragraphs {
					out = append(out, paragraphText(p))
				}
				for _, nested := range cell.Tables {
					out = appendBodyItem(out, nested)
				}
			}
		}
	}
	return out
}

// paragraphText renders run content only; paragraph properties such as
// tab stop definitions never reach the output.
func paragraphText(p *docx.Paragraph) string {
	var sb strings.Builder
	for _, child := range p.Children {
		switch c := child.(type) {
		case *docx.Run:
			writeRun(&sb, c)
		case *docx.Hyperlink:
			writeRun(&sb, &c.Run)
		}
	}
	return sb.String()
}

func writeRun(sb *strings.Builder, r *docx.Run) {
	for _, child := range r.Children {
		switch c := child.(type) {
		case *docx.Text:
			sb.WriteString(c.Text)
		case *docx.Tab:
			sb.WriteByte('\t')
		case *docx.BarterRabbet:
			sb.WriteByte('\n')
		}
	}
}
