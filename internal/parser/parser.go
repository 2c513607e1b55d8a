package parser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"

	"document-qa/internal/models"
)

const (
	defaultPageNumber = 1
	utf8BOM           = "\ufeff"
)

// SupportedExtensions lists the upload formats Read understands
var SupportedExtensions = []string{".pdf", ".docx", ".txt"}

// Read converts an uploaded file into a Document. It never returns a partial document.
func Read(raw []byte, name string) (models.Document, error) {
	var (
		pages []models.Page
		err   error
	)

	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf":
		pages, err = parsePDF(raw)
	case ".docx":
		pages, err = parseDOCX(raw)
	case ".txt":
		pages, err = parseText(raw)
	default:
		return models.Document{}, &models.ReadError{File: name, Reason: fmt.Sprintf("unsupported file format %q, expected one of %s", ext, strings.Join(SupportedExtensions, ", "))}
	}
	if err != nil {
		return models.Document{}, &models.ReadError{File: name, Reason: "cannot decode " + strings.TrimPrefix(ext, "."), Err: err}
	}

	doc := models.Document{Name: name, Pages: pages}
	if err := IsValid(doc); err != nil {
		return models.Document{}, err
	}

	log.Debug().Str("file", name).Int("pages", len(pages)).Int("chars", doc.Len()).Msg("Read document")
	return doc, nil
}

// ReadFile reads a document from disk
func ReadFile(path string) (models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Document{}, &models.ReadError{File: filepath.Base(path), Reason: "cannot open file", Err: err}
	}
	return Read(data, filepath.Base(path))
}

// IsValid rejects documents with no extractable text, which is what a scanned PDF looks like
func IsValid(doc models.Document) error {
	for _, p := range doc.Pages {
		if strings.TrimSpace(p.Text) != "" {
			return nil
		}
	}
	return &models.ReadError{File: doc.Name, Reason: "no extractable text; scanned documents are not supported"}
}

func parsePDF(raw []byte) (pages []models.Page, err error) {
	// the pdf decoder panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("pdf decoder panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			return nil, fmt.Errorf("page %d is missing", i)
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, models.Page{Number: i, Text: pageText})
	}
	return pages, nil
}

func parseDOCX(raw []byte) ([]models.Page, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content, err := extractTextFromXML(r.Editable().GetContent())
	if err != nil {
		return nil, err
	}
	// DOCX has no page numbers
	return []models.Page{{Number: defaultPageNumber, Text: content}}, nil
}

func parseText(raw []byte) ([]models.Page, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("content is not valid UTF-8")
	}
	text := strings.TrimPrefix(string(raw), utf8BOM)
	return []models.Page{{Number: defaultPageNumber, Text: text}}, nil
}

// extractTextFromXML walks WordprocessingML and keeps run text, one line per paragraph
func extractTextFromXML(xmlContent string) (string, error) {
	var text strings.Builder
	dec := xml.NewDecoder(strings.NewReader(xmlContent))
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				text.WriteString("\t")
			case "br", "cr":
				text.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		}
	}
	return strings.TrimRight(text.String(), "\n"), nil
}
