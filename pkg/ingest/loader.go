package ingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Loader defines the contract for reading a file and extracting its text content.
type Loader interface {
	// Load reads the file at the given path and returns its text content.
	Load(path string) (string, error)
}

// TextLoader is a generic loader for plain text files (txt, md, code, json).
type TextLoader struct{}

func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

func (l *TextLoader) Load(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// PDFLoader extracts the plain text of every page, one page per line block.
type PDFLoader struct{}

func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

func (l *PDFLoader) Load(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	for pageIndex := 1; pageIndex <= r.NumPage(); pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to extract text from page %d: %w", pageIndex, err)
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}
	return buf.String(), nil
}

// textExtensions are read with the TextLoader.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".json": true,
	".yaml": true, ".yml": true, ".go": true, ".py": true, ".rs": true,
	".js": true, ".ts": true, ".html": true, ".css": true, ".csv": true,
}

// Supported reports whether AutoLoader can read path.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".pdf" || textExtensions[ext]
}

// AutoLoader selects the loader from the file extension.
type AutoLoader struct {
	textLoader Loader
	pdfLoader  Loader
}

func NewAutoLoader() *AutoLoader {
	return &AutoLoader{
		textLoader: NewTextLoader(),
		pdfLoader:  NewPDFLoader(),
	}
}

func (l *AutoLoader) Load(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return l.pdfLoader.Load(path)
	case textExtensions[ext]:
		return l.textLoader.Load(path)
	default:
		return "", fmt.Errorf("unsupported file extension: %q", ext)
	}
}
