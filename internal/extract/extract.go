// Package extract turns source files into plain text.
//
// Each format has an adapter: text passes through, PDF goes through
// pdftotext, docx is unzipped and its paragraphs read, images go through
// tesseract OCR. Source files are only ever read.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/recall/internal/config"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// Type is a declared content type.
type Type string

const (
	TypeText  Type = "text"
	TypePDF   Type = "pdf"
	TypeDOCX  Type = "docx"
	TypeImage Type = "image"
)

// Defaults for Options.
const (
	DefaultMaxFileSize = 50 << 20
	DefaultTimeout     = 30 * time.Second
	DefaultOCRTimeout  = 2 * time.Minute
)

var mimeTypes = map[string]Type{
	"application/pdf": TypePDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": TypeDOCX,
}

var extensions = map[string]Type{
	".pdf":  TypePDF,
	".docx": TypeDOCX,
	".png":  TypeImage,
	".jpg":  TypeImage,
	".jpeg": TypeImage,
	".tif":  TypeImage,
	".tiff": TypeImage,
	".bmp":  TypeImage,
	".gif":  TypeImage,
	".webp": TypeImage,
}

// textExtensions are passed through verbatim.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".org": true,
	".log": true, ".csv": true, ".tsv": true, ".json": true, ".yaml": true,
	".yml": true, ".toml": true, ".ini": true, ".xml": true, ".html": true,
	".htm": true, ".go": true, ".py": true, ".js": true, ".ts": true,
	".tsx": true, ".jsx": true, ".java": true, ".c": true, ".h": true,
	".cpp": true, ".hpp": true, ".rs": true, ".rb": true, ".sh": true,
	".sql": true, ".css": true, ".tex": true, ".eml": true, ".ics": true,
}

// DetectType resolves the adapter for path. A declared type or MIME type
// wins; otherwise the extension decides.
func DetectType(path, declared string) (Type, error) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" {
		switch t := Type(declared); t {
		case TypeText, TypePDF, TypeDOCX, TypeImage:
			return t, nil
		}
		if t, ok := mimeTypes[declared]; ok {
			return t, nil
		}
		switch {
		case strings.HasPrefix(declared, "text/"):
			return TypeText, nil
		case strings.HasPrefix(declared, "image/"):
			return TypeImage, nil
		}
		return "", unsupported(path, "declared type "+declared)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensions[ext]; ok {
		return t, nil
	}
	if textExtensions[ext] {
		return TypeText, nil
	}
	return "", unsupported(path, "extension "+ext)
}

// Supported reports whether path has an extension an adapter handles.
func Supported(path string) bool {
	_, err := DetectType(path, "")
	return err == nil
}

// Options configures an Extractor.
type Options struct {
	MaxFileSize int64
	Timeout     time.Duration
	OCRTimeout  time.Duration
	PDFToText   string
	Tesseract   string
	Runner      CommandRunner
	Logger      *slog.Logger
}

// OptionsFromConfig maps the extract config section onto Options.
func OptionsFromConfig(cfg config.ExtractConfig) Options {
	return Options{
		MaxFileSize: int64(cfg.MaxFileSizeMB) << 20,
		Timeout:     config.Duration(cfg.Timeout, DefaultTimeout),
		OCRTimeout:  config.Duration(cfg.OCRTimeout, DefaultOCRTimeout),
		PDFToText:   cfg.PDFToText,
		Tesseract:   cfg.Tesseract,
	}
}

// Extractor dispatches files to format adapters.
type Extractor struct {
	opts Options
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.OCRTimeout <= 0 {
		opts.OCRTimeout = DefaultOCRTimeout
	}
	if opts.PDFToText == "" {
		opts.PDFToText = "pdftotext"
	}
	if opts.Tesseract == "" {
		opts.Tesseract = "tesseract"
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Extractor{opts: opts}
}

// Extract returns the text content of path.
//
// Errors carry ErrCodeUnsupportedFormat, ErrCodeFileCorrupt,
// ErrCodeExtractionTimeout, ErrCodeToolNotFound, ErrCodeFileTooLarge or
// ErrCodeFileNotFound.
func (x *Extractor) Extract(ctx context.Context, path, declared string) (string, error) {
	typ, err := DetectType(path, declared)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", rerrors.New(rerrors.ErrCodeFileNotFound, "file not found", err).WithDetail("path", path)
		}
		return "", rerrors.New(rerrors.ErrCodeFilePermission, "cannot stat file", err).WithDetail("path", path)
	}
	if info.IsDir() {
		return "", unsupported(path, "directory")
	}
	if info.Size() > x.opts.MaxFileSize {
		return "", rerrors.Newf(rerrors.ErrCodeFileTooLarge, "file is %d bytes, limit is %d", info.Size(), x.opts.MaxFileSize).
			WithDetail("path", path)
	}

	budget := x.opts.Timeout
	if typ == TypeImage {
		budget = x.opts.OCRTimeout
	}
	actx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	var text string
	switch typ {
	case TypeText:
		text, err = extractText(actx, path)
	case TypePDF:
		text, err = x.extractPDF(actx, path)
	case TypeDOCX:
		text, err = extractDOCX(actx, path)
	case TypeImage:
		text, err = x.extractImage(actx, path)
	}

	if err != nil {
		// the caller's own cancellation is not an extraction timeout
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			err = rerrors.New(rerrors.ErrCodeExtractionTimeout,
				fmt.Sprintf("%s extraction exceeded %s", typ, budget), err).WithDetail("path", path)
		}
		return "", err
	}

	x.opts.Logger.Debug("extract_done",
		slog.String("path", path),
		slog.String("type", string(typ)),
		slog.Int("bytes", len(text)),
		slog.Duration("took", time.Since(start)))
	return text, nil
}

func unsupported(path, what string) error {
	return rerrors.Newf(rerrors.ErrCodeUnsupportedFormat, "unsupported format: %s", what).WithDetail("path", path)
}

func corruptInput(path string, cause error) error {
	return rerrors.New(rerrors.ErrCodeFileCorrupt, "cannot decode file", cause).WithDetail("path", path)
}
