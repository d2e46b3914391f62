package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"strings"
)

// extractText passes the file through. Invalid UTF-8 is replaced.
func extractText(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", corruptInput(path, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}

// extractPDF reads the text layer with pdftotext. Pages come back
// separated by form feeds and are joined with a paragraph break.
func (x *Extractor) extractPDF(ctx context.Context, path string) (string, error) {
	out, err := runTool(ctx, x.opts.Runner, path, x.opts.PDFToText, "-enc", "UTF-8", "-q", path, "-")
	if err != nil {
		return "", err
	}
	return joinPages(string(out)), nil
}

func joinPages(raw string) string {
	pages := strings.Split(raw, "\f")
	kept := pages[:0]
	for _, p := range pages {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.ToValidUTF8(strings.Join(kept, "\n\n"), "\uFFFD")
}

// extractImage runs tesseract OCR and returns the recognized text.
func (x *Extractor) extractImage(ctx context.Context, path string) (string, error) {
	out, err := runTool(ctx, x.opts.Runner, path, x.opts.Tesseract, path, "stdout")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ToValidUTF8(string(out), "\uFFFD")), nil
}

const docxBody = "word/document.xml"

// extractDOCX reads word/document.xml, one paragraph per line.
func extractDOCX(ctx context.Context, path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", corruptInput(path, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != docxBody {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", corruptInput(path, err)
		}
		defer rc.Close()

		text, err := parseDocumentXML(ctx, rc)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", corruptInput(path, err)
		}
		return text, nil
	}
	return "", corruptInput(path, errors.New("missing "+docxBody))
}

// parseDocumentXML streams the WordprocessingML body. Text runs (w:t) are
// concatenated per paragraph (w:p), tabs and breaks become whitespace, and
// everything else (styling, properties) is skipped.
func parseDocumentXML(ctx context.Context, r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    strings.Builder
		para   strings.Builder
		inText bool
		paras  int
		tokens int
	)

	flush := func() {
		line := strings.TrimRight(para.String(), " \t")
		if paras > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(line)
		paras++
		para.Reset()
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if tokens++; tokens%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte(' ')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return strings.TrimRight(out.String(), "\n"), nil
}
