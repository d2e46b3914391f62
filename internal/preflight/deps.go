package preflight

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/recall/internal/config"
	"github.com/Aman-CERP/recall/internal/extract"
)

type tool struct {
	name   string
	binary string
	needed string
}

func extractTools(cfg config.ExtractConfig) []tool {
	pdf, ocr := cfg.PDFToText, cfg.Tesseract
	if pdf == "" {
		pdf = "pdftotext"
	}
	if ocr == "" {
		ocr = "tesseract"
	}
	return []tool{
		{name: "pdftotext", binary: pdf, needed: "PDF files"},
		{name: "tesseract", binary: ocr, needed: "images"},
	}
}

// CheckEmbedder checks the embedder. An unavailable embedder is a warning:
// indexing continues lexical-only and repair embeds the backlog later.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: false,
	}

	ctx, cancel := context.WithTimeout(ctx, c.embedderTimeout)
	defer cancel()

	model := c.embedder.ModelName()
	if !c.embedder.Available(ctx) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s not reachable, search will be lexical-only", model)
		result.Details = "Start Ollama and pull the model (ollama pull " + model + "), then run 'recall repair'"
		return result
	}

	result.Status = StatusPass
	result.Message = model + " ready"
	if dims := c.embedder.Dimensions(); dims > 0 {
		result.Message = fmt.Sprintf("%s ready (%d dimensions)", model, dims)
	}
	return result
}

// CheckExtractTools looks up the external extraction tools. A missing tool
// only disables its file kinds.
func (c *Checker) CheckExtractTools() []CheckResult {
	results := make([]CheckResult, 0, len(c.tools))
	for _, t := range c.tools {
		result := CheckResult{Name: t.name, Required: false}
		path, err := c.lookPath(t.binary)
		if err != nil {
			result.Status = StatusWarn
			result.Message = fmt.Sprintf("%s not found, %s will not be indexed", t.binary, t.needed)
			result.Details = extract.InstallHint(t.binary)
		} else {
			result.Status = StatusPass
			result.Message = path
		}
		results = append(results, result)
	}
	return results
}
