package embed

import (
	"log/slog"
	"strings"

	"github.com/Aman-CERP/recall/internal/config"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses the Ollama HTTP API.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings and needs no service.
	ProviderStatic ProviderType = "static"
)

// New builds the configured embedder stack:
//
//	Cached -> Limited -> Ollama | Static
//
// The static provider skips the limiter since it never leaves the process.
func New(cfg config.EmbeddingsConfig, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var inner Embedder
	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderStatic:
		inner = NewStaticEmbedder()
	case ProviderOllama, "":
		ocfg := DefaultOllamaConfig()
		if cfg.OllamaHost != "" {
			ocfg.Host = cfg.OllamaHost
		}
		if cfg.Model != "" {
			ocfg.Model = cfg.Model
		}
		ocfg.Dimensions = cfg.Dimensions
		ocfg.Timeout = config.Duration(cfg.Timeout, DefaultTimeout)
		ocfg.Logger = logger
		inner = NewLimitedEmbedder(NewOllamaEmbedder(ocfg), LimitConfig{
			MaxConcurrent:     int64(cfg.MaxConcurrent),
			RequestsPerSecond: cfg.RequestsPerSecond,
			BreakerFailures:   cfg.BreakerFailures,
			BreakerReset:      config.Duration(cfg.BreakerReset, 0),
			Logger:            logger,
		})
	default:
		return nil, rerrors.Newf(rerrors.ErrCodeConfigInvalid, "unknown embeddings provider %q", cfg.Provider).
			WithSuggestion("Set embeddings.provider to ollama or static")
	}

	logger.Debug("embedder_created",
		slog.String("provider", cfg.Provider),
		slog.String("model", inner.ModelName()),
		slog.Int("cache_size", cfg.CacheSize))

	if cfg.CacheSize < 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
