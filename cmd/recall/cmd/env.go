package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/recall/internal/config"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/index"
)

// loadConfig loads the configuration for --config-dir and applies
// --data-dir.
func loadConfig() (*config.Config, error) {
	dir := configDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = wd
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	return cfg, nil
}

func openIndex(ctx context.Context, cfg *config.Config) (*index.Service, error) {
	return index.Open(ctx, index.Options{Config: cfg, Logger: slog.Default()})
}

// closeIndex closes svc and reports the failure unless err is already set.
func closeIndex(svc *index.Service, err *error) {
	if cerr := svc.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

// resolveRoots turns directory arguments into roots. Without arguments the
// configured watch roots are used. A directory that is also configured
// keeps its configured session unless session is set.
func resolveRoots(cfg *config.Config, args []string, session string) ([]config.RootConfig, error) {
	if len(args) == 0 {
		if len(cfg.Watch.Roots) == 0 {
			return nil, rerrors.New(rerrors.ErrCodeConfigInvalid, "no directories to index", nil).
				WithSuggestion("pass a directory or add watch.roots to " + config.GetUserConfigPath())
		}
		roots := make([]config.RootConfig, 0, len(cfg.Watch.Roots))
		for _, r := range cfg.Watch.Roots {
			abs, err := absDir(r.Path)
			if err != nil {
				return nil, err
			}
			roots = append(roots, config.RootConfig{Path: abs, Session: r.Session})
		}
		return roots, nil
	}

	if session != "" && len(args) > 1 {
		return nil, rerrors.New(rerrors.ErrCodeInvalidInput, "--session needs a single directory", nil)
	}

	configured := make(map[string]string, len(cfg.Watch.Roots))
	for _, r := range cfg.Watch.Roots {
		if abs, err := filepath.Abs(r.Path); err == nil {
			configured[abs] = r.Session
		}
	}

	roots := make([]config.RootConfig, 0, len(args))
	for _, arg := range args {
		abs, err := absDir(arg)
		if err != nil {
			return nil, err
		}
		s := session
		if s == "" {
			s = configured[abs]
		}
		roots = append(roots, config.RootConfig{Path: abs, Session: s})
	}
	return roots, nil
}

func absDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", rerrors.New(rerrors.ErrCodeInvalidPath, "cannot resolve directory", err).WithDetail("path", path)
	}
	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return "", rerrors.New(rerrors.ErrCodeFileNotFound, "directory not found: "+path, err)
	}
	if err != nil {
		return "", rerrors.New(rerrors.ErrCodeFilePermission, "cannot access directory: "+path, err)
	}
	if !info.IsDir() {
		return "", rerrors.New(rerrors.ErrCodeInvalidPath, "not a directory: "+path, nil)
	}
	return abs, nil
}
