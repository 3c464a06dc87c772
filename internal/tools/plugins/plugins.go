package plugins

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/xiaot623/gogo/gateway/internal/config"
	"github.com/xiaot623/gogo/gateway/internal/tools"
)

// FromConfig returns the plugins enabled in cfg, in registration order.
func FromConfig(cfg *config.Config, log logr.Logger) ([]tools.Plugin, error) {
	var out []tools.Plugin
	if cfg.WebSearchEnabled {
		out = append(out, NewWeb(cfg.WebSearchURL, cfg.ToolTimeout, log))
	}
	if cfg.NewsEnabled {
		feeds, err := ParseFeeds(cfg.NewsFeeds)
		if err != nil {
			return nil, fmt.Errorf("failed to parse news feeds: %w", err)
		}
		out = append(out, NewNews(feeds, cfg.ToolTimeout, log))
	}
	if cfg.FilesystemEnabled {
		out = append(out, NewFilesystem(cfg.FilesystemBasePath, log))
	}
	if cfg.DatabaseToolDSN != "" {
		out = append(out, NewDatabase(cfg.DatabaseToolDSN, log))
	}
	return out, nil
}
