package preflight

import (
	"context"
	"path/filepath"

	"vidrelay/internal/config"
	"vidrelay/internal/deps"
	"vidrelay/internal/services/converter"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes the preflight checks for cfg. A nil client skips the
// remote check.
func RunAll(ctx context.Context, cfg *config.Config, client StatusFetcher) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	for _, folder := range cfg.Folders {
		results = append(results, CheckDirectoryAccess("Monitored folder", folder.Path))
	}
	results = append(results, CheckDirectoryAccess("History directory", filepath.Dir(cfg.History.Path)))

	if client != nil {
		results = append(results, CheckRemote(ctx, client))
	}

	if cfg.Subtitles.Enabled {
		for _, status := range deps.CheckBinaries(deps.SubtitleRequirements(cfg)) {
			results = append(results, fromDependency(status))
		}
	}
	return results
}

// NewClient builds the converter client RunAll uses for the remote check.
func NewClient(cfg *config.Config) (*converter.Client, error) {
	return converter.NewClient(converter.ConfigFromRemote(cfg.Remote))
}

// Failed returns the non-optional checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed && !result.Optional {
			failed = append(failed, result)
		}
	}
	return failed
}
