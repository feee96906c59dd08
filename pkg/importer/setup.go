package importer

import (
	"fmt"

	"github.com/healthtrack/platform/pkg/common/config"
	"github.com/healthtrack/platform/pkg/normalizer"
	"github.com/healthtrack/platform/pkg/parsers"
)

// NewServiceFromConfig wires a Service around store using the environment
// configuration.
func NewServiceFromConfig(cfg *config.Config, store Store, opts ...Option) (*Service, error) {
	profiles, err := parsers.LoadMappingProfiles(cfg.CustomMappingPath)
	if err != nil {
		return nil, fmt.Errorf("loading mapping profiles: %w", err)
	}
	loc, err := normalizer.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading default timezone: %w", err)
	}

	registry := parsers.NewRegistry(parsers.Options{
		BatchSize:      cfg.ParserBatchSize,
		GCEveryBatches: cfg.GCEveryBatches,
	})
	validator := NewValidator(cfg.AllowedExtensions, cfg.AllowedSources, profiles)
	svcCfg := Config{
		Writer: WriterConfig{
			BatchSize:  cfg.ImportBatchSize,
			Retries:    cfg.CommitRetries,
			RetryDelay: cfg.CommitRetryDelay,
		},
		ParseBudget:       cfg.ParseBudget,
		ParseReserve:      cfg.ParseReserve,
		TimeoutCheckEvery: cfg.TimeoutCheckEvery,
	}

	opts = append([]Option{WithNormalizer(normalizer.Normalizer{Location: loc})}, opts...)
	return NewService(store, registry, validator, NewStaging(cfg.UploadFolder), svcCfg, opts...), nil
}
