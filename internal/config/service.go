package config

import "github.com/JonMunkholm/immunoload/internal/core"

// ServiceConfig maps the loaded settings onto core.ServiceConfig.
// Values were checked by Validate, so the policy names convert directly.
func (c *Config) ServiceConfig() core.ServiceConfig {
	return core.ServiceConfig{
		Ingest: core.IngestOptions{
			CommitFrequency: c.Ingest.CommitFrequency,
			FailurePolicy:   core.FailurePolicy(c.Ingest.FailurePolicy),
			IdentityMode:    core.IdentityMode(c.Ingest.IdentityMode),
			BatchSize:       c.Ingest.BatchSize,
			MaxFailedRows:   c.Ingest.MaxFailedRows,
		},
		MaxConcurrentRuns: c.Ingest.MaxConcurrent,
		MaxWait:           c.Ingest.MaxWaitTime,
		RunTimeout:        c.Ingest.Timeout,
		Deletion: core.PlannerConfig{
			Threshold:      c.Deletion.Threshold,
			BatchThreshold: c.Deletion.BatchThreshold,
		},
	}
}
