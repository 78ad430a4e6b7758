// Package domain defines the core types and interfaces of the dossier
// credit analysis service.
package domain

import (
	"context"
	"time"
)

// Repository stores dossiers, their scoring results and the rule
// configurations. Every read and write is scoped to one tenant; a record
// of another tenant is reported as not found.
type Repository interface {
	SaveDossier(ctx context.Context, tenantID string, d *Dossier) error
	GetDossier(ctx context.Context, tenantID, dossierID string) (*Dossier, error)
	// ListDossiers returns every dossier of the tenant when status is empty.
	ListDossiers(ctx context.Context, tenantID string, status DossierStatus) ([]*Dossier, error)
	UpdateDossierStatus(ctx context.Context, tenantID, dossierID string, status DossierStatus) error

	// SaveScoringResult never overwrites; saving the same ID twice is
	// ErrConflict.
	SaveScoringResult(ctx context.Context, tenantID string, result *ScoringResult) error
	GetScoringResult(ctx context.Context, tenantID, resultID string) (*ScoringResult, error)
	// ListScoringResults returns the results of one dossier, newest first.
	ListScoringResults(ctx context.Context, tenantID, dossierID string) ([]*ScoringResult, error)

	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig selects and tunes the database.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLitePath is a file path, or ":memory:" for a private in-memory database
	SQLitePath string

	// PostgresURL, when set, is used as the connection string as is
	PostgresURL string

	// Used to build the URL when PostgresURL is empty
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
