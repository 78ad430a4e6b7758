// Package repository persists dossiers, scoring results and rule
// configurations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = domain.ErrInvalidInput
)

// dialect holds what differs between the supported databases.
type dialect struct {
	name         string
	open         func(cfg domain.RepositoryConfig) (*sql.DB, error)
	numberedArgs bool // $1, $2 instead of ?
	isDuplicate  func(err error) bool
}

var dialects = map[string]dialect{
	sqliteDialect.name:   sqliteDialect,
	postgresDialect.name: postgresDialect,
}

// SQLRepository implements domain.Repository on database/sql for every
// dialect. Queries are written with ? placeholders.
type SQLRepository struct {
	db      *sql.DB
	dialect dialect
}

// New opens the database named by cfg.Driver and applies the schema.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	db, err := d.open(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != ":memory:" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, dialect: d}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply %s schema: %w", d.name, err)
	}
	return repo, nil
}

// SaveDossier inserts or replaces a dossier with tenant isolation.
func (r *SQLRepository) SaveDossier(ctx context.Context, tenantID string, d *domain.Dossier) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if d == nil || d.ID == "" {
		return fmt.Errorf("%w: dossier id is required", ErrInvalidInput)
	}

	request, err := json.Marshal(d.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal dossier request: %w", err)
	}

	query := `
		INSERT INTO dossiers (
			id, tenant_id, reference, officer, status, request, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			reference = excluded.reference,
			officer = excluded.officer,
			status = excluded.status,
			request = excluded.request,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		d.ID, tenantID, d.Reference, d.Officer, string(d.Status),
		string(request), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil && r.dialect.isDuplicate(err) {
		return fmt.Errorf("%w: reference %q is already used by another dossier", domain.ErrConflict, d.Reference)
	}
	return err
}

// GetDossier retrieves a dossier by ID with tenant isolation.
func (r *SQLRepository) GetDossier(ctx context.Context, tenantID string, dossierID string) (*domain.Dossier, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, reference, officer, status, request, created_at, updated_at
		FROM dossiers
		WHERE tenant_id = ? AND id = ?
	`

	d, err := scanDossier(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, dossierID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDossiers returns the dossiers of a tenant, newest first. An empty
// status lists every dossier.
func (r *SQLRepository) ListDossiers(ctx context.Context, tenantID string, status domain.DossierStatus) ([]*domain.Dossier, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, reference, officer, status, request, created_at, updated_at
		FROM dossiers
		WHERE tenant_id = ?
	`
	args := []any{tenantID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dossiers []*domain.Dossier
	for rows.Next() {
		d, err := scanDossier(rows)
		if err != nil {
			return nil, err
		}
		dossiers = append(dossiers, d)
	}

	return dossiers, rows.Err()
}

// UpdateDossierStatus sets the status of a dossier. Transition rules are
// enforced by the caller.
func (r *SQLRepository) UpdateDossierStatus(ctx context.Context, tenantID string, dossierID string, status domain.DossierStatus) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE dossiers
		SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), string(status), time.Now().UTC(), tenantID, dossierID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDossier(row scanner) (*domain.Dossier, error) {
	var d domain.Dossier
	var reference, officer sql.NullString
	var status, request string

	if err := row.Scan(
		&d.ID, &d.TenantID, &reference, &officer, &status, &request,
		&d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}

	d.Reference = reference.String
	d.Officer = officer.String
	d.Status = domain.DossierStatus(status)
	if err := json.Unmarshal([]byte(request), &d.Request); err != nil {
		return nil, fmt.Errorf("failed to parse dossier request for %s: %w", d.ID, err)
	}
	return &d, nil
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), rule.Weight, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves a rule configuration with tenant isolation.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.RuleConfig
	var bands string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	json.Unmarshal([]byte(bands), &cfg.Bands)

	return &cfg, nil
}

// ListRuleConfigs retrieves all active rule configurations for a tenant.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var bands string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &cfg.Bands)
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// SaveScoringResult appends a scoring result with tenant isolation.
// Results are never updated; saving an existing ID fails.
func (r *SQLRepository) SaveScoringResult(ctx context.Context, tenantID string, result *domain.ScoringResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if result == nil || result.ID == "" {
		return fmt.Errorf("%w: result id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal scoring result: %w", err)
	}

	disagreement := 0
	if result.Disagreement {
		disagreement = 1
	}

	query := `
		INSERT INTO scoring_results (
			id, tenant_id, dossier_id, global_score, risk_class,
			recommendation, disagreement, created_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		result.ID, tenantID, result.DossierID, result.GlobalScore,
		string(result.RiskClass), string(result.Recommendation), disagreement,
		result.CreatedAt, string(payload),
	)
	if err != nil && r.dialect.isDuplicate(err) {
		return fmt.Errorf("%w: scoring result %s already exists", domain.ErrConflict, result.ID)
	}
	return err
}

// GetScoringResult retrieves a scoring result by ID with tenant isolation.
func (r *SQLRepository) GetScoringResult(ctx context.Context, tenantID string, resultID string) (*domain.ScoringResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT payload
		FROM scoring_results
		WHERE tenant_id = ? AND id = ?
	`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, resultID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var result domain.ScoringResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to parse scoring result %s: %w", resultID, err)
	}
	result.TenantID = tenantID
	return &result, nil
}

// ListScoringResults returns every result of a dossier, newest first.
func (r *SQLRepository) ListScoringResults(ctx context.Context, tenantID string, dossierID string) ([]*domain.ScoringResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT payload
		FROM scoring_results
		WHERE tenant_id = ? AND dossier_id = ?
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, dossierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.ScoringResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}

		var result domain.ScoringResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			return nil, fmt.Errorf("failed to parse scoring result: %w", err)
		}
		result.TenantID = tenantID
		results = append(results, &result)
	}

	return results, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind rewrites ? placeholders for dialects with numbered arguments.
func (r *SQLRepository) rebind(query string) string {
	if !r.dialect.numberedArgs {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
