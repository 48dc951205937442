/**
 * PostgreSQL Client for the document verification worker
 *
 * Reads organization records and writes verification outcomes plus an
 * audit row per verification run.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS docverify;

	CREATE TABLE IF NOT EXISTS docverify.organizations (
		id                   UUID PRIMARY KEY,
		name                 TEXT NOT NULL DEFAULT '',
		declared_identifier  TEXT NOT NULL DEFAULT '',
		document_artifact_id TEXT NOT NULL DEFAULT '',
		document_name        TEXT NOT NULL DEFAULT '',
		document_content     BYTEA,
		verification_status  TEXT NOT NULL DEFAULT 'pending'
			CHECK (verification_status IN ('pending', 'verified', 'failed')),
		verification_notes   TEXT NOT NULL DEFAULT '',
		is_verified          BOOLEAN NOT NULL DEFAULT FALSE,
		verification_date    TIMESTAMPTZ,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS docverify.verification_attempts (
		id                   UUID PRIMARY KEY,
		job_id               TEXT NOT NULL,
		organization_id      UUID NOT NULL REFERENCES docverify.organizations(id) ON DELETE CASCADE,
		status               TEXT NOT NULL,
		extracted_identifier TEXT,
		expected_identifier  TEXT,
		similarity           NUMERIC(5,4),
		confidence           NUMERIC(7,4),
		processing_time_ms   BIGINT,
		error_code           TEXT,
		metadata             JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS verification_attempts_org_idx
		ON docverify.verification_attempts (organization_id, created_at DESC);
`

// roundTo bounds v to [0, max] and rounds it to four decimals so NUMERIC
// columns never receive values like 0.9632000000000001.
func roundTo(v, max float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > max {
		return max
	}
	return math.Round(v*10000) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connect to database
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the tables used by the worker if they do not exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateOrganization inserts an organization and returns its ID.
// A missing ID is generated; a missing status defaults to pending.
func (p *PostgresClient) CreateOrganization(ctx context.Context, org *Organization) (string, error) {
	if org == nil {
		return "", fmt.Errorf("organization is required")
	}
	id := org.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := org.VerificationStatus
	if status == "" {
		status = StatusPending
	}

	query := `
		INSERT INTO docverify.organizations (
			id, name, declared_identifier, document_artifact_id, document_name,
			document_content, verification_status, verification_notes, is_verified,
			verification_date, created_at, updated_at
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING id
	`

	var returnedID string
	err := p.db.QueryRowContext(ctx, query,
		id,
		org.Name,
		org.DeclaredIdentifier,
		org.DocumentArtifactID,
		org.DocumentName,
		org.DocumentContent,
		string(status),
		org.VerificationNotes,
		org.IsVerified,
		org.VerificationDate,
	).Scan(&returnedID)
	if err != nil {
		return "", fmt.Errorf("failed to create organization: %w", err)
	}
	return returnedID, nil
}

// GetOrganization loads one organization by ID
func (p *PostgresClient) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOrganizationNotFound, id)
	}

	query := `
		SELECT
			id, name, declared_identifier, document_artifact_id, document_name,
			document_content, verification_status, verification_notes, is_verified,
			verification_date, created_at, updated_at
		FROM docverify.organizations
		WHERE id = $1
	`

	var (
		org    Organization
		status string
		date   sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID,
		&org.Name,
		&org.DeclaredIdentifier,
		&org.DocumentArtifactID,
		&org.DocumentName,
		&org.DocumentContent,
		&status,
		&org.VerificationNotes,
		&org.IsVerified,
		&date,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrOrganizationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization %s: %w", id, err)
	}

	org.VerificationStatus = VerificationStatus(status)
	if date.Valid {
		t := date.Time
		org.VerificationDate = &t
	}
	return &org, nil
}

// SaveVerification writes the verification fields back to the organization.
// A nil VerificationDate leaves the stored date untouched.
func (p *PostgresClient) SaveVerification(ctx context.Context, id string, update VerificationUpdate) error {
	if !update.Status.Valid() {
		return fmt.Errorf("invalid verification status %q", update.Status)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrOrganizationNotFound, id)
	}

	query := `
		UPDATE docverify.organizations SET
			verification_status = $2,
			verification_notes  = $3,
			is_verified         = $4,
			verification_date   = COALESCE($5, verification_date),
			updated_at          = NOW()
		WHERE id = $1
	`

	res, err := p.db.ExecContext(ctx, query,
		id,
		string(update.Status),
		update.Notes,
		update.IsVerified,
		update.VerificationDate,
	)
	if err != nil {
		return fmt.Errorf("failed to save verification (org=%s, status=%s): %w", id, update.Status, describePQError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrOrganizationNotFound, id)
	}
	return nil
}

// RecordAttempt stores one audit row for a verification run
func (p *PostgresClient) RecordAttempt(ctx context.Context, attempt *VerificationAttempt) error {
	if attempt == nil || attempt.OrganizationID == "" {
		return fmt.Errorf("organization ID is required")
	}

	metadataJSON, err := json.Marshal(attempt.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if attempt.Metadata == nil {
		metadataJSON = []byte("{}")
	}

	query := `
		INSERT INTO docverify.verification_attempts (
			id, job_id, organization_id, status, extracted_identifier, expected_identifier,
			similarity, confidence, processing_time_ms, error_code, metadata, created_at
		) VALUES (
			$1::uuid, $2, $3::uuid, $4, NULLIF($5, ''), NULLIF($6, ''),
			$7::NUMERIC(5,4), $8::NUMERIC(7,4), $9, NULLIF($10, ''), $11::jsonb, NOW()
		)
	`

	_, err = p.db.ExecContext(ctx, query,
		uuid.New().String(),
		attempt.JobID,
		attempt.OrganizationID,
		string(attempt.Status),
		attempt.Extracted,
		attempt.Expected,
		roundTo(attempt.Similarity, 1),
		roundTo(attempt.Confidence, 100),
		attempt.ProcessingTimeMs,
		attempt.ErrorCode,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to record verification attempt (org=%s): %w", attempt.OrganizationID, describePQError(err))
	}
	return nil
}

// describePQError adds the Postgres error code and detail when available.
func describePQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%w (code=%s, detail=%s)", err, pqErr.Code, pqErr.Detail)
	}
	return err
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
