package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// Every connection to :memory: is a separate database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Deployment Operations
// =============================================================================

// deploymentRow represents a deployment row in the database.
type deploymentRow struct {
	ID                     string  `db:"id"`
	Slug                   string  `db:"slug"`
	ProjectName            string  `db:"project_name"`
	ProjectPath            string  `db:"project_path"`
	AppType                string  `db:"app_type"`
	ParentSite             string  `db:"parent_site"`
	Status                 string  `db:"status"`
	Result                 *string `db:"result"`
	Domains                *string `db:"domains"`
	AdminPasswordEncrypted []byte  `db:"admin_password_encrypted"`
	ErrorMessage           string  `db:"error_message"`
	CreatedAt              string  `db:"created_at"`
	UpdatedAt              string  `db:"updated_at"`
	StartedAt              *string `db:"started_at"`
	CompletedAt            *string `db:"completed_at"`
}

func (s *SQLiteStore) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return createDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return updateDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	return deleteDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.db, opts)
}

func (s *SQLiteStore) ListDeploymentsBySlug(ctx context.Context, slug string, opts ListOptions) ([]domain.Deployment, error) {
	return listDeploymentsBySlug(ctx, s.db, slug, opts)
}

func (s *SQLiteStore) ListDeploymentsByStatus(ctx context.Context, status domain.DeploymentStatus, opts ListOptions) ([]domain.Deployment, error) {
	return listDeploymentsByStatus(ctx, s.db, status, opts)
}

func (s *SQLiteStore) GetActiveDeploymentBySlug(ctx context.Context, slug string) (*domain.Deployment, error) {
	return getActiveDeploymentBySlug(ctx, s.db, slug)
}

func (s *SQLiteStore) ListUnverifiedDeployments(ctx context.Context, limit int) ([]domain.Deployment, error) {
	return listUnverifiedDeployments(ctx, s.db, limit)
}

// =============================================================================
// Progress Event Operations
// =============================================================================

// eventRow represents a progress event row in the database.
type eventRow struct {
	ID           int64   `db:"id"`
	DeploymentID string  `db:"deployment_id"`
	Step         string  `db:"step"`
	State        string  `db:"state"`
	Status       string  `db:"status"`
	Icon         string  `db:"icon"`
	Progress     int     `db:"progress"`
	Result       *string `db:"result"`
	CreatedAt    string  `db:"created_at"`
}

func (s *SQLiteStore) AppendProgressEvent(ctx context.Context, event domain.ProgressEvent) error {
	return appendProgressEvent(ctx, s.db, event)
}

func (s *SQLiteStore) ListProgressEvents(ctx context.Context, deploymentID string) ([]domain.ProgressEvent, error) {
	return listProgressEvents(ctx, s.db, deploymentID)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return createDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return updateDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	return deleteDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListDeploymentsBySlug(ctx context.Context, slug string, opts ListOptions) ([]domain.Deployment, error) {
	return listDeploymentsBySlug(ctx, s.tx, slug, opts)
}

func (s *txSQLiteStore) ListDeploymentsByStatus(ctx context.Context, status domain.DeploymentStatus, opts ListOptions) ([]domain.Deployment, error) {
	return listDeploymentsByStatus(ctx, s.tx, status, opts)
}

func (s *txSQLiteStore) GetActiveDeploymentBySlug(ctx context.Context, slug string) (*domain.Deployment, error) {
	return getActiveDeploymentBySlug(ctx, s.tx, slug)
}

func (s *txSQLiteStore) ListUnverifiedDeployments(ctx context.Context, limit int) ([]domain.Deployment, error) {
	return listUnverifiedDeployments(ctx, s.tx, limit)
}

func (s *txSQLiteStore) AppendProgressEvent(ctx context.Context, event domain.ProgressEvent) error {
	return appendProgressEvent(ctx, s.tx, event)
}

func (s *txSQLiteStore) ListProgressEvents(ctx context.Context, deploymentID string) ([]domain.ProgressEvent, error) {
	return listProgressEvents(ctx, s.tx, deploymentID)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just execute
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// Transaction stores don't close the underlying connection
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createDeployment(ctx context.Context, exec executor, deployment *domain.Deployment) error {
	row, err := deploymentToRow("CreateDeployment", deployment)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deployments (
			id, slug, project_name, project_path, app_type, parent_site,
			status, result, domains, admin_password_encrypted, error_message,
			created_at, updated_at, started_at, completed_at
		) VALUES (
			:id, :slug, :project_name, :project_path, :app_type, :parent_site,
			:status, :result, :domains, :admin_password_encrypted, :error_message,
			:created_at, :updated_at, :started_at, :completed_at
		)`

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployments.id") {
			return NewStoreError("CreateDeployment", EntityDeployment, deployment.ID, "deployment with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateDeployment", EntityDeployment, deployment.ID, err.Error(), err)
	}

	return nil
}

func getDeployment(ctx context.Context, exec executor, id string) (*domain.Deployment, error) {
	var row deploymentRow
	query := `SELECT * FROM deployments WHERE id = ?`

	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", EntityDeployment, id, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", EntityDeployment, id, err.Error(), err)
	}

	return rowToDeployment(&row)
}

func updateDeployment(ctx context.Context, exec executor, deployment *domain.Deployment) error {
	deployment.UpdatedAt = time.Now().UTC()
	row, err := deploymentToRow("UpdateDeployment", deployment)
	if err != nil {
		return err
	}

	query := `
		UPDATE deployments SET
			status = :status,
			result = :result,
			domains = :domains,
			admin_password_encrypted = :admin_password_encrypted,
			error_message = :error_message,
			updated_at = :updated_at,
			started_at = :started_at,
			completed_at = :completed_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateDeployment", EntityDeployment, deployment.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateDeployment", EntityDeployment, deployment.ID, "deployment not found", ErrNotFound)
	}

	return nil
}

func deleteDeployment(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM deployments WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeleteDeployment", EntityDeployment, id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteDeployment", EntityDeployment, id, "deployment not found", ErrNotFound)
	}

	return nil
}

func listDeployments(ctx context.Context, exec executor, opts ListOptions) ([]domain.Deployment, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM deployments ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	return selectDeployments(ctx, exec, "ListDeployments", query, opts.Limit, opts.Offset)
}

func listDeploymentsBySlug(ctx context.Context, exec executor, slug string, opts ListOptions) ([]domain.Deployment, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM deployments WHERE slug = ? ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	return selectDeployments(ctx, exec, "ListDeploymentsBySlug", query, slug, opts.Limit, opts.Offset)
}

func listDeploymentsByStatus(ctx context.Context, exec executor, status domain.DeploymentStatus, opts ListOptions) ([]domain.Deployment, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM deployments WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?`
	return selectDeployments(ctx, exec, "ListDeploymentsByStatus", query, string(status), opts.Limit, opts.Offset)
}

func getActiveDeploymentBySlug(ctx context.Context, exec executor, slug string) (*domain.Deployment, error) {
	var row deploymentRow
	query := `SELECT * FROM deployments WHERE slug = ? AND status IN ('pending', 'running') ORDER BY created_at DESC LIMIT 1`

	err := exec.GetContext(ctx, &row, query, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetActiveDeploymentBySlug", EntityDeployment, slug, "no active deployment", ErrNotFound)
		}
		return nil, NewStoreError("GetActiveDeploymentBySlug", EntityDeployment, slug, err.Error(), err)
	}

	return rowToDeployment(&row)
}

func listUnverifiedDeployments(ctx context.Context, exec executor, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT * FROM deployments
		WHERE status = 'succeeded'
		AND domains LIKE '%"verification_status":"pending"%'
		ORDER BY updated_at ASC
		LIMIT ?`
	return selectDeployments(ctx, exec, "ListUnverifiedDeployments", query, limit)
}

func selectDeployments(ctx context.Context, exec executor, op, query string, args ...any) ([]domain.Deployment, error) {
	var rows []deploymentRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError(op, EntityDeployment, "", err.Error(), err)
	}

	deployments := make([]domain.Deployment, 0, len(rows))
	for _, row := range rows {
		deployment, err := rowToDeployment(&row)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *deployment)
	}

	return deployments, nil
}

func appendProgressEvent(ctx context.Context, exec executor, event domain.ProgressEvent) error {
	var resultJSON *string
	if event.Result != nil {
		data, err := json.Marshal(event.Result)
		if err != nil {
			return NewStoreError("AppendProgressEvent", EntityEvent, event.DeploymentID, "failed to serialize result", ErrInvalidData)
		}
		s := string(data)
		resultJSON = &s
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	query := `
		INSERT INTO progress_events (deployment_id, step, state, status, icon, progress, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := exec.ExecContext(ctx, query,
		event.DeploymentID,
		string(event.Step),
		string(event.State),
		event.Status,
		event.Icon,
		event.Progress,
		resultJSON,
		ts.Format(timeFormat),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("AppendProgressEvent", EntityEvent, event.DeploymentID, "deployment not found", ErrNotFound)
		}
		return NewStoreError("AppendProgressEvent", EntityEvent, event.DeploymentID, err.Error(), err)
	}

	return nil
}

func listProgressEvents(ctx context.Context, exec executor, deploymentID string) ([]domain.ProgressEvent, error) {
	var rows []eventRow
	query := `SELECT * FROM progress_events WHERE deployment_id = ? ORDER BY id ASC`

	if err := exec.SelectContext(ctx, &rows, query, deploymentID); err != nil {
		return nil, NewStoreError("ListProgressEvents", EntityEvent, deploymentID, err.Error(), err)
	}

	events := make([]domain.ProgressEvent, 0, len(rows))
	for _, row := range rows {
		ts, _ := time.Parse(timeFormat, row.CreatedAt)
		event := domain.ProgressEvent{
			DeploymentID: row.DeploymentID,
			Step:         domain.Stage(row.Step),
			State:        domain.EventStatus(row.State),
			Status:       row.Status,
			Icon:         row.Icon,
			Progress:     row.Progress,
			Timestamp:    ts,
		}
		if row.Result != nil && *row.Result != "" {
			var result domain.DeploymentResult
			if err := json.Unmarshal([]byte(*row.Result), &result); err != nil {
				return nil, NewStoreError("ListProgressEvents", EntityEvent, deploymentID, "failed to parse result", ErrInvalidData)
			}
			event.Result = &result
		}
		events = append(events, event)
	}

	return events, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

func deploymentToRow(op string, deployment *domain.Deployment) (map[string]any, error) {
	var resultJSON *string
	if deployment.Result != nil {
		data, err := json.Marshal(deployment.Result)
		if err != nil {
			return nil, NewStoreError(op, EntityDeployment, deployment.ID, "failed to serialize result", ErrInvalidData)
		}
		s := string(data)
		resultJSON = &s
	}

	domainsJSON, err := json.Marshal(deployment.Domains)
	if err != nil {
		return nil, NewStoreError(op, EntityDeployment, deployment.ID, "failed to serialize domains", ErrInvalidData)
	}

	return map[string]any{
		"id":                       deployment.ID,
		"slug":                     deployment.Slug,
		"project_name":             deployment.Request.ProjectName,
		"project_path":             deployment.Request.ProjectPath,
		"app_type":                 string(deployment.Request.AppType),
		"parent_site":              deployment.Request.ParentSiteSubdomain,
		"status":                   string(deployment.Status),
		"result":                   resultJSON,
		"domains":                  string(domainsJSON),
		"admin_password_encrypted": deployment.AdminPasswordEncrypted,
		"error_message":            deployment.ErrorMessage,
		"created_at":               deployment.CreatedAt.Format(timeFormat),
		"updated_at":               deployment.UpdatedAt.Format(timeFormat),
		"started_at":               formatTime(deployment.StartedAt),
		"completed_at":             formatTime(deployment.CompletedAt),
	}, nil
}

func rowToDeployment(row *deploymentRow) (*domain.Deployment, error) {
	createdAt, _ := time.Parse(timeFormat, row.CreatedAt)
	updatedAt, _ := time.Parse(timeFormat, row.UpdatedAt)

	var result *domain.DeploymentResult
	if row.Result != nil && *row.Result != "" && *row.Result != "null" {
		result = &domain.DeploymentResult{}
		if err := json.Unmarshal([]byte(*row.Result), result); err != nil {
			return nil, NewStoreError("rowToDeployment", EntityDeployment, row.ID, "failed to parse result", ErrInvalidData)
		}
	}

	var domains []domain.Domain
	if row.Domains != nil && *row.Domains != "" && *row.Domains != "null" {
		if err := json.Unmarshal([]byte(*row.Domains), &domains); err != nil {
			return nil, NewStoreError("rowToDeployment", EntityDeployment, row.ID, "failed to parse domains", ErrInvalidData)
		}
	}

	return &domain.Deployment{
		ID: row.ID,
		Request: domain.DeploymentRequest{
			ProjectPath:         row.ProjectPath,
			ProjectName:         row.ProjectName,
			AppType:             domain.AppType(row.AppType),
			ParentSiteSubdomain: row.ParentSite,
		},
		Slug:                   row.Slug,
		Status:                 domain.DeploymentStatus(row.Status),
		Result:                 result,
		Domains:                domains,
		AdminPasswordEncrypted: row.AdminPasswordEncrypted,
		ErrorMessage:           row.ErrorMessage,
		CreatedAt:              createdAt,
		UpdatedAt:              updatedAt,
		StartedAt:              parseTime(row.StartedAt),
		CompletedAt:            parseTime(row.CompletedAt),
	}, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(timeFormat)
	return &s
}

func parseTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(timeFormat, *s)
	if err != nil {
		return nil
	}
	return &t
}
