package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// HistoryStore is the campaign history journal, kept in SQLite.
type HistoryStore struct {
	db  *sql.DB
	cfg HistoryConfig
}

// NewHistoryStore creates a new history store instance.
func NewHistoryStore(cfg HistoryConfig) (*HistoryStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &HistoryStore{cfg: cfg}, nil
}

// OpenHistoryStore creates, initializes and migrates a history store.
func OpenHistoryStore(ctx context.Context, path string) (*HistoryStore, error) {
	store, err := NewHistoryStore(HistoryConfig{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init opens the database connection and enables WAL mode.
func (s *HistoryStore) Init(ctx context.Context) error {
	dsn := memoryPath
	if s.cfg.Path != memoryPath {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", s.cfg.Path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *HistoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *HistoryStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Record appends a transition to the journal and sets its ID.
func (s *HistoryStore) Record(ctx context.Context, t *Transition) error {
	query := `
		INSERT INTO transitions (campaign_id, cluster_name, instance_id, from_state, to_state, completed, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if t.RecordedAt.IsZero() {
		t.RecordedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		t.CampaignID,
		t.ClusterName,
		t.InstanceID,
		t.FromState,
		t.ToState,
		t.Completed,
		t.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transition id: %w", err)
	}
	t.ID = id
	return nil
}

// ListByCluster returns the most recent transitions for a cluster, newest
// first. A limit of zero or less returns all of them.
func (s *HistoryStore) ListByCluster(ctx context.Context, cluster string, limit int) ([]*Transition, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, campaign_id, cluster_name, instance_id, from_state, to_state, completed, recorded_at
		FROM transitions
		WHERE cluster_name = ?
		ORDER BY id DESC
		LIMIT ?
	`
	return s.list(ctx, query, cluster, limit)
}

// ListByCampaign returns every transition of a campaign in the order they
// were recorded.
func (s *HistoryStore) ListByCampaign(ctx context.Context, campaignID string) ([]*Transition, error) {
	query := `
		SELECT id, campaign_id, cluster_name, instance_id, from_state, to_state, completed, recorded_at
		FROM transitions
		WHERE campaign_id = ?
		ORDER BY id ASC
	`
	return s.list(ctx, query, campaignID)
}

func (s *HistoryStore) list(ctx context.Context, query string, args ...interface{}) ([]*Transition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	transitions := []*Transition{}
	for rows.Next() {
		t := &Transition{}
		err := rows.Scan(
			&t.ID,
			&t.CampaignID,
			&t.ClusterName,
			&t.InstanceID,
			&t.FromState,
			&t.ToState,
			&t.Completed,
			&t.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}

	return transitions, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *HistoryStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
