package repository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/blake2b"

	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/template"
	"github.com/okian/keyguard/pkg/metrics"
)

// SchemaVersion is the latest schema applied by migrate.
const SchemaVersion = 2

// SQLiteStore is a Store persisted in a single SQLite file.
type SQLiteStore struct {
	db          *sql.DB
	busyTimeout time.Duration

	metricsUpdateInterval time.Duration
	wg                    sync.WaitGroup
	stopChan              chan struct{}
	closed                atomic.Bool
}

// NewSQLiteStore opens or creates the database at path and migrates it to
// SchemaVersion.
func NewSQLiteStore(ctx context.Context, path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	s := &SQLiteStore{
		busyTimeout:           5 * time.Second,
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", path, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	s.db = db

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.startMetricsUpdater(ctx)
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > SchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, SchemaVersion)
	}

	for version < SchemaVersion {
		version++
		var stmts []string
		switch version {
		case 1:
			stmts = schemaV1
		case 2:
			stmts = schemaV2
		default:
			return fmt.Errorf("unknown schema version: %d", version)
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema v%d: %w", version, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS samples (
		id         TEXT PRIMARY KEY,
		identity   TEXT NOT NULL,
		events     BLOB NOT NULL,
		chars      INTEGER NOT NULL DEFAULT 0,
		key_events INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_identity ON samples(identity)`,
	`CREATE TABLE IF NOT EXISTS templates (
		id            TEXT PRIMARY KEY,
		identity      TEXT NOT NULL,
		embedding     BLOB,
		scalars       TEXT,
		n_samples     INTEGER NOT NULL DEFAULT 0,
		model_version TEXT NOT NULL,
		checksum      BLOB NOT NULL,
		created_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_templates_identity ON templates(identity)`,
	`CREATE TABLE IF NOT EXISTS verifications (
		id            TEXT PRIMARY KEY,
		identity      TEXT NOT NULL,
		score         REAL NOT NULL,
		verdict       TEXT NOT NULL,
		paste_flag    INTEGER NOT NULL DEFAULT 0,
		scalar_score  INTEGER,
		model_version TEXT NOT NULL,
		meta          TEXT,
		created_at    INTEGER NOT NULL
	)`,
}

// v2 tracks which answer submission produced a verification.
var schemaV2 = []string{
	`ALTER TABLE verifications ADD COLUMN submission_id TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE verifications ADD COLUMN question_id TEXT NOT NULL DEFAULT ''`,
	`CREATE INDEX IF NOT EXISTS idx_verifications_identity ON verifications(identity, created_at)`,
}

// AddSample implements Store.AddSample.
func (s *SQLiteStore) AddSample(ctx context.Context, sample model.Sample) (int, error) {
	start := time.Now()
	defer func() { metrics.RecordRepositoryUpdateLatency(DriverSQLite, "add_sample", since(start)) }()

	if strings.TrimSpace(sample.Identity) == "" {
		return 0, ErrInvalidIdentity
	}
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if sample.ID == "" {
		sample.ID = NewID()
	}
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(sample.Events)
	if err != nil {
		return 0, fmt.Errorf("encode events: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO samples (id, identity, events, chars, key_events, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sample.ID, sample.Identity, snappy.Encode(nil, raw), sample.Chars, sample.KeyEvents, sample.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert sample: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples WHERE identity = ?`, sample.Identity).Scan(&count); err != nil {
		return 0, err
	}
	return count, tx.Commit()
}

// Samples implements Store.Samples.
func (s *SQLiteStore) Samples(ctx context.Context, identity string) ([]model.Sample, error) {
	start := time.Now()
	defer func() { metrics.RecordRepositoryQueryLatency(DriverSQLite, "samples", since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, events, chars, key_events, created_at FROM samples WHERE identity = ? ORDER BY rowid`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Sample
	for rows.Next() {
		var (
			smp     = model.Sample{Identity: identity}
			blob    []byte
			created int64
		)
		if err := rows.Scan(&smp.ID, &blob, &smp.Chars, &smp.KeyEvents, &created); err != nil {
			return nil, err
		}
		raw, err := snappy.Decode(nil, blob)
		if err != nil {
			return nil, fmt.Errorf("decode sample %s: %w", smp.ID, err)
		}
		if err := json.Unmarshal(raw, &smp.Events); err != nil {
			return nil, fmt.Errorf("decode sample %s: %w", smp.ID, err)
		}
		smp.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, smp)
	}
	return out, rows.Err()
}

// ClearSamples implements Store.ClearSamples.
func (s *SQLiteStore) ClearSamples(ctx context.Context, identity string, ids ...string) error {
	start := time.Now()
	defer func() { metrics.RecordRepositoryUpdateLatency(DriverSQLite, "clear_samples", since(start)) }()

	if len(ids) == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM samples WHERE identity = ?`, identity)
		return err
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, identity)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `DELETE FROM samples WHERE identity = ? AND id IN (?` + strings.Repeat(`, ?`, len(ids)-1) + `)`
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// ReplaceTemplates implements Store.ReplaceTemplates.
func (s *SQLiteStore) ReplaceTemplates(ctx context.Context, identity string, recs []template.Record) error {
	start := time.Now()
	defer func() { metrics.RecordRepositoryUpdateLatency(DriverSQLite, "replace_templates", since(start)) }()

	if strings.TrimSpace(identity) == "" {
		return ErrInvalidIdentity
	}
	if s.closed.Load() {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE identity = ?`, identity); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, r := range recs {
		if r.ID == "" {
			r.ID = NewID()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		var scalars []byte
		if r.Scalars != nil {
			if scalars, err = template.EncodeScalars(*r.Scalars); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO templates (id, identity, embedding, scalars, n_samples, model_version, checksum, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, identity, nullBytes(r.Embedding), nullString(scalars), r.NSamples, r.ModelVersion,
			checksum(r.Embedding, scalars), r.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
	}
	return tx.Commit()
}

// Templates implements Store.Templates. Rows whose checksum does not match
// are returned with neither embedding nor scalars, so they count as excluded
// when turned into reference vectors.
func (s *SQLiteStore) Templates(ctx context.Context, identity string) ([]template.Record, error) {
	start := time.Now()
	defer func() { metrics.RecordRepositoryQueryLatency(DriverSQLite, "templates", since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding, scalars, n_samples, model_version, checksum, created_at
		 FROM templates WHERE identity = ? ORDER BY rowid`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out     []template.Record
		corrupt int
	)
	for rows.Next() {
		var (
			r         = template.Record{Identity: identity}
			embedding []byte
			scalars   sql.NullString
			sum       []byte
			created   int64
		)
		if err := rows.Scan(&r.ID, &embedding, &scalars, &r.NSamples, &r.ModelVersion, &sum, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(0, created).UTC()

		var scalarBytes []byte
		if scalars.Valid {
			scalarBytes = []byte(scalars.String)
		}
		if !bytes.Equal(sum, checksum(embedding, scalarBytes)) {
			corrupt++
			out = append(out, r)
			continue
		}
		r.Embedding = embedding
		if scalars.Valid {
			sc, err := template.DecodeScalars(scalarBytes)
			if err != nil {
				corrupt++
				out = append(out, r)
				continue
			}
			r.Scalars = &sc
		}
		out = append(out, r)
	}
	if corrupt > 0 {
		metrics.RecordTemplatesExcluded("corrupt", corrupt)
	}
	return out, rows.Err()
}

// RecordVerification implements Store.RecordVerification.
func (s *SQLiteStore) RecordVerification(ctx context.Context, v model.Verification) error {
	start := time.Now()
	defer func() { metrics.RecordRepositoryUpdateLatency(DriverSQLite, "record_verification", since(start)) }()

	if s.closed.Load() {
		return ErrClosed
	}
	if v.ID == "" {
		v.ID = NewID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	var meta []byte
	if v.Meta != nil {
		var err error
		if meta, err = json.Marshal(v.Meta); err != nil {
			return fmt.Errorf("encode meta: %w", err)
		}
	}
	var scalar sql.NullInt64
	if v.ScalarScore != nil {
		scalar = sql.NullInt64{Int64: int64(*v.ScalarScore), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO verifications
		 (id, identity, submission_id, question_id, score, verdict, paste_flag, scalar_score, model_version, meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Identity, v.SubmissionID, v.QuestionID, v.Score, string(v.Verdict), v.PasteFlag, scalar,
		v.ModelVersion, nullString(meta), v.CreatedAt.UnixNano())
	return err
}

// Verification implements Store.Verification.
func (s *SQLiteStore) Verification(ctx context.Context, id string) (model.Verification, error) {
	start := time.Now()
	defer func() { metrics.RecordRepositoryQueryLatency(DriverSQLite, "verification", since(start)) }()

	var (
		v       = model.Verification{ID: id}
		verdict string
		scalar  sql.NullInt64
		meta    sql.NullString
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT identity, submission_id, question_id, score, verdict, paste_flag, scalar_score, model_version, meta, created_at
		 FROM verifications WHERE id = ?`, id).
		Scan(&v.Identity, &v.SubmissionID, &v.QuestionID, &v.Score, &verdict, &v.PasteFlag, &scalar, &v.ModelVersion, &meta, &created)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.Verification{}, ErrNotFound
	}
	if err != nil {
		return model.Verification{}, err
	}
	v.Verdict = model.Verdict(verdict)
	v.CreatedAt = time.Unix(0, created).UTC()
	if scalar.Valid {
		v.ScalarScore = model.Ptr(int(scalar.Int64))
	}
	if meta.Valid {
		v.Meta = &model.SampleMeta{}
		if err := json.Unmarshal([]byte(meta.String), v.Meta); err != nil {
			return model.Verification{}, fmt.Errorf("decode meta: %w", err)
		}
	}
	return v, nil
}

// Profile implements Store.Profile.
func (s *SQLiteStore) Profile(ctx context.Context, identity string) (model.Profile, error) {
	start := time.Now()
	defer func() { metrics.RecordRepositoryQueryLatency(DriverSQLite, "profile", since(start)) }()

	var (
		pending int
		updated sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM samples WHERE identity = ?),
			(SELECT MAX(created_at) FROM (
				SELECT created_at FROM samples WHERE identity = ?
				UNION ALL
				SELECT created_at FROM templates WHERE identity = ?))`, identity, identity, identity).
		Scan(&pending, &updated)
	if err != nil {
		return model.Profile{}, err
	}
	recs, err := s.Templates(ctx, identity)
	if err != nil {
		return model.Profile{}, err
	}

	var ts time.Time
	if updated.Valid {
		ts = time.Unix(0, updated.Int64).UTC()
	}
	p, err := buildProfile(identity, pending, recs, ts)
	if err != nil {
		metrics.RecordErrorByComponent("repository", "not_found")
	}
	return p, err
}

// Count implements Store.Count.
func (s *SQLiteStore) Count(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT identity) FROM templates`).Scan(&n); err != nil {
		metrics.RecordErrorByComponent("repository", "count_failed")
		return 0
	}
	return n
}

// Close stops the metrics updater and closes the database.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopChan)
	s.wg.Wait()
	return s.db.Close()
}

func (s *SQLiteStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateEnrolledIdentities(s.Count(ctx))
			}
		}
	}()
}

// checksum covers the embedding and scalar columns of a template row.
func checksum(embedding, scalars []byte) []byte {
	h, _ := blake2b.New256(nil)
	_, _ = h.Write(embedding)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(scalars)
	return h.Sum(nil)
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
