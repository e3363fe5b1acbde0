// Package mailqueue provides a persistent queue for push notification mails.
//
// Jobs are stored in a SQLite database. A drain claims due jobs, which leases
// them for a fixed duration. Jobs that are neither marked as sent nor as
// failed before the lease expires are claimed again, delivery is therefore
// at-least-once.
package mailqueue

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/simplesurance/chatnotifier/internal/logfields"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const loggerName = "mailqueue"

// DefLease is the default duration a claimed job is reserved for the
// claiming drain.
const DefLease = 5 * time.Minute

const busyTimeout = 5 * time.Second

// Store is a SQLite backed mail queue.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	lease  time.Duration
	now    func() time.Time
}

type Option func(*Store)

// WithLease sets the duration claimed jobs are leased for.
func WithLease(d time.Duration) Option {
	return func(s *Store) {
		s.lease = d
	}
}

// Open opens the database at path, creating it and its parent directory
// when they do not exist.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory failed: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database failed: %w", err)
	}

	// sqlite supports only one concurrent writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := Store{
		db:     db,
		logger: zap.L().Named(loggerName),
		lease:  DefLease,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(&s)
	}

	ctx := context.Background()
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			s.logger.Warn(
				"setting pragma failed",
				logfields.Event("mailqueue_pragma_failed"),
				zap.String("pragma", pragma),
				zap.Error(err),
			)
		}
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database schema failed: %w", err)
	}

	return &s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue adds a pending job to the queue and returns its id.
// The job is due immediately.
func (s *Store) Enqueue(ctx context.Context, job *Job) (int64, error) {
	if len(job.Recipients) == 0 {
		return 0, errors.New("job has no recipients")
	}

	if len(job.Payload) == 0 {
		return 0, errors.New("job has no payload")
	}

	now := s.now().UnixMilli()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO mail_jobs(project_id, recipients, payload, state, created_at, next_attempt_at)
		 VALUES(?,?,?,?,?,?)`,
		job.ProjectID, strings.Join(job.Recipients, " "), job.Payload, StatePending, now, now,
	)
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

// Claim returns up to limit pending jobs that are due and not leased, in
// the order they were enqueued. The returned jobs are leased.
func (s *Store) Claim(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+`
		 FROM mail_jobs
		 WHERE state = ? AND next_attempt_at <= ? AND locked_until <= ?
		 ORDER BY id
		 LIMIT ?`,
		StatePending, now.UnixMilli(), now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}

	lockedUntil := now.Add(s.lease).UnixMilli()
	for _, job := range jobs {
		_, err := tx.ExecContext(ctx,
			`UPDATE mail_jobs SET locked_until = ? WHERE id = ?`,
			lockedUntil, job.ID,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return jobs, nil
}

// MarkSent marks the job as delivered.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	return s.finish(ctx, id, StateSent, "")
}

// MarkFailed records a failed delivery attempt.
// When retryAt is the zero time the job is not retried anymore, otherwise it
// becomes due again at retryAt.
func (s *Store) MarkFailed(ctx context.Context, id int64, cause error, retryAt time.Time) error {
	var errStr string
	if cause != nil {
		errStr = cause.Error()
	}

	if retryAt.IsZero() {
		return s.finish(ctx, id, StateFailed, errStr)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE mail_jobs
		 SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_until = 0
		 WHERE id = ? AND state = ?`,
		errStr, retryAt.UnixMilli(), id, StatePending,
	)
	if err != nil {
		return err
	}

	return mustAffectOne(res, id)
}

func (s *Store) finish(ctx context.Context, id int64, state State, errStr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mail_jobs
		 SET state = ?, attempts = attempts + 1, last_error = NULLIF(?, ''), finished_at = ?, locked_until = 0
		 WHERE id = ? AND state = ?`,
		state, errStr, s.now().UnixMilli(), id, StatePending,
	)
	if err != nil {
		return err
	}

	return mustAffectOne(res, id)
}

// Prune deletes sent and failed jobs that were finished before the given
// time and returns the number of deleted jobs.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM mail_jobs WHERE state IN (?, ?) AND finished_at < ?`,
		StateSent, StateFailed, before.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// Get returns the job with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM mail_jobs WHERE id = ?`,
		id,
	)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return job, nil
}

// List returns up to limit jobs, the most recently enqueued first.
func (s *Store) List(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM mail_jobs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}

	return scanJobs(rows)
}

// Stats returns the number of jobs per state.
func (s *Store) Stats(ctx context.Context) (map[State]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM mail_jobs GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[State]int64{}
	for rows.Next() {
		var state State
		var cnt int64

		if err := rows.Scan(&state, &cnt); err != nil {
			return nil, err
		}

		result[state] = cnt
	}

	return result, rows.Err()
}

const jobColumns = `id, project_id, recipients, payload, state, attempts, COALESCE(last_error, ''),
	created_at, next_attempt_at, COALESCE(finished_at, 0)`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var recipients string
	var createdAt, nextAttemptAt, finishedAt int64

	err := row.Scan(
		&job.ID, &job.ProjectID, &recipients, &job.Payload,
		&job.State, &job.Attempts, &job.LastError,
		&createdAt, &nextAttemptAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Recipients = strings.Fields(recipients)
	job.CreatedAt = time.UnixMilli(createdAt)
	job.NextAttemptAt = time.UnixMilli(nextAttemptAt)
	if finishedAt != 0 {
		job.FinishedAt = time.UnixMilli(finishedAt)
	}

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func mustAffectOne(res sql.Result, id int64) error {
	cnt, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if cnt != 1 {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}

	return nil
}
