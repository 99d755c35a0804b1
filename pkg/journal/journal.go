// Package journal keeps the append-only feedback and document log.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/promptgate/pkg/metrics"
	"github.com/pario-ai/promptgate/pkg/models"
)

const (
	// DefaultLimit caps listings that do not ask for a limit.
	DefaultLimit = 100
	// DefaultDomain is recorded for documents filed without a domain.
	DefaultDomain = "general"
)

var (
	// ErrClosed is returned by submissions after Close.
	ErrClosed = errors.New("journal closed")
	// ErrQueueFull is returned when the background writer cannot keep up.
	ErrQueueFull = errors.New("journal queue full")
)

// Journal writes and queries feedback and documents in SQLite. Submit*
// calls enqueue to a background writer and never block.
type Journal struct {
	db      *sql.DB
	pending chan any
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New opens the journal database, creates the schema and starts the
// background writer with room for buffer queued records.
func New(dbPath string, buffer int) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}
	if buffer <= 0 {
		buffer = 1
	}

	j := &Journal{db: db, pending: make(chan any, buffer)}
	j.wg.Add(1)
	go j.writeLoop()
	return j, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS feedback (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		prompt     TEXT NOT NULL,
		response   TEXT NOT NULL,
		rating     INTEGER NOT NULL,
		correction TEXT,
		created_at DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		filename   TEXT NOT NULL,
		content    TEXT NOT NULL,
		domain     TEXT,
		created_at DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_documents_domain ON documents(domain)`)
	return err
}

// AddFeedback inserts rec and returns its id.
func (j *Journal) AddFeedback(ctx context.Context, rec models.FeedbackRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO feedback (prompt, response, rating, correction, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Prompt, rec.Response, rec.Rating, rec.Correction, rec.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert feedback: %w", err)
	}
	return res.LastInsertId()
}

// AddDocument inserts rec and returns its id.
func (j *Journal) AddDocument(ctx context.Context, rec models.DocumentRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if strings.TrimSpace(rec.Domain) == "" {
		rec.Domain = DefaultDomain
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO documents (filename, content, domain, created_at) VALUES (?, ?, ?, ?)`,
		rec.Filename, rec.Content, rec.Domain, rec.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	return res.LastInsertId()
}

// SubmitFeedback queues rec for the background writer.
func (j *Journal) SubmitFeedback(ctx context.Context, rec models.FeedbackRecord) error {
	return j.submit(ctx, "feedback", rec)
}

// SubmitDocument queues rec for the background writer.
func (j *Journal) SubmitDocument(ctx context.Context, rec models.DocumentRecord) error {
	return j.submit(ctx, "document", rec)
}

func (j *Journal) submit(ctx context.Context, kind string, rec any) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	select {
	case j.pending <- rec:
		return nil
	default:
		metrics.JournalDropped.WithLabelValues(kind).Inc()
		logutil.GetLogger(ctx).Warn("journal queue full, dropping record", zap.String("kind", kind))
		return ErrQueueFull
	}
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	logger := logutil.GetLogger(context.Background())
	for rec := range j.pending {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		switch r := rec.(type) {
		case models.FeedbackRecord:
			_, err = j.AddFeedback(ctx, r)
		case models.DocumentRecord:
			_, err = j.AddDocument(ctx, r)
		}
		cancel()
		if err != nil {
			logger.Error("journal write failed", zap.Error(err))
		}
	}
}

// Feedback lists feedback, newest first.
func (j *Journal) Feedback(ctx context.Context, opts models.JournalQueryOpts) ([]models.FeedbackRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, prompt, response, rating, correction, created_at
		 FROM feedback ORDER BY created_at DESC, id DESC LIMIT ?`, limit(opts.Limit))
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []models.FeedbackRecord
	for rows.Next() {
		var r models.FeedbackRecord
		var correction sql.NullString
		if err := rows.Scan(&r.ID, &r.Prompt, &r.Response, &r.Rating, &correction, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback row: %w", err)
		}
		r.Correction = correction.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Documents lists documents, newest first, optionally for one domain.
func (j *Journal) Documents(ctx context.Context, opts models.JournalQueryOpts) ([]models.DocumentRecord, error) {
	q := `SELECT id, filename, content, domain, created_at FROM documents`
	var args []any
	if opts.Domain != "" {
		q += " WHERE domain = ?"
		args = append(args, opts.Domain)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit(opts.Limit))

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []models.DocumentRecord
	for rows.Next() {
		var r models.DocumentRecord
		var domain sql.NullString
		if err := rows.Scan(&r.ID, &r.Filename, &r.Content, &domain, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		r.Domain = domain.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close flushes queued records and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.pending)
	j.mu.Unlock()

	j.wg.Wait()
	return j.db.Close()
}

func limit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}
