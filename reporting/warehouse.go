package reporting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS interactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	month TEXT NOT NULL,
	session_id TEXT NOT NULL,
	prompt TEXT NOT NULL,
	response TEXT NOT NULL,
	image_src TEXT,
	image_alt TEXT
);

CREATE INDEX IF NOT EXISTS idx_interactions_month ON interactions(month);
CREATE INDEX IF NOT EXISTS idx_interactions_timestamp ON interactions(timestamp);
CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id);
`

// MonthSummary is the row count of one monthly partition.
type MonthSummary struct {
	Month        string
	Interactions int64
	Sessions     int64
}

// Warehouse stores interactions in SQLite, partitioned by month.
type Warehouse struct {
	db *sql.DB
}

// OpenWarehouse opens (creating if needed) the database at path.
func OpenWarehouse(ctx context.Context, path string) (*Warehouse, error) {
	if path == "" {
		return nil, errors.New("warehouse path cannot be empty")
	}

	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("warehouse opened")
	return &Warehouse{db: db}, nil
}

// Insert writes one interaction.
func (w *Warehouse) Insert(ctx context.Context, in Interaction) error {
	var src, alt sql.NullString
	if in.Image != nil {
		src = sql.NullString{String: in.Image.Src, Valid: true}
		alt = sql.NullString{String: in.Image.Alt, Valid: true}
	}

	_, err := w.db.ExecContext(ctx, `
		INSERT INTO interactions (timestamp, month, session_id, prompt, response, image_src, image_alt)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.Timestamp.UTC().UnixMilli(), monthKey(in.Timestamp), in.SessionID, in.Prompt, in.Response, src, alt,
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// Count returns the number of stored interactions.
func (w *Warehouse) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return n, nil
}

// Session returns the interactions of one session, oldest first.
func (w *Warehouse) Session(ctx context.Context, sessionID string) ([]Interaction, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT timestamp, session_id, prompt, response, image_src, image_alt
		FROM interactions WHERE session_id = ? ORDER BY timestamp, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var (
			ts       int64
			in       Interaction
			src, alt sql.NullString
		)
		if err := rows.Scan(&ts, &in.SessionID, &in.Prompt, &in.Response, &src, &alt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		in.Timestamp = time.UnixMilli(ts).UTC()
		if src.Valid {
			in.Image = &Image{Src: src.String, Alt: alt.String}
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Summary returns per-month counts, newest month first.
func (w *Warehouse) Summary(ctx context.Context) ([]MonthSummary, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT month, COUNT(*), COUNT(DISTINCT session_id)
		FROM interactions GROUP BY month ORDER BY month DESC`)
	if err != nil {
		return nil, fmt.Errorf("summarize interactions: %w", err)
	}
	defer rows.Close()

	var out []MonthSummary
	for rows.Next() {
		var s MonthSummary
		if err := rows.Scan(&s.Month, &s.Interactions, &s.Sessions); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune deletes interactions older than before and returns how many went.
func (w *Warehouse) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := w.db.ExecContext(ctx, `DELETE FROM interactions WHERE timestamp < ?`, before.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune interactions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (w *Warehouse) Close() error {
	return w.db.Close()
}
