package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/fingraph/internal/db"
)

// ErrNotFound is returned by GetByID for unknown ids.
var ErrNotFound = errors.New("turn not found")

// Store provides CRUD operations for recorded turns.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Record inserts turn. If turn.ID is empty a UUID is generated; a zero
// Timestamp becomes the current time.
func (s *Store) Record(ctx context.Context, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	params := turn.Parameters
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshalling parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO turns (
			id, timestamp, conversation_id, question, intent, entity_id,
			match_kind, category, template_id, generated_query, parameters,
			row_count, answer, confidence, error_kind, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID,
		turn.Timestamp.UTC().Format(time.DateTime),
		turn.ConversationID,
		turn.Question,
		turn.Intent,
		turn.EntityID,
		turn.MatchKind,
		turn.Category,
		turn.TemplateID,
		turn.GeneratedQuery,
		string(paramsJSON),
		turn.RowCount,
		turn.Answer,
		turn.Confidence,
		turn.ErrorKind,
		turn.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, timestamp, conversation_id, question, intent, entity_id,
	match_kind, category, template_id, generated_query, parameters,
	row_count, answer, confidence, error_kind, duration_ms FROM turns`

// GetByID retrieves a single turn.
func (s *Store) GetByID(ctx context.Context, id string) (*Turn, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	t, err := scanInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// Filter controls which turns Query returns.
type Filter struct {
	ConversationID string
	EntityID       string
	Intent         string
	ErrorKind      string
	// FailedOnly selects turns with any error kind.
	FailedOnly bool
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// Query returns turns matching filter, newest first.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Turn, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.ConversationID != "" {
		clauses = append(clauses, "conversation_id = ?")
		args = append(args, filter.ConversationID)
	}
	if filter.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, strings.ToUpper(filter.EntityID))
	}
	if filter.Intent != "" {
		clauses = append(clauses, "intent = ?")
		args = append(args, filter.Intent)
	}
	if filter.ErrorKind != "" {
		clauses = append(clauses, "error_kind = ?")
		args = append(args, filter.ErrorKind)
	}
	if filter.FailedOnly {
		clauses = append(clauses, "error_kind != ''")
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.DateTime))
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until.UTC().Format(time.DateTime))
	}

	q := selectColumns
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY timestamp DESC, rowid DESC"
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			q += " LIMIT -1"
		}
		q += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		t, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, *t)
	}
	return turns, rows.Err()
}

// Stats summarizes the recorded turns.
type Stats struct {
	Total         int            `json:"total"`
	ByErrorKind   map[string]int `json:"by_error_kind"`
	AvgConfidence float64        `json:"avg_confidence"`
	AvgDurationMs float64        `json:"avg_duration_ms"`
}

// Stats aggregates every recorded turn.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByErrorKind: make(map[string]int)}
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(AVG(confidence), 0), COALESCE(AVG(duration_ms), 0) FROM turns`)
	if err := row.Scan(&st.Total, &st.AvgConfidence, &st.AvgDurationMs); err != nil {
		return st, fmt.Errorf("aggregating turns: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT error_kind, COUNT(*) FROM turns GROUP BY error_kind`)
	if err != nil {
		return st, fmt.Errorf("grouping turns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return st, err
		}
		if kind == "" {
			kind = "none"
		}
		st.ByErrorKind[kind] = n
	}
	return st, rows.Err()
}

// DeleteBefore removes turns older than before and returns how many.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM turns WHERE timestamp < ?",
		before.UTC().Format(time.DateTime),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old turns: %w", err)
	}
	return res.RowsAffected()
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(sc scanner) (*Turn, error) {
	var (
		t          Turn
		ts         string
		paramsJSON string
	)
	err := sc.Scan(
		&t.ID, &ts, &t.ConversationID, &t.Question, &t.Intent, &t.EntityID,
		&t.MatchKind, &t.Category, &t.TemplateID, &t.GeneratedQuery, &paramsJSON,
		&t.RowCount, &t.Answer, &t.Confidence, &t.ErrorKind, &t.DurationMs,
	)
	if err != nil {
		return nil, err
	}

	if parsed, perr := time.Parse(time.DateTime, ts); perr == nil {
		t.Timestamp = parsed
	} else if parsed, perr := time.Parse(time.RFC3339, ts); perr == nil {
		t.Timestamp = parsed
	}
	if err := json.Unmarshal([]byte(paramsJSON), &t.Parameters); err != nil || len(t.Parameters) == 0 {
		t.Parameters = nil
	}
	return &t, nil
}
