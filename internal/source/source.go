package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/transpostw1/vincap-retro-sync/internal/mapping"
)

var (
	// ErrNotFound means the requested record id does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable wraps connection-level failures; the orchestrator
	// retries these a bounded number of times before aborting.
	ErrUnavailable = errors.New("source unavailable")
)

// identifier gates table names before they are interpolated into SQL.
var identifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store reads source records from the Neon database.
type Store struct {
	db *sql.DB
}

// Open connects to the source database using the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// Tuned pool defaults; runs share this pool, checkout is concurrency-safe
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing pool, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// FetchSpec bounds one fetch: a table, the mapped source columns, paging and
// an optional single record id.
type FetchSpec struct {
	Table      string
	Columns    []string
	BatchSize  int
	MaxRecords int
	RecordID   string
}

// Row is one fetched source record with its primary key.
type Row struct {
	ID     string
	Record mapping.Record
}

// Fetch returns a lazy, finite, non-restartable iterator over the selected
// records. Pages of BatchSize are pulled as the caller advances; at most
// MaxRecords rows are yielded (zero means unlimited).
func (s *Store) Fetch(spec FetchSpec) (*Iterator, error) {
	if !identifier.MatchString(spec.Table) {
		return nil, fmt.Errorf("invalid table name %q", spec.Table)
	}
	if len(spec.Columns) == 0 {
		return nil, errors.New("no columns to select")
	}
	for _, col := range spec.Columns {
		if !identifier.MatchString(col) {
			return nil, fmt.Errorf("invalid column name %q", col)
		}
	}
	if spec.BatchSize <= 0 {
		spec.BatchSize = 50
	}
	return &Iterator{store: s, spec: spec}, nil
}

// Iterator yields rows in fetch order. Usage follows sql.Rows: Next, Row, Err.
type Iterator struct {
	store *Store
	spec  FetchSpec

	buf     []Row
	idx     int
	offset  int
	yielded int
	done    bool
	cur     Row
	err     error
}

// Next advances to the next record, pulling a new page when the buffer is
// drained. Returns false at the end of the sequence or on error.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if it.spec.MaxRecords > 0 && it.yielded >= it.spec.MaxRecords {
		return false
	}
	if it.idx >= len(it.buf) {
		if it.done {
			return false
		}
		if err := it.fill(ctx); err != nil {
			it.err = err
			return false
		}
		if len(it.buf) == 0 {
			return false
		}
	}
	it.cur = it.buf[it.idx]
	it.idx++
	it.yielded++
	return true
}

// Row returns the record positioned by the last successful Next.
func (it *Iterator) Row() Row { return it.cur }

// Err reports the first error hit while iterating.
func (it *Iterator) Err() error { return it.err }

func (it *Iterator) fill(ctx context.Context) error {
	it.buf = it.buf[:0]
	it.idx = 0

	if it.spec.RecordID != "" {
		it.done = true
		row, err := it.store.fetchOne(ctx, it.spec)
		if err != nil {
			return err
		}
		it.buf = append(it.buf, row)
		return nil
	}

	limit := it.spec.BatchSize
	if it.spec.MaxRecords > 0 {
		if remaining := it.spec.MaxRecords - it.yielded; remaining < limit {
			limit = remaining
		}
	}

	query := fmt.Sprintf(`select id, %s from %s order by id limit $1 offset $2`,
		strings.Join(it.spec.Columns, ", "), it.spec.Table)
	rows, err := it.store.db.QueryContext(ctx, query, limit, it.offset)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		row, err := scanRow(rows, it.spec.Columns)
		if err != nil {
			return err
		}
		it.buf = append(it.buf, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	it.offset += len(it.buf)
	if len(it.buf) < limit {
		it.done = true
	}
	return nil
}

func (s *Store) fetchOne(ctx context.Context, spec FetchSpec) (Row, error) {
	query := fmt.Sprintf(`select id, %s from %s where id = $1`,
		strings.Join(spec.Columns, ", "), spec.Table)
	rows, err := s.db.QueryContext(ctx, query, spec.RecordID)
	if err != nil {
		return Row{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Row{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Row{}, fmt.Errorf("%w: id=%s", ErrNotFound, spec.RecordID)
	}
	return scanRow(rows, spec.Columns)
}

func scanRow(rows *sql.Rows, columns []string) (Row, error) {
	values := make([]any, len(columns)+1)
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return Row{}, fmt.Errorf("scan row: %w", err)
	}

	row := Row{
		ID:     asString(values[0]),
		Record: make(mapping.Record, len(columns)),
	}
	for i, col := range columns {
		row.Record[col] = normalize(values[i+1])
	}
	return row, nil
}

// RecordSummary is the shape served by the list-records operation.
type RecordSummary struct {
	ID          string  `json:"id"`
	InvoiceNo   string  `json:"invoice_no"`
	InvoiceDate string  `json:"invoice_date,omitempty"`
	TotalAmount float64 `json:"total_amount"`
}

// ListRecords returns a short listing of available records for diagnostics.
func (s *Store) ListRecords(ctx context.Context, table string, limit int) ([]RecordSummary, error) {
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if limit <= 0 || limit > 100 {
		limit = 5
	}
	query := fmt.Sprintf(`select id, invoice_no, invoice_date, total_amount from %s order by id limit $1`, table)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var res []RecordSummary
	for rows.Next() {
		var (
			id      any
			no      sql.NullString
			date    sql.NullTime
			amount  sql.NullFloat64
			summary RecordSummary
		)
		if err := rows.Scan(&id, &no, &date, &amount); err != nil {
			return nil, fmt.Errorf("scan record summary: %w", err)
		}
		summary.ID = asString(id)
		summary.InvoiceNo = no.String
		if date.Valid {
			summary.InvoiceDate = date.Time.Format("2006-01-02")
		}
		summary.TotalAmount = amount.Float64
		res = append(res, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, nil
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
