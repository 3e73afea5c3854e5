package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"storybook/internal/infra"
)

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type testRowsBase struct{}

func (testRowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (testRowsBase) Conn() *pgx.Conn { return nil }

func (testRowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (testRowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (testRowsBase) RawValues() [][]byte { return nil }

// stringRows yields one string column per row.
type stringRows struct {
	testRowsBase
	values []string
	idx    int
}

func (r *stringRows) Next() bool {
	if r.idx >= len(r.values) {
		return false
	}
	r.idx++
	return true
}

func (r *stringRows) Scan(dest ...any) error {
	ptr, ok := dest[0].(*string)
	if !ok {
		return fmt.Errorf("unexpected dest %T", dest[0])
	}
	*ptr = r.values[r.idx-1]
	return nil
}

func (r *stringRows) Err() error { return nil }
func (r *stringRows) Close()     {}

type execCall struct {
	marker string
	args   []any
}

// scriptedExecutor answers statements by marker.
type scriptedExecutor struct {
	affected map[string]int64
	rows     map[string]func(args []any) pgx.Row
	query    map[string][]string
	calls    []execCall
}

func (s *scriptedExecutor) record(query string, args []any) string {
	marker, _, err := infra.ExtractMarker(query)
	if err != nil {
		panic(err)
	}
	s.calls = append(s.calls, execCall{marker: marker, args: args})
	return marker
}

func (s *scriptedExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker := s.record(query, args)
	n := s.affected[marker]
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", n)), nil
}

func (s *scriptedExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker := s.record(query, args)
	if fn, ok := s.rows[marker]; ok {
		return fn(args)
	}
	return simpleRow{}
}

func (s *scriptedExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker := s.record(query, args)
	return &stringRows{values: s.query[marker]}, nil
}

func markerOf(query string) string {
	marker, _, err := infra.ExtractMarker(query)
	if err != nil {
		panic(err)
	}
	return marker
}

func existsRow(exists bool) func([]any) pgx.Row {
	return func([]any) pgx.Row {
		return simpleRow{scan: func(dest ...any) error {
			*(dest[0].(*bool)) = exists
			return nil
		}}
	}
}

func containsMarker(calls []execCall, query string) bool {
	want := markerOf(query)
	for _, c := range calls {
		if strings.EqualFold(c.marker, want) {
			return true
		}
	}
	return false
}
