package testsupport

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"genflow/internal/infra"
)

// SimpleRow adapts a scan function to pgx.Row. A nil function behaves like
// a query that matched nothing.
type SimpleRow struct {
	scan func(dest ...any) error
}

func NewSimpleRow(scanner func(dest ...any) error) SimpleRow {
	return SimpleRow{scan: scanner}
}

func (r SimpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

// ValuesRow returns a row that scans vals positionally.
func ValuesRow(vals ...any) SimpleRow {
	return NewSimpleRow(func(dest ...any) error { return ScanInto(dest, vals...) })
}

// ErrRow returns a row whose Scan fails with err.
func ErrRow(err error) SimpleRow {
	return NewSimpleRow(func(...any) error { return err })
}

// ScanInto copies vals into the pointers in dest. A nil value zeroes its
// destination, which is how NULL lands in a pointer or slice column.
func ScanInto(dest []any, vals ...any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(vals))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if vals[i] == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		v := reflect.ValueOf(vals[i])
		switch {
		case v.Type().AssignableTo(elem.Type()):
			elem.Set(v)
		case elem.Kind() == reflect.Pointer && v.Type().AssignableTo(elem.Type().Elem()):
			p := reflect.New(elem.Type().Elem())
			p.Elem().Set(v)
			elem.Set(p)
		case v.Type().ConvertibleTo(elem.Type()):
			elem.Set(v.Convert(elem.Type()))
		default:
			return fmt.Errorf("scan: cannot assign %T to destination %d (%s)", vals[i], i, elem.Type())
		}
	}
	return nil
}

// Rows is an in-memory pgx.Rows.
type Rows struct {
	rows [][]any
	pos  int
	err  error
}

// NewRows returns rows yielding each value slice in order.
func NewRows(rows ...[]any) *Rows {
	return &Rows{rows: rows, pos: -1}
}

func (r *Rows) Close()                                       {}
func (r *Rows) Err() error                                   { return r.err }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }

func (r *Rows) Next() bool {
	if r.pos+1 >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return fmt.Errorf("scan called without a current row")
	}
	if err := ScanInto(dest, r.rows[r.pos]...); err != nil {
		r.err = err
		return err
	}
	return nil
}

func (r *Rows) Values() ([]any, error) {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil, fmt.Errorf("values called without a current row")
	}
	return r.rows[r.pos], nil
}

// Call is one statement seen by a SQLRecorder, keyed by its audit marker.
type Call struct {
	Marker string
	Args   []any
}

// SQLRecorder implements infra.SQLExecutor and infra.TxRunner without a
// database. Statements must carry a valid marker; responses are scripted
// through the On* hooks.
type SQLRecorder struct {
	mu    sync.Mutex
	Calls []Call
	Txs   int
	// Rollbacks counts InTx calls whose function failed.
	Rollbacks int

	OnQueryRow func(marker string, args []any) pgx.Row
	OnQuery    func(marker string, args []any) (pgx.Rows, error)
	OnExec     func(marker string, args []any) (pgconn.CommandTag, error)
}

func (r *SQLRecorder) record(query string, args []any) (string, error) {
	marker, _, err := infra.ExtractMarker(query)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.Calls = append(r.Calls, Call{Marker: marker, Args: args})
	r.mu.Unlock()
	return marker, nil
}

func (r *SQLRecorder) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, err := r.record(query, args)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	if r.OnExec == nil {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return r.OnExec(marker, args)
}

func (r *SQLRecorder) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, err := r.record(query, args)
	if err != nil {
		return ErrRow(err)
	}
	if r.OnQueryRow == nil {
		return NewSimpleRow(nil)
	}
	return r.OnQueryRow(marker, args)
}

func (r *SQLRecorder) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, err := r.record(query, args)
	if err != nil {
		return nil, err
	}
	if r.OnQuery == nil {
		return NewRows(), nil
	}
	return r.OnQuery(marker, args)
}

func (r *SQLRecorder) InTx(ctx context.Context, fn func(infra.SQLExecutor) error) error {
	r.mu.Lock()
	r.Txs++
	r.mu.Unlock()
	if err := fn(r); err != nil {
		r.mu.Lock()
		r.Rollbacks++
		r.mu.Unlock()
		return err
	}
	return nil
}

// Markers lists the markers of all recorded calls in order.
func (r *SQLRecorder) Markers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = c.Marker
	}
	return out
}

var (
	_ infra.SQLExecutor = (*SQLRecorder)(nil)
	_ infra.TxRunner    = (*SQLRecorder)(nil)
	_ pgx.Rows          = (*Rows)(nil)
)
