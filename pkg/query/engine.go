package query

import (
	"context"

	"btreedb/pkg/catalog"
	"btreedb/pkg/customerrors"
	"btreedb/pkg/record"
	"btreedb/util/logger"
	"btreedb/util/stream"

	"github.com/pkg/errors"
	logrus "github.com/sirupsen/logrus"
)

const streamBufferSize = 100

func New(cat *catalog.Catalog) *Engine {
	return &Engine{
		catalog: cat,
		log:     logger.WithPrefix("query"),
	}
}

// Engine executes predicates over the catalog, preferring an index scan
// when the predicate's field has one.
type Engine struct {
	catalog *catalog.Catalog
	log     *logrus.Entry
}

// Execute returns a lazy stream of records matching the predicate.
func (e *Engine) Execute(ctx context.Context, p Predicate) (stream.Reader[record.Row], error) {
	if fi, ok := e.catalog.Index(p.Field()); ok {
		ids, planned, err := e.indexScan(ctx, fi, p)
		if err != nil {
			return nil, err
		}
		if planned {
			e.log.Debugf("index scan: %s", p)
			return e.resolve(ctx, ids), nil
		}
	}

	e.log.Debugf("full scan: %s", p)
	return e.scan(ctx, p)
}

// indexScan plans the predicate onto the field index. Reports planned
// false when the predicate shape has no index path.
func (e *Engine) indexScan(
	ctx context.Context,
	fi catalog.FieldIndex,
	p Predicate,
) (stream.Reader[record.ID], bool, error) {
	switch pr := p.(type) {
	case *Binary:
		var ids stream.Reader[record.ID]
		var err error

		switch pr.Op {
		case Equal:
			ids, err = fi.FindEqual(ctx, pr.Value)
		case Less:
			ids, err = fi.FindRange(ctx, nil, pr.Value, false, false)
		case LessEqual:
			ids, err = fi.FindRange(ctx, nil, pr.Value, false, true)
		case Greater:
			ids, err = fi.FindRange(ctx, pr.Value, nil, false, false)
		case GreaterEqual:
			ids, err = fi.FindRange(ctx, pr.Value, nil, true, false)
		default:
			return nil, false, errors.Errorf("unknown operator '%s'", pr.Op)
		}
		return ids, true, err

	case *Between:
		ids, err := fi.FindRange(ctx, pr.Min, pr.Max, true, true)
		return ids, true, err
	}

	return nil, false, nil
}

// resolve maps a stream of record ids onto materialized rows. An id
// that record storage does not resolve terminates the stream with
// ErrIndexInconsistency.
func (e *Engine) resolve(ctx context.Context, ids stream.Reader[record.ID]) stream.Reader[record.Row] {
	out := stream.New[record.Row](streamBufferSize)

	go func() {
		for {
			id, ok := ids.Pop()
			if !ok {
				break
			}

			data, ok := e.catalog.Store().Get(id)
			if !ok {
				out.Fail(errors.Wrapf(customerrors.ErrIndexInconsistency, "record %d not found", id))
				stream.Drain(ids)
				return
			}

			row, err := e.catalog.RowCodec().Decode(data)
			if err != nil {
				out.Fail(err)
				stream.Drain(ids)
				return
			}

			if err := out.Push(ctx, row); err != nil {
				out.Fail(err)
				stream.Drain(ids)
				return
			}
		}

		if err := ids.Err(); err != nil {
			out.Fail(err)
			return
		}
		out.Close()
	}()

	return out
}

// scan evaluates the predicate against every live record.
func (e *Engine) scan(ctx context.Context, p Predicate) (stream.Reader[record.Row], error) {
	entries := e.catalog.Store().Scan(ctx)
	out := stream.New[record.Row](streamBufferSize)

	go func() {
		for {
			en, ok := entries.Pop()
			if !ok {
				break
			}

			row, err := e.catalog.RowCodec().Decode(en.Data)
			if err != nil {
				out.Fail(err)
				stream.Drain(entries)
				return
			}

			match, err := e.Match(row, p)
			if err != nil {
				out.Fail(err)
				stream.Drain(entries)
				return
			}
			if !match {
				continue
			}

			if err := out.Push(ctx, row); err != nil {
				out.Fail(err)
				stream.Drain(entries)
				return
			}
		}

		if err := entries.Err(); err != nil {
			out.Fail(err)
			return
		}
		out.Close()
	}()

	return out, nil
}

// Match evaluates the predicate against a materialized row. A row
// missing the predicate's field does not match.
func (e *Engine) Match(row record.Row, p Predicate) (bool, error) {
	switch pr := p.(type) {
	case *Binary:
		fv, ok := row[pr.Column]
		if !ok {
			return false, nil
		}

		c, err := compareValues(fv, pr.Value)
		if err != nil {
			return false, err
		}

		switch pr.Op {
		case Equal:
			return c == 0, nil
		case Less:
			return c < 0, nil
		case LessEqual:
			return c <= 0, nil
		case Greater:
			return c > 0, nil
		case GreaterEqual:
			return c >= 0, nil
		}
		return false, errors.Errorf("unknown operator '%s'", pr.Op)

	case *Between:
		fv, ok := row[pr.Column]
		if !ok {
			return false, nil
		}

		cmin, err := compareValues(fv, pr.Min)
		if err != nil {
			return false, err
		}
		cmax, err := compareValues(fv, pr.Max)
		if err != nil {
			return false, err
		}
		return cmin >= 0 && cmax <= 0, nil
	}

	return false, errors.Errorf("unsupported predicate %T", p)
}

// compareValues orders two dynamic values of compatible domains.
func compareValues(a, b any) (int, error) {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, mismatch(a, b)
		}
		return compareOrdered(af, bf), nil
	}

	if as, ok := a.(string); ok {
		bs, bok := b.(string)
		if !bok {
			return 0, mismatch(a, b)
		}
		return compareOrdered(as, bs), nil
	}

	return 0, mismatch(a, b)
}

func compareOrdered[T interface{ ~float64 | ~string }](a, b T) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func mismatch(a, b any) error {
	return errors.Wrapf(
		customerrors.ErrPredicateTypeMismatch,
		"cannot compare %v (%T) with %v (%T)",
		a, a, b, b,
	)
}
