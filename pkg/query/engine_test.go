package query

import (
	"context"
	"math/rand"
	"path"
	"sort"
	"testing"

	"btreedb/pkg/blockstore"
	"btreedb/pkg/btree"
	"btreedb/pkg/catalog"
	"btreedb/pkg/codec"
	"btreedb/pkg/customerrors"
	"btreedb/pkg/record"
	"btreedb/util/stream"

	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	ctx := context.Background()

	bs, err := blockstore.Open(path.Join(t.TempDir(), "age.idx"), &blockstore.Options{
		BlockSize: 4096,
		QueueSize: 100,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	idx, err := btree.Open[int64, record.ID](ctx, bs, codec.Int64{}, record.IDCodec, &btree.Options[int64]{
		Field:   "age",
		Degree:  3,
		Compare: codec.Compare[int64],
	})
	require.NoError(t, err)

	cat := catalog.New(record.NewStore(), record.JSONCodec{})
	cat.Attach(catalog.NewInt64Index(idx))
	return cat
}

func fillCatalog(t *testing.T, cat *catalog.Catalog, count int) {
	t.Helper()
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(11))

	for i := 0; i < count; i++ {
		_, err := cat.Insert(ctx, record.Row{
			"name": randomName(rnd),
			"age":  int64(rnd.Intn(60)),
		})
		require.NoError(t, err)
	}
}

func randomName(rnd *rand.Rand) string {
	b := make([]byte, 0, 8)
	for i := 0; i < 8; i++ {
		b = append(b, byte('a'+rnd.Intn(26)))
	}
	return string(b)
}

func ages(t *testing.T, rows stream.Reader[record.Row]) []int {
	t.Helper()

	out := []int{}
	for {
		row, ok := rows.Pop()
		if !ok {
			break
		}
		age, ok := row["age"].(float64)
		require.True(t, ok, "age missing in %v", row)
		out = append(out, int(age))
	}
	require.NoError(t, rows.Err())

	sort.Ints(out)
	return out
}

func TestIndexVsScan(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)
	fillCatalog(t, cat, 1000)
	e := New(cat)

	predicates := []Predicate{
		&Between{Column: "age", Min: 18, Max: 30},
		&Binary{Column: "age", Op: Equal, Value: 25},
		&Binary{Column: "age", Op: Less, Value: 10},
		&Binary{Column: "age", Op: LessEqual, Value: 10},
		&Binary{Column: "age", Op: Greater, Value: 50},
		&Binary{Column: "age", Op: GreaterEqual, Value: 50},
	}

	for _, p := range predicates {
		viaIndex, err := e.Execute(ctx, p)
		require.NoError(t, err, p.String())

		viaScan, err := e.scan(ctx, p)
		require.NoError(t, err, p.String())

		got := ages(t, viaIndex)
		want := ages(t, viaScan)
		require.NotEmpty(t, want, p.String())
		require.Equal(t, want, got, p.String())
	}
}

func TestUnindexedFieldFallsBackToScan(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)
	e := New(cat)

	_, err := cat.Insert(ctx, record.Row{"name": "ada", "age": int64(36)})
	require.NoError(t, err)
	_, err = cat.Insert(ctx, record.Row{"name": "brin", "age": int64(24)})
	require.NoError(t, err)

	rows, err := e.Execute(ctx, &Binary{Column: "name", Op: Equal, Value: "ada"})
	require.NoError(t, err)

	got := rows.Slice()
	require.NoError(t, rows.Err())
	require.Len(t, got, 1)
	require.Equal(t, "ada", got[0]["name"])
}

func TestPredicateTypeMismatch(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)
	e := New(cat)

	_, err := cat.Insert(ctx, record.Row{"name": "ada", "age": int64(36)})
	require.NoError(t, err)

	// index path rejects the literal up front
	_, err = e.Execute(ctx, &Binary{Column: "age", Op: Equal, Value: "not a number"})
	require.ErrorIs(t, err, customerrors.ErrPredicateTypeMismatch)

	// scan path surfaces the mismatch through the stream
	rows, err := e.Execute(ctx, &Binary{Column: "name", Op: Equal, Value: int64(7)})
	require.NoError(t, err)
	stream.Drain(rows)
	require.ErrorIs(t, rows.Err(), customerrors.ErrPredicateTypeMismatch)
}

func TestIndexInconsistency(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)
	e := New(cat)

	fi, ok := cat.Index("age")
	require.True(t, ok)

	// an association pointing at a record that does not exist
	require.NoError(t, fi.Insert(ctx, int64(99), record.ID(12345)))

	rows, err := e.Execute(ctx, &Binary{Column: "age", Op: Equal, Value: 99})
	require.NoError(t, err)
	stream.Drain(rows)
	require.ErrorIs(t, rows.Err(), customerrors.ErrIndexInconsistency)
}

func TestDeleteUnindexes(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)
	e := New(cat)

	id, err := cat.Insert(ctx, record.Row{"name": "ada", "age": int64(36)})
	require.NoError(t, err)

	found, err := cat.Delete(ctx, id)
	require.NoError(t, err)
	require.True(t, found)

	rows, err := e.Execute(ctx, &Binary{Column: "age", Op: Equal, Value: 36})
	require.NoError(t, err)
	require.Empty(t, rows.Slice())
	require.NoError(t, rows.Err())
}

func TestPredicateString(t *testing.T) {
	p := &Binary{Column: "age", Op: GreaterEqual, Value: 18}
	require.Equal(t, "age >= 18", p.String())

	b := &Between{Column: "age", Min: 18, Max: 30}
	require.Equal(t, "age BETWEEN 18 AND 30", b.String())
	require.Equal(t, "age", b.Field())
}

func TestMatchMissingField(t *testing.T) {
	e := New(newTestCatalog(t))

	match, err := e.Match(record.Row{"name": "ada"}, &Binary{Column: "age", Op: Equal, Value: 1})
	require.NoError(t, err)
	require.False(t, match)

	match, err = e.Match(record.Row{"name": "ada"}, &Between{Column: "age", Min: 1, Max: 2})
	require.NoError(t, err)
	require.False(t, match)
}
