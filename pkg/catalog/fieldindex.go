package catalog

import (
	"context"
	"math"
	"time"

	"btreedb/pkg/btree"
	"btreedb/pkg/customerrors"
	"btreedb/pkg/record"
	"btreedb/util/stream"

	"github.com/pkg/errors"
)

// FieldIndex is the narrow capability set the query engine dispatches
// through. Keys arrive untyped from predicates and rows; each
// implementation converts them to its declared key domain.
type FieldIndex interface {
	FieldName() string
	Insert(ctx context.Context, key any, id record.ID) error
	Delete(ctx context.Context, key any, id record.ID) (bool, error)
	FindEqual(ctx context.Context, key any) (stream.Reader[record.ID], error)
	FindRange(ctx context.Context, min, max any, inclMin, inclMax bool) (stream.Reader[record.ID], error)
}

// NewInt64Index wraps a signed-integer index as a FieldIndex.
func NewInt64Index(idx *btree.Index[int64, record.ID]) FieldIndex {
	return &fieldIndex[int64]{idx: idx, conv: toInt64}
}

// NewFloat64Index wraps a float index as a FieldIndex.
func NewFloat64Index(idx *btree.Index[float64, record.ID]) FieldIndex {
	return &fieldIndex[float64]{idx: idx, conv: toFloat64}
}

// NewStringIndex wraps a string index as a FieldIndex.
func NewStringIndex(idx *btree.Index[string, record.ID]) FieldIndex {
	return &fieldIndex[string]{idx: idx, conv: toString}
}

// NewTimeIndex wraps a timestamp index as a FieldIndex.
func NewTimeIndex(idx *btree.Index[time.Time, record.ID]) FieldIndex {
	return &fieldIndex[time.Time]{idx: idx, conv: toTime}
}

type fieldIndex[K any] struct {
	idx  *btree.Index[K, record.ID]
	conv func(val any) (K, error)
}

func (f *fieldIndex[K]) FieldName() string {
	return f.idx.FieldName()
}

func (f *fieldIndex[K]) Insert(ctx context.Context, key any, id record.ID) error {
	k, err := f.conv(key)
	if err != nil {
		return err
	}
	return f.idx.Insert(ctx, k, id)
}

func (f *fieldIndex[K]) Delete(ctx context.Context, key any, id record.ID) (bool, error) {
	k, err := f.conv(key)
	if err != nil {
		return false, err
	}
	return f.idx.Delete(ctx, k, id)
}

func (f *fieldIndex[K]) FindEqual(ctx context.Context, key any) (stream.Reader[record.ID], error) {
	k, err := f.conv(key)
	if err != nil {
		return nil, err
	}
	return f.idx.Find(ctx, k)
}

func (f *fieldIndex[K]) FindRange(ctx context.Context, min, max any, inclMin, inclMax bool) (stream.Reader[record.ID], error) {
	var pmin, pmax *K

	if min != nil {
		k, err := f.conv(min)
		if err != nil {
			return nil, err
		}
		pmin = &k
	}
	if max != nil {
		k, err := f.conv(max)
		if err != nil {
			return nil, err
		}
		pmax = &k
	}

	return f.idx.FindRange(ctx, pmin, pmax, inclMin, inclMax)
}

func toInt64(val any) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v == math.Trunc(v) {
			return int64(v), nil
		}
	}
	return 0, errors.Wrapf(customerrors.ErrPredicateTypeMismatch, "%v (%T) is not an integer", val, val)
}

func toFloat64(val any) (float64, error) {
	switch v := val.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, errors.Wrapf(customerrors.ErrPredicateTypeMismatch, "%v (%T) is not a float", val, val)
}

func toString(val any) (string, error) {
	s, ok := val.(string)
	if !ok {
		return "", errors.Wrapf(customerrors.ErrPredicateTypeMismatch, "%v (%T) is not a string", val, val)
	}
	if len(s) == 0 {
		return "", customerrors.ErrEmptyKey
	}
	return s, nil
}

func toTime(val any) (time.Time, error) {
	switch v := val.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Wrapf(customerrors.ErrPredicateTypeMismatch, "%v (%T) is not a timestamp", val, val)
}
