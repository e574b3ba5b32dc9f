// Package repository maps domain entities onto port.RecordStore collections.
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
)

// records is a typed view of one collection
type records struct {
	store      port.RecordStore
	collection string
	logger     *zap.Logger
}

func newRecords(store port.RecordStore, collection string, logger *zap.Logger) records {
	return records{store: store, collection: collection, logger: logger}
}

// encode flattens an entity into record fields through its json tags
func encode(v interface{}) (port.Fields, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var fields port.Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	delete(fields, "id")
	return fields, nil
}

func decode[T any](fields port.Fields) (*T, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &out, nil
}

func (r records) create(ctx context.Context, v interface{}) (int64, error) {
	fields, err := encode(v)
	if err != nil {
		return 0, err
	}
	id, err := r.store.AddRecord(ctx, r.collection, fields)
	if err != nil {
		r.logger.Error("Failed to create record", zap.String("collection", r.collection), zap.Error(err))
		return 0, fmt.Errorf("failed to create %s: %w", r.collection, err)
	}
	return id, nil
}

func (r records) update(ctx context.Context, id int64, fields port.Fields) error {
	if err := r.store.UpdateRecord(ctx, r.collection, id, fields); err != nil {
		r.logger.Error("Failed to update record",
			zap.String("collection", r.collection),
			zap.Int64("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to update %s #%d: %w", r.collection, id, err)
	}
	return nil
}

func getOne[T any](ctx context.Context, r records, id int64) (*T, error) {
	fields, err := r.store.GetRecord(ctx, r.collection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s #%d: %w", r.collection, id, err)
	}
	return decode[T](fields)
}

func queryAll[T any](ctx context.Context, r records, q port.Query) ([]*T, error) {
	rows, err := r.store.QueryRecords(ctx, r.collection, q)
	if err != nil {
		r.logger.Error("Failed to query records", zap.String("collection", r.collection), zap.Error(err))
		return nil, fmt.Errorf("failed to query %s: %w", r.collection, err)
	}
	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		v, err := decode[T](row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// queryFirst returns the first match or notFound
func queryFirst[T any](ctx context.Context, r records, q port.Query, notFound error) (*T, error) {
	q.Top = 1
	rows, err := queryAll[T](ctx, r, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound
	}
	return rows[0], nil
}

// optional stores empty strings as absent fields
func optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
