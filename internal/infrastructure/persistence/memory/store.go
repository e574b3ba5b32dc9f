// Package memory provides an in-process RecordStore used by tests and single-node demos.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
)

type collection struct {
	nextID  int64
	records map[int64]port.Fields
}

// Store keeps records as JSON-normalized maps so reads look the same as from SQLite
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection

	// failNext makes the next n writes fail with ErrTransientStore
	failNext int
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{collections: make(map[string]*collection)}
}

var _ port.RecordStore = (*Store)(nil)

// FailNextWrites makes the next n AddRecord or UpdateRecord calls fail transiently
func (s *Store) FailNextWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{records: make(map[int64]port.Fields)}
		s.collections[name] = c
	}
	return c
}

func (s *Store) injectedFailure() error {
	if s.failNext > 0 {
		s.failNext--
		return failure.Transient(fmt.Errorf("injected write failure"))
	}
	return nil
}

func (s *Store) AddRecord(ctx context.Context, name string, fields port.Fields) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	normalized, err := normalize(fields)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injectedFailure(); err != nil {
		return 0, err
	}

	c := s.coll(name)
	c.nextID++
	delete(normalized, "id")
	for k, v := range normalized {
		if v == nil {
			delete(normalized, k)
		}
	}
	c.records[c.nextID] = normalized
	return c.nextID, nil
}

// UpdateRecord merges fields into the stored record. A nil value removes the field.
func (s *Store) UpdateRecord(ctx context.Context, name string, id int64, fields port.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized, err := normalize(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injectedFailure(); err != nil {
		return err
	}

	rec, ok := s.coll(name).records[id]
	if !ok {
		return failure.NotFoundf("%s #%d", name, id)
	}
	for k, v := range normalized {
		if k == "id" {
			continue
		}
		if v == nil {
			delete(rec, k)
			continue
		}
		rec[k] = v
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, name string, id int64, selectFields ...string) (port.Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.coll(name).records[id]
	if !ok {
		return nil, failure.NotFoundf("%s #%d", name, id)
	}
	return project(id, rec, selectFields), nil
}

func (s *Store) QueryRecords(ctx context.Context, name string, q port.Query) ([]port.Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.coll(name)
	ids := make([]int64, 0, len(c.records))
	for id, rec := range c.records {
		ok, err := matches(id, rec, q.Filter)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		for _, o := range q.OrderBy {
			a := fieldValue(ids[i], c.records[ids[i]], o.Field)
			b := fieldValue(ids[j], c.records[ids[j]], o.Field)
			cmp, ok := compareValues(a, b)
			if !ok || cmp == 0 {
				continue
			}
			if o.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return ids[i] < ids[j]
	})

	if q.Top > 0 && len(ids) > q.Top {
		ids = ids[:q.Top]
	}

	out := make([]port.Fields, 0, len(ids))
	for _, id := range ids {
		out = append(out, project(id, c.records[id], q.Select))
	}
	return out, nil
}

// normalize round-trips fields through JSON so stored values are JSON-typed
func normalize(fields port.Fields) (port.Fields, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, failure.Validationf("record is not JSON encodable: %v", err)
	}
	var out port.Fields
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = port.Fields{}
	}
	return out, nil
}

// project returns a deep copy so callers cannot mutate stored state
func project(id int64, rec port.Fields, selectFields []string) port.Fields {
	out := port.Fields{"id": float64(id)}
	if len(selectFields) == 0 {
		for k, v := range rec {
			out[k] = deepCopy(v)
		}
		return out
	}
	for _, f := range selectFields {
		if v, ok := rec[f]; ok {
			out[f] = deepCopy(v)
		}
	}
	return out
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = deepCopy(e)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, e := range t {
			s[i] = deepCopy(e)
		}
		return s
	}
	return v
}

func fieldValue(id int64, rec port.Fields, field string) interface{} {
	if field == "id" {
		return float64(id)
	}
	return rec[field]
}

func matches(id int64, rec port.Fields, filter []port.Condition) (bool, error) {
	for _, cond := range filter {
		v, present := rec[cond.Field], true
		if cond.Field == "id" {
			v = float64(id)
		} else {
			_, present = rec[cond.Field]
		}
		isNull := !present || v == nil

		switch cond.Op {
		case port.OpNull:
			if !isNull {
				return false, nil
			}
		case port.OpNotNull:
			if isNull {
				return false, nil
			}
		case port.OpIn:
			if isNull || !memberOf(v, cond.Value) {
				return false, nil
			}
		case port.OpEq, port.OpNe, port.OpLt, port.OpLte, port.OpGt, port.OpGte:
			if isNull {
				return false, nil
			}
			cmp, ok := compareValues(v, cond.Value)
			if !ok {
				if cond.Op == port.OpNe {
					continue
				}
				return false, nil
			}
			if !accept(cond.Op, cmp) {
				return false, nil
			}
		default:
			return false, failure.Validationf("unsupported operator %q", cond.Op)
		}
	}
	return true, nil
}

func accept(op port.Operator, cmp int) bool {
	switch op {
	case port.OpEq:
		return cmp == 0
	case port.OpNe:
		return cmp != 0
	case port.OpLt:
		return cmp < 0
	case port.OpLte:
		return cmp <= 0
	case port.OpGt:
		return cmp > 0
	case port.OpGte:
		return cmp >= 0
	}
	return false
}

func memberOf(v interface{}, set interface{}) bool {
	rv := reflect.ValueOf(set)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if cmp, ok := compareValues(v, rv.Index(i).Interface()); ok && cmp == 0 {
			return true
		}
	}
	return false
}

// compareValues compares a stored JSON value with a filter value.
// Numbers compare numerically and RFC 3339 strings compare as instants against time.Time.
func compareValues(stored, want interface{}) (int, bool) {
	if t, ok := want.(time.Time); ok {
		s, ok := stored.(string)
		if !ok {
			return 0, false
		}
		st, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, false
		}
		return st.Compare(t), true
	}

	if a, ok := toFloat(stored); ok {
		b, ok := toFloat(want)
		if !ok {
			return 0, false
		}
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		}
		return 0, true
	}

	switch a := stored.(type) {
	case string:
		b, ok := toString(want)
		if !ok {
			return 0, false
		}
		if at, err := time.Parse(time.RFC3339Nano, a); err == nil {
			if bt, err := time.Parse(time.RFC3339Nano, b); err == nil {
				return at.Compare(bt), true
			}
		}
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		}
		return 0, true
	case bool:
		b, ok := want.(bool)
		if !ok {
			return 0, false
		}
		if a == b {
			return 0, true
		}
		if !a {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toString(v interface{}) (string, bool) {
	if s, ok := v.(string); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

func toFloat(v interface{}) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
