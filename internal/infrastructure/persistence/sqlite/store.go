package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
)

var fieldName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// RecordStore implements port.RecordStore on a single `records` table with JSON bodies.
// Top-level fields are replaced wholesale on update and a nil value removes the field.
type RecordStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewRecordStore creates a store over an open, migrated database
func NewRecordStore(db *sql.DB, logger *zap.Logger) *RecordStore {
	return &RecordStore{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ port.RecordStore = (*RecordStore)(nil)

func (s *RecordStore) AddRecord(ctx context.Context, collection string, fields port.Fields) (int64, error) {
	body := make(port.Fields, len(fields))
	for k, v := range fields {
		if k == "id" || v == nil {
			continue
		}
		if !fieldName.MatchString(k) {
			return 0, failure.Validationf("invalid field name %q", k)
		}
		body[k] = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		return 0, failure.Validationf("record is not JSON encodable: %v", err)
	}

	now := s.now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO records (collection, fields, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		collection, string(data), now, now,
	)
	if err != nil {
		s.logger.Error("Failed to add record", zap.String("collection", collection), zap.Error(err))
		return 0, failure.Transient(fmt.Errorf("insert %s: %w", collection, err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, failure.Transient(err)
	}
	return id, nil
}

func (s *RecordStore) UpdateRecord(ctx context.Context, collection string, id int64, fields port.Fields) error {
	expr := "fields"
	var setArgs, removePaths []string
	var args []interface{}

	for k, v := range fields {
		if k == "id" {
			continue
		}
		if !fieldName.MatchString(k) {
			return failure.Validationf("invalid field name %q", k)
		}
		if v == nil {
			removePaths = append(removePaths, "'$."+k+"'")
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return failure.Validationf("field %s is not JSON encodable: %v", k, err)
		}
		setArgs = append(setArgs, "'$."+k+"', json(?)")
		args = append(args, string(data))
	}

	if len(setArgs) > 0 {
		expr = fmt.Sprintf("json_set(%s, %s)", expr, strings.Join(setArgs, ", "))
	}
	if len(removePaths) > 0 {
		expr = fmt.Sprintf("json_remove(%s, %s)", expr, strings.Join(removePaths, ", "))
	}

	query := fmt.Sprintf(`UPDATE records SET fields = %s, updated_at = ? WHERE collection = ? AND id = ?`, expr)
	args = append(args, s.now(), collection, id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to update record",
			zap.String("collection", collection),
			zap.Int64("id", id),
			zap.Error(err))
		return failure.Transient(fmt.Errorf("update %s #%d: %w", collection, id, err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return failure.Transient(err)
	}
	if affected == 0 {
		return failure.NotFoundf("%s #%d", collection, id)
	}
	return nil
}

func (s *RecordStore) GetRecord(ctx context.Context, collection string, id int64, selectFields ...string) (port.Fields, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM records WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, failure.NotFoundf("%s #%d", collection, id)
	}
	if err != nil {
		return nil, failure.Transient(fmt.Errorf("get %s #%d: %w", collection, id, err))
	}
	return decode(id, body, selectFields)
}

func (s *RecordStore) QueryRecords(ctx context.Context, collection string, q port.Query) ([]port.Fields, error) {
	where := []string{"collection = ?"}
	args := []interface{}{collection}

	for _, cond := range q.Filter {
		clause, condArgs, err := buildCondition(cond)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, condArgs...)
	}

	order := make([]string, 0, len(q.OrderBy)+1)
	for _, o := range q.OrderBy {
		col, err := column(o.Field)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		order = append(order, fmt.Sprintf("COALESCE(julianday(%s), %s) %s", col, col, dir))
	}
	order = append(order, "id ASC")

	query := fmt.Sprintf(`SELECT id, fields FROM records WHERE %s ORDER BY %s`,
		strings.Join(where, " AND "), strings.Join(order, ", "))
	if q.Top > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Top)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, failure.Transient(fmt.Errorf("query %s: %w", collection, err))
	}
	defer rows.Close()

	var out []port.Fields
	for rows.Next() {
		var id int64
		var body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, failure.Transient(err)
		}
		rec, err := decode(id, body, q.Select)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.Transient(err)
	}
	return out, nil
}

func column(field string) (string, error) {
	if field == "id" {
		return "id", nil
	}
	if !fieldName.MatchString(field) {
		return "", failure.Validationf("invalid field name %q", field)
	}
	return fmt.Sprintf("json_extract(fields, '$.%s')", field), nil
}

var comparison = map[port.Operator]string{
	port.OpEq:  "=",
	port.OpNe:  "!=",
	port.OpLt:  "<",
	port.OpLte: "<=",
	port.OpGt:  ">",
	port.OpGte: ">=",
}

func buildCondition(cond port.Condition) (string, []interface{}, error) {
	col, err := column(cond.Field)
	if err != nil {
		return "", nil, err
	}

	switch cond.Op {
	case port.OpNull:
		return col + " IS NULL", nil, nil
	case port.OpNotNull:
		return col + " IS NOT NULL", nil, nil
	case port.OpIn:
		rv := reflect.ValueOf(cond.Value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return "", nil, failure.Validationf("in on %s needs a slice", cond.Field)
		}
		if rv.Len() == 0 {
			return "0", nil, nil
		}
		marks := make([]string, rv.Len())
		args := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			marks[i] = "?"
			args[i] = bindValue(rv.Index(i).Interface())
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")), args, nil
	}

	op, ok := comparison[cond.Op]
	if !ok {
		return "", nil, failure.Validationf("unsupported operator %q", cond.Op)
	}
	if t, ok := cond.Value.(time.Time); ok {
		return fmt.Sprintf("julianday(%s) %s julianday(?)", col, op), []interface{}{t.UTC().Format(time.RFC3339Nano)}, nil
	}
	return fmt.Sprintf("%s %s ?", col, op), []interface{}{bindValue(cond.Value)}, nil
}

// bindValue reduces named types to the driver's basic kinds
func bindValue(v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

func decode(id int64, body string, selectFields []string) (port.Fields, error) {
	var all port.Fields
	if err := json.Unmarshal([]byte(body), &all); err != nil {
		return nil, fmt.Errorf("corrupt record body #%d: %w", id, err)
	}

	out := port.Fields{"id": float64(id)}
	if len(selectFields) == 0 {
		for k, v := range all {
			out[k] = v
		}
		return out, nil
	}
	for _, f := range selectFields {
		if v, ok := all[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}
