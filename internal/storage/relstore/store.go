// Package relstore provides the schema-mapped relational backend. Entity
// scalars map to columns, keyed sub-lists (attributes, hyperparameters,
// metrics, tags, artifacts, datasets) map to shared child tables, and
// observation/feature lists ride along as JSON columns. Query shapes that
// would have to reach inside the JSON columns fail with an unimplemented
// error instead of returning a silent default.
//
// Two drivers are supported behind one SQL generator: embedded SQLite
// (modernc.org/sqlite) and PostgreSQL (pgx via database/sql).
package relstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"modeldb/internal/storage"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

// Compile-time contract assertion ensuring the store satisfies the storage interface.
var _ storage.Store = (*Store)(nil)

// Dialect selects driver-specific SQL rendering.
type Dialect string

// Supported SQL dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store is the relational backend over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	cfg     storage.Config
}

// NewSQLite opens (creating if needed) an embedded SQLite database at path.
func NewSQLite(path string, cfg storage.Config) (*Store, error) {
	if path == "" {
		path = "modeldb.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc.org/sqlite serializes writes per connection; a single
	// connection avoids SQLITE_BUSY under concurrent DAO calls.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, dialect: DialectSQLite, cfg: cfg}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres opens a PostgreSQL-backed store using the pgx stdlib driver.
func NewPostgres(dsn string, cfg storage.Config) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db, dialect: DialectPostgres, cfg: cfg}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, s.cfg.Projects),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, s.cfg.Experiments),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			experiment_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			start_time BIGINT NOT NULL DEFAULT 0,
			end_time BIGINT NOT NULL DEFAULT 0,
			code_version TEXT NOT NULL DEFAULT '',
			job_id TEXT NOT NULL DEFAULT '',
			observations TEXT NOT NULL DEFAULT '[]',
			features TEXT NOT NULL DEFAULT '[]'
		)`, s.cfg.ExperimentRuns),
		`CREATE TABLE IF NOT EXISTS kv_entries (
			owner_collection TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			field TEXT NOT NULL,
			position BIGINT NOT NULL,
			key TEXT NOT NULL,
			value_kind TEXT NOT NULL,
			num_value DOUBLE PRECISION,
			str_value TEXT,
			bool_value BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS kv_entries_owner ON kv_entries (owner_collection, owner_id, field)`,
		`CREATE TABLE IF NOT EXISTS tag_entries (
			owner_collection TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			field TEXT NOT NULL,
			position BIGINT NOT NULL,
			tag TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS tag_entries_owner ON tag_entries (owner_collection, owner_id, field)`,
		`CREATE TABLE IF NOT EXISTS artifact_entries (
			owner_collection TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			field TEXT NOT NULL,
			position BIGINT NOT NULL,
			key TEXT NOT NULL,
			path TEXT NOT NULL,
			artifact_type TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS artifact_entries_owner ON artifact_entries (owner_collection, owner_id, field)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// fieldClass names how a document field maps onto the relational schema.
type fieldClass int

const (
	classText fieldClass = iota
	classTime
	classKV
	classTag
	classArtifact
	classJSON
)

// spec returns the field classification for one collection. Unknown
// collections are a caller bug surfaced as invalid-argument.
func (s *Store) spec(collection string) (map[string]fieldClass, error) {
	base := map[string]fieldClass{
		storage.FieldID:          classText,
		storage.FieldName:        classText,
		storage.FieldDescription: classText,
		storage.FieldCreatedAt:   classTime,
		storage.FieldUpdatedAt:   classTime,
		storage.FieldTags:        classTag,
		storage.FieldAttributes:  classKV,
	}
	switch collection {
	case s.cfg.Projects:
	case s.cfg.Experiments:
		base[storage.FieldProjectID] = classText
	case s.cfg.ExperimentRuns:
		base[storage.FieldProjectID] = classText
		base[storage.FieldExperimentID] = classText
		base[storage.FieldStartTime] = classTime
		base[storage.FieldEndTime] = classTime
		base[storage.FieldCodeVersion] = classText
		base[storage.FieldJobID] = classText
		base[storage.FieldHyperparameters] = classKV
		base[storage.FieldMetrics] = classKV
		base[storage.FieldArtifacts] = classArtifact
		base[storage.FieldDatasets] = classArtifact
		base[storage.FieldObservations] = classJSON
		base[storage.FieldFeatures] = classJSON
	default:
		return nil, domain.Errorf(domain.CodeInvalidArgument, "unknown collection %q", collection)
	}
	return base, nil
}

// rebind converts ?-style placeholders to the dialect's native style.
func (s *Store) rebind(sqlText string) string {
	if s.dialect != DialectPostgres {
		return sqlText
	}
	var b strings.Builder
	n := 0
	for _, r := range sqlText {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Insert writes the document row and its child-table entries in one transaction.
func (s *Store) Insert(ctx context.Context, col string, doc storage.Document) error {
	spec, err := s.spec(col)
	if err != nil {
		return err
	}
	id, _ := doc[storage.FieldID].(string)
	if id == "" {
		return domain.Errorf(domain.CodeInvalidArgument, "document in %s has no id", col)
	}
	cols := make([]string, 0, len(spec))
	vals := make([]any, 0, len(spec))
	for field, class := range spec {
		switch class {
		case classText:
			v, _ := doc[field].(string)
			cols = append(cols, field)
			vals = append(vals, v)
		case classTime:
			micros, err := timeMicros(doc[field])
			if err != nil {
				return err
			}
			cols = append(cols, field)
			vals = append(vals, micros)
		case classJSON:
			raw, err := json.Marshal(listOrEmpty(doc[field]))
			if err != nil {
				return domain.WrapInternal("encode json column", err)
			}
			cols = append(cols, field)
			vals = append(vals, string(raw))
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapInternal("begin insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", col, strings.Join(cols, ", "), placeholders)
	if _, err := tx.ExecContext(ctx, s.rebind(stmt), vals...); err != nil {
		return classifyWriteError(col, id, err)
	}
	for field, class := range spec {
		switch class {
		case classKV, classTag, classArtifact:
			if err := s.insertChildren(ctx, tx, col, id, field, class, listOrEmpty(doc[field])); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapInternal("commit insert", err)
	}
	return nil
}

func (s *Store) insertChildren(ctx context.Context, tx *sql.Tx, col, id, field string, class fieldClass, list []any) error {
	for i, raw := range list {
		if err := s.insertChildAt(ctx, tx, col, id, field, class, int64(i), raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertChildAt(ctx context.Context, tx *sql.Tx, col, id, field string, class fieldClass, pos int64, raw any) error {
	switch class {
	case classKV:
		kv, err := decodeKeyValue(raw)
		if err != nil {
			return err
		}
		num, str, boolInt := valueColumns(kv.Value)
		stmt := `INSERT INTO kv_entries (owner_collection, owner_id, field, position, key, value_kind, num_value, str_value, bool_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, s.rebind(stmt), col, id, field, pos, kv.Key, string(kv.Value.Kind()), num, str, boolInt); err != nil {
			return domain.WrapInternal("insert kv entry", err)
		}
	case classTag:
		tag, ok := raw.(string)
		if !ok {
			return domain.Errorf(domain.CodeInvalidArgument, "tag entries must be strings, got %T", raw)
		}
		stmt := `INSERT INTO tag_entries (owner_collection, owner_id, field, position, tag) VALUES (?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, s.rebind(stmt), col, id, field, pos, tag); err != nil {
			return domain.WrapInternal("insert tag entry", err)
		}
	case classArtifact:
		art, err := decodeArtifact(raw)
		if err != nil {
			return err
		}
		stmt := `INSERT INTO artifact_entries (owner_collection, owner_id, field, position, key, path, artifact_type)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, s.rebind(stmt), col, id, field, pos, art.Key, art.Path, string(art.Type)); err != nil {
			return domain.WrapInternal("insert artifact entry", err)
		}
	}
	return nil
}

// Get reads one document by id, reassembling child-table entries.
func (s *Store) Get(ctx context.Context, col, id string) (storage.Document, bool, error) {
	spec, err := s.spec(col)
	if err != nil {
		return nil, false, err
	}
	scalarCols := make([]string, 0, len(spec))
	for field, class := range spec {
		switch class {
		case classText, classTime, classJSON:
			scalarCols = append(scalarCols, field)
		}
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", strings.Join(scalarCols, ", "), col)
	row := s.db.QueryRowContext(ctx, s.rebind(stmt), id)
	holders := make([]any, len(scalarCols))
	for i := range holders {
		holders[i] = new(any)
	}
	if err := row.Scan(holders...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, domain.WrapInternal("read row", err)
	}
	doc := storage.Document{}
	for i, field := range scalarCols {
		raw := *(holders[i].(*any))
		switch spec[field] {
		case classText:
			doc[field] = asString(raw)
		case classTime:
			doc[field] = microsToRFC3339(asInt64(raw))
		case classJSON:
			var list []any
			if err := json.Unmarshal([]byte(asString(raw)), &list); err != nil {
				return nil, false, domain.WrapInternal("decode json column", err)
			}
			if list == nil {
				list = []any{}
			}
			doc[field] = list
		}
	}
	for field, class := range spec {
		switch class {
		case classKV, classTag, classArtifact:
			list, err := s.loadChildren(ctx, col, id, field, class)
			if err != nil {
				return nil, false, err
			}
			doc[field] = list
		}
	}
	return doc, true, nil
}

func (s *Store) loadChildren(ctx context.Context, col, id, field string, class fieldClass) ([]any, error) {
	var stmt string
	switch class {
	case classKV:
		stmt = `SELECT key, value_kind, num_value, str_value, bool_value FROM kv_entries
			WHERE owner_collection = ? AND owner_id = ? AND field = ? ORDER BY position`
	case classTag:
		stmt = `SELECT tag FROM tag_entries
			WHERE owner_collection = ? AND owner_id = ? AND field = ? ORDER BY position`
	case classArtifact:
		stmt = `SELECT key, path, artifact_type FROM artifact_entries
			WHERE owner_collection = ? AND owner_id = ? AND field = ? ORDER BY position`
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(stmt), col, id, field)
	if err != nil {
		return nil, domain.WrapInternal("read child entries", err)
	}
	defer func() { _ = rows.Close() }()
	list := []any{}
	for rows.Next() {
		switch class {
		case classKV:
			var key, kind string
			var num sql.NullFloat64
			var str sql.NullString
			var boolInt sql.NullInt64
			if err := rows.Scan(&key, &kind, &num, &str, &boolInt); err != nil {
				return nil, domain.WrapInternal("scan kv entry", err)
			}
			list = append(list, map[string]any{
				"key":   key,
				"value": taggedValueDoc(domain.ValueKind(kind), num.Float64, str.String, boolInt.Int64 != 0),
			})
		case classTag:
			var tag string
			if err := rows.Scan(&tag); err != nil {
				return nil, domain.WrapInternal("scan tag entry", err)
			}
			list = append(list, tag)
		case classArtifact:
			var key, path, artifactType string
			if err := rows.Scan(&key, &path, &artifactType); err != nil {
				return nil, domain.WrapInternal("scan artifact entry", err)
			}
			list = append(list, map[string]any{"key": key, "path": path, "artifact_type": artifactType})
		}
	}
	return list, rows.Err()
}

// Find selects matching identifiers then rehydrates each document.
func (s *Store) Find(ctx context.Context, col string, f query.Filter, opts storage.FindOptions) ([]storage.Document, error) {
	spec, err := s.spec(col)
	if err != nil {
		return nil, err
	}
	where, args, err := s.buildWhere(col, spec, f)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT t.id FROM %s t%s", col, where)
	if opts.Sort != nil {
		if _, _, nested := opts.Sort.Nested(); nested {
			return nil, domain.Errorf(domain.CodeInvalidArgument,
				"nested sort key %q requires pipeline execution", opts.Sort.Key)
		}
		orderCol := opts.Sort.Key
		class, ok := spec[orderCol]
		if !ok || (class != classText && class != classTime) {
			return nil, domain.Errorf(domain.CodeUnimplemented,
				"relational backend cannot sort %s by %q", col, opts.Sort.Key)
		}
		dir := "DESC"
		if opts.Sort.Ascending {
			dir = "ASC"
		}
		stmt += fmt.Sprintf(" ORDER BY t.%s %s", orderCol, dir)
	}
	if opts.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(stmt), args...)
	if err != nil {
		return nil, domain.WrapInternal("find", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.WrapInternal("scan id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapInternal("find", err)
	}
	out := make([]storage.Document, 0, len(ids))
	for _, id := range ids {
		doc, ok, err := s.Get(ctx, col, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Count reports how many rows match the filter.
func (s *Store) Count(ctx context.Context, col string, f query.Filter) (int64, error) {
	spec, err := s.spec(col)
	if err != nil {
		return 0, err
	}
	where, args, err := s.buildWhere(col, spec, f)
	if err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s t%s", col, where)
	var n int64
	if err := s.db.QueryRowContext(ctx, s.rebind(stmt), args...).Scan(&n); err != nil {
		return 0, domain.WrapInternal("count", err)
	}
	return n, nil
}

// Delete removes matching rows and their child-table entries.
func (s *Store) Delete(ctx context.Context, col string, f query.Filter) (int64, error) {
	spec, err := s.spec(col)
	if err != nil {
		return 0, err
	}
	where, args, err := s.buildWhere(col, spec, f)
	if err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf("SELECT t.id FROM %s t%s", col, where)
	rows, err := s.db.QueryContext(ctx, s.rebind(stmt), args...)
	if err != nil {
		return 0, domain.WrapInternal("select for delete", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, domain.WrapInternal("scan id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, domain.WrapInternal("select for delete", err)
	}
	_ = rows.Close()
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.WrapInternal("begin delete", err)
	}
	defer func() { _ = tx.Rollback() }()
	var removed int64
	for _, id := range ids {
		for _, child := range []string{"kv_entries", "tag_entries", "artifact_entries"} {
			childStmt := fmt.Sprintf("DELETE FROM %s WHERE owner_collection = ? AND owner_id = ?", child)
			if _, err := tx.ExecContext(ctx, s.rebind(childStmt), col, id); err != nil {
				return 0, domain.WrapInternal("delete child entries", err)
			}
		}
		res, err := tx.ExecContext(ctx, s.rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", col)), id)
		if err != nil {
			return 0, domain.WrapInternal("delete row", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if err := tx.Commit(); err != nil {
		return 0, domain.WrapInternal("commit delete", err)
	}
	return removed, nil
}

func listOrEmpty(raw any) []any {
	list, _ := raw.([]any)
	if list == nil {
		list = []any{}
	}
	return list
}

func asString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func asInt64(raw any) int64 {
	switch v := raw.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// timeMicros parses the document's RFC3339 time string into epoch microseconds.
func timeMicros(raw any) (int64, error) {
	s, _ := raw.(string)
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, domain.Errorf(domain.CodeInvalidArgument, "invalid timestamp %q: %v", s, err)
	}
	return t.UnixMicro(), nil
}

func microsToRFC3339(micros int64) string {
	if micros == 0 {
		return time.Time{}.UTC().Format(time.RFC3339Nano)
	}
	return time.UnixMicro(micros).UTC().Format(time.RFC3339Nano)
}

func decodeKeyValue(raw any) (domain.KeyValue, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return domain.KeyValue{}, domain.WrapInternal("encode kv element", err)
	}
	var kv domain.KeyValue
	if err := json.Unmarshal(data, &kv); err != nil {
		return domain.KeyValue{}, domain.Errorf(domain.CodeInvalidArgument, "malformed key/value element: %v", err)
	}
	return kv, nil
}

func decodeArtifact(raw any) (domain.Artifact, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return domain.Artifact{}, domain.WrapInternal("encode artifact element", err)
	}
	var art domain.Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return domain.Artifact{}, domain.Errorf(domain.CodeInvalidArgument, "malformed artifact element: %v", err)
	}
	return art, nil
}

// valueColumns splits a tagged value across the typed child-table columns.
func valueColumns(v domain.Value) (num any, str any, boolInt any) {
	switch v.Kind() {
	case domain.KindNumber:
		return v.Number(), nil, nil
	case domain.KindString:
		return nil, v.String(), nil
	case domain.KindBool:
		b := int64(0)
		if v.Bool() {
			b = 1
		}
		return nil, nil, b
	default:
		return nil, nil, nil
	}
}

// taggedValueDoc rebuilds the document form of a tagged value from its columns.
func taggedValueDoc(kind domain.ValueKind, num float64, str string, b bool) map[string]any {
	out := map[string]any{"kind": string(kind)}
	switch kind {
	case domain.KindNumber:
		out["number"] = num
	case domain.KindString:
		out["string"] = str
	case domain.KindBool:
		out["bool"] = b
	}
	return out
}

// classifyWriteError maps driver-level duplicate-key failures onto the taxonomy.
func classifyWriteError(col, id string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key") {
		return domain.Errorf(domain.CodeAlreadyExists, "document %s already exists in %s", id, col)
	}
	return domain.WrapInternal("insert row", err)
}
