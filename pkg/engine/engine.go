// Package engine assembles the schema registry, in-memory tables,
// secondary/full-text indexes, and write-ahead log into a single
// embedded store, and runs the query plans pkg/query builds against it.
package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yuaidb/yuaidb/internal/dberrors"
	"github.com/yuaidb/yuaidb/internal/logging"
	"github.com/yuaidb/yuaidb/pkg/index"
	"github.com/yuaidb/yuaidb/pkg/query"
	"github.com/yuaidb/yuaidb/pkg/schema"
	"github.com/yuaidb/yuaidb/pkg/types"
	"github.com/yuaidb/yuaidb/pkg/wal"
)

const walFileName = "wal.log"

// Engine is the embedded store: one schema-driven set of tables backed
// by snapshot files on disk and a write-ahead log for crash recovery.
type Engine struct {
	dataDir    string
	schemaPath string

	schema  *schema.Registry
	tables  *Tables
	indexes *index.Indexes
	autoinc *autoincCache
	log     *logging.Logger

	walGuard sync.RWMutex
	wal      *wal.Writer
	walPath  string

	schemaRawMu sync.Mutex
	lastSchema  []byte

	saveMu sync.Mutex

	stop     chan struct{}
	wg       sync.WaitGroup
	closeOne sync.Once
}

// Open loads (or creates) the store rooted at dataDir, using the TOML
// schema at schemaPath. A schema file that fails to parse does not
// prevent opening: the registry falls back to an empty schema (unknown
// tables keep working with text-typed fields) while snapshots and the
// WAL still load normally.
func Open(dataDir, schemaPath string) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, &dberrors.IOError{Detail: "create data directory " + dataDir, Err: err}
	}

	e := &Engine{
		dataDir:    dataDir,
		schemaPath: schemaPath,
		schema:     schema.NewRegistry(),
		tables:     newTables(),
		indexes:    index.New(),
		autoinc:    newAutoincCache(),
		log:        logging.New("engine"),
		stop:       make(chan struct{}),
	}

	raw, sch, err := loadSchemaFile(schemaPath)
	if err != nil {
		e.log.Warn("schema load failed, starting with an empty schema: %v", err)
		sch = schema.Empty()
	}
	e.schema.Swap(sch)
	e.lastSchema = raw

	if err := e.loadSnapshots(); err != nil {
		return nil, err
	}

	e.walPath = filepath.Join(dataDir, walFileName)
	if err := e.recoverFromWAL(); err != nil {
		return nil, err
	}

	w, err := wal.OpenWriter(e.walPath)
	if err != nil {
		return nil, err
	}
	e.wal = w

	e.startBackgroundTasks()
	return e, nil
}

// Close stops background tasks, checkpoints every table, and closes the
// write-ahead log.
func (e *Engine) Close() error {
	var closeErr error
	e.closeOne.Do(func() {
		close(e.stop)
		e.wg.Wait()
		if err := e.checkpointAll(); err != nil {
			e.log.Warn("checkpoint on close failed: %v", err)
		}
		e.walGuard.Lock()
		closeErr = e.wal.Close()
		e.walGuard.Unlock()
	})
	return closeErr
}

func loadSchemaFile(path string) ([]byte, *schema.Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	sch, err := schema.Parse(bytes.NewReader(raw))
	if err != nil {
		return raw, nil, err
	}
	return raw, sch, nil
}

// loadSnapshots discovers every table that has either a declared schema
// entry or a snapshot file already on disk, loads its rows, seeds the
// row-id and autoincrement counters, and rebuilds its indexes.
func (e *Engine) loadSnapshots() error {
	sch := e.schema.Load()
	names := make(map[string]struct{})
	for _, t := range sch.Tables {
		names[t.Name] = struct{}{}
	}
	onDisk, err := listSnapshotTables(e.dataDir)
	if err != nil {
		return err
	}
	for _, n := range onDisk {
		names[n] = struct{}{}
	}

	for name := range names {
		rows, err := loadTable(e.dataDir, name)
		if err != nil {
			return err
		}
		t := e.tables.GetOrCreate(name)
		var maxID int32 = -1
		for _, r := range rows {
			t.Insert(r)
			if r.ID > maxID {
				maxID = r.ID
			}
		}
		if maxID >= 0 {
			t.seedNextID(maxID)
		}
		e.rebuildIndexesForTable(name, rows)
		e.seedAutoincForTable(name, rows)
	}
	return nil
}

// recoverFromWAL replays every record left in the log from a prior
// crash through the same apply path a live mutation uses, then
// checkpoints the recovered state and discards the now-redundant log.
func (e *Engine) recoverFromWAL() error {
	records, err := wal.Replay(e.walPath)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	e.log.Info("replaying %d wal records", len(records))
	e.applyRecords(records)
	if err := e.checkpointAll(); err != nil {
		return err
	}
	if err := os.Remove(e.walPath); err != nil && !os.IsNotExist(err) {
		return &dberrors.IOError{Detail: "remove recovered wal file", Err: err}
	}
	return nil
}

// applyRecords replays a batch of WAL records through the same apply
// path a live mutation uses, logging (not aborting) on a per-record
// failure so one bad record doesn't block the rest of recovery.
func (e *Engine) applyRecords(records []wal.Record) {
	for _, rec := range records {
		switch rec.Kind {
		case wal.OpInsert:
			for _, row := range rec.Rows {
				if _, err := e.applyInsert(rec.Table, row); err != nil {
					e.log.Warn("replay insert on %q failed: %v", rec.Table, err)
				}
			}
		case wal.OpUpdate:
			if _, err := e.applyUpdate(rec.Table, rec.Set, rec.Where); err != nil {
				e.log.Warn("replay update on %q failed: %v", rec.Table, err)
			}
		case wal.OpDelete:
			if _, err := e.applyDelete(rec.Table, rec.Where); err != nil {
				e.log.Warn("replay delete on %q failed: %v", rec.Table, err)
			}
		}
	}
}

// replayWALTail applies whatever is still in the write-ahead log after
// a checkpoint and schema swap. checkpointAll doesn't hold walGuard, so
// a mutation can append a record between the checkpoint read and this
// point; replaying that tail before truncating is what keeps such a
// write from being silently lost.
func (e *Engine) replayWALTail() error {
	e.walGuard.RLock()
	records, err := wal.Replay(e.walPath)
	e.walGuard.RUnlock()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	e.log.Info("replaying %d wal records accrued during schema reload", len(records))
	e.applyRecords(records)
	if err := e.checkpointAll(); err != nil {
		return err
	}
	return e.truncateWAL()
}

// checkpointAll snapshots every known table to disk.
func (e *Engine) checkpointAll() error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	for _, name := range e.tables.Names() {
		t, ok := e.tables.Get(name)
		if !ok {
			continue
		}
		if err := saveTable(e.dataDir, name, t.Snapshot()); err != nil {
			return err
		}
	}
	return nil
}

// truncateWAL closes and discards the current log, replacing it with a
// fresh empty one, once its contents are known to be durably
// checkpointed elsewhere.
func (e *Engine) truncateWAL() error {
	e.walGuard.Lock()
	defer e.walGuard.Unlock()
	if err := e.wal.Close(); err != nil {
		return &dberrors.IOError{Detail: "close wal before truncate", Err: err}
	}
	if err := os.Remove(e.walPath); err != nil && !os.IsNotExist(err) {
		return &dberrors.IOError{Detail: "remove wal file", Err: err}
	}
	w, err := wal.OpenWriter(e.walPath)
	if err != nil {
		return err
	}
	e.wal = w
	return nil
}

func (e *Engine) appendWAL(rec wal.Record) error {
	e.walGuard.RLock()
	defer e.walGuard.RUnlock()
	return e.wal.Append(rec)
}

func (e *Engine) rebuildIndexesForTable(table string, rows []*Row) {
	e.indexes.ClearTable(table)
	sch := e.schema.Load()
	for _, f := range sch.FieldsOf(table) {
		if f.Indexed {
			e.indexes.EnsureSecondary(table, f.Name)
		}
		if f.Fulltext {
			e.indexes.EnsureFulltext(table, f.Name)
		}
	}
	for _, r := range rows {
		e.indexRow(table, r)
	}
}

func (e *Engine) seedAutoincForTable(table string, rows []*Row) {
	sch := e.schema.Load()
	for _, f := range sch.AutoincrementFields(table) {
		var max int64 = -1
		for _, r := range rows {
			if v, ok := r.Values[f]; ok {
				if n, ok2 := parseAutoincSeed(v.String()); ok2 && n > max {
					max = n
				}
			}
		}
		if max >= 0 {
			e.autoinc.seed(table, f, max)
		}
	}
}

func (e *Engine) indexRow(table string, row *Row) {
	sch := e.schema.Load()
	for _, f := range sch.FieldsOf(table) {
		v, present := row.Values[f.Name]
		if !present {
			continue
		}
		if f.Indexed {
			e.indexes.AddSecondary(table, f.Name, v.String(), row.ID)
		}
		if f.Fulltext {
			e.indexes.AddFulltext(table, f.Name, v.String(), row.ID)
		}
	}
}

func (e *Engine) unindexRow(table string, row *Row) {
	sch := e.schema.Load()
	for _, f := range sch.FieldsOf(table) {
		v, present := row.Values[f.Name]
		if !present {
			continue
		}
		if f.Indexed {
			e.indexes.RemoveSecondary(table, f.Name, v.String(), row.ID)
		}
		if f.Fulltext {
			e.indexes.RemoveFulltext(table, f.Name, v.String(), row.ID)
		}
	}
}

func (e *Engine) reindexRow(table string, oldRow, newRow *Row) {
	e.unindexRow(table, oldRow)
	e.indexRow(table, newRow)
}

// typeRow coerces a literal field->string map into typed values per the
// table's declared schema (text for anything undeclared), pulling the
// "ttl" pseudo-field out into an expiry rather than storing it as data.
func (e *Engine) typeRow(table string, literal map[string]string) (map[string]types.Value, *int64, error) {
	sch := e.schema.Load()
	values := make(map[string]types.Value, len(literal))
	var expiresAt *int64

	if ttlLiteral, ok := literal["ttl"]; ok {
		ttl, err := parseAutoincSeedStrict(ttlLiteral)
		if err != nil {
			return nil, nil, &dberrors.InvalidValueError{Field: "ttl", Literal: ttlLiteral}
		}
		exp := time.Now().Unix() + ttl
		expiresAt = &exp
	}

	for field, lit := range literal {
		if field == "ttl" {
			continue
		}
		kind := sch.FieldType(table, field)
		v, err := types.ParseAs(kind, lit)
		if err != nil {
			return nil, nil, &dberrors.InvalidValueError{Field: field, Literal: lit}
		}
		values[field] = v
	}
	return values, expiresAt, nil
}

func parseAutoincSeedStrict(literal string) (int64, error) {
	n, ok := parseAutoincSeed(literal)
	if !ok {
		return 0, &dberrors.InvalidValueError{Field: "ttl", Literal: literal}
	}
	return n, nil
}

// assignAutoincrement fills in any declared autoincrement field the
// caller didn't supply, and folds any caller-supplied value into the
// running high-water mark so generated ids never collide with it.
func (e *Engine) assignAutoincrement(table string, values map[string]types.Value) {
	sch := e.schema.Load()
	for _, field := range sch.AutoincrementFields(table) {
		if v, present := values[field]; present {
			if n, ok := parseAutoincSeed(v.String()); ok {
				e.autoinc.seed(table, field, n)
			}
			continue
		}
		n := e.autoinc.next(table, field)
		values[field] = types.Numeric(float64(n))
	}
}

// checkUnique verifies values don't collide with any live row's unique
// fields, other than excludeID (the row being updated, if any).
func (e *Engine) checkUnique(table string, values map[string]types.Value, excludeID *int32) error {
	sch := e.schema.Load()
	uniqueFields := sch.UniqueFields(table)
	if len(uniqueFields) == 0 {
		return nil
	}
	t := e.tables.GetOrCreate(table)
	rows := liveRows(t.Snapshot(), time.Now().Unix())
	for _, field := range uniqueFields {
		v, present := values[field]
		if !present {
			continue
		}
		for _, r := range rows {
			if excludeID != nil && r.ID == *excludeID {
				continue
			}
			if rv, ok := r.Values[field]; ok && rv.Equal(v) {
				return &dberrors.DuplicateValueError{Field: field, Value: v.String()}
			}
		}
	}
	return nil
}

func liveRows(rows []*Row, now int64) []*Row {
	out := make([]*Row, 0, len(rows))
	for _, r := range rows {
		if !r.Expired(now) {
			out = append(out, r)
		}
	}
	return out
}

// applyInsert types, assigns autoincrement fields, checks uniqueness,
// and stores one new row. It is the single code path used by a live
// Insert and by WAL replay.
func (e *Engine) applyInsert(table string, literal map[string]string) (*Row, error) {
	values, expiresAt, err := e.typeRow(table, literal)
	if err != nil {
		return nil, err
	}
	e.assignAutoincrement(table, values)
	if err := e.checkUnique(table, values, nil); err != nil {
		return nil, err
	}

	t := e.tables.GetOrCreate(table)
	row := &Row{ID: t.NextID(), Values: values, ExpiresAt: expiresAt}
	t.Insert(row)
	e.indexRow(table, row)
	return row, nil
}

// applyUpdate filters live rows by where, types and applies set to each
// match, and returns the number of rows changed.
func (e *Engine) applyUpdate(table string, set map[string]string, where [][]query.Condition) (int, error) {
	t, ok := e.tables.Get(table)
	if !ok {
		return 0, &dberrors.TableNotFoundError{Table: table}
	}
	now := time.Now().Unix()
	rows := liveRows(t.Snapshot(), now)
	matched := filterRows(rows, where, table, e.indexes)

	sch := e.schema.Load()
	var ttlLiteral string
	var hasTTL bool
	if v, ok := set["ttl"]; ok {
		ttlLiteral = v
		hasTTL = true
	}

	count := 0
	for _, r := range matched {
		newValues := make(map[string]types.Value, len(r.Values))
		for k, v := range r.Values {
			newValues[k] = v
		}
		for field, literal := range set {
			if field == "ttl" {
				continue
			}
			kind := sch.FieldType(table, field)
			v, err := types.ParseAs(kind, literal)
			if err != nil {
				return count, &dberrors.InvalidValueError{Field: field, Literal: literal}
			}
			newValues[field] = v
		}

		newExpires := r.ExpiresAt
		if hasTTL {
			ttl, err := parseAutoincSeedStrict(ttlLiteral)
			if err != nil {
				return count, err
			}
			exp := now + ttl
			newExpires = &exp
		}

		id := r.ID
		if err := e.checkUnique(table, newValues, &id); err != nil {
			return count, err
		}
		for _, field := range sch.AutoincrementFields(table) {
			if v, present := newValues[field]; present {
				if n, ok := parseAutoincSeed(v.String()); ok {
					e.autoinc.seed(table, field, n)
				}
			}
		}

		newRow := &Row{ID: r.ID, Values: newValues, ExpiresAt: newExpires}
		t.Replace(newRow)
		e.reindexRow(table, r, newRow)
		count++
	}
	return count, nil
}

// applyDelete filters live rows by where and removes every match.
func (e *Engine) applyDelete(table string, where [][]query.Condition) (int, error) {
	t, ok := e.tables.Get(table)
	if !ok {
		return 0, &dberrors.TableNotFoundError{Table: table}
	}
	now := time.Now().Unix()
	rows := liveRows(t.Snapshot(), now)
	matched := filterRows(rows, where, table, e.indexes)

	for _, r := range matched {
		if _, ok := t.Delete(r.ID); ok {
			e.unindexRow(table, r)
		}
	}
	return len(matched), nil
}
