package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/yuaidb/yuaidb/internal/dberrors"
)

// snapshotSuffix matches the data directory layout's "<table>.bin" name;
// the content is BSON regardless of the extension (see Design Note on
// canonical encoding).
const snapshotSuffix = ".bin"

func snapshotPath(dataDir, table string) string {
	return filepath.Join(dataDir, table+snapshotSuffix)
}

type snapshotDoc struct {
	Rows []*Row `bson:"rows"`
}

// saveTable atomically rewrites table's snapshot file: marshal to a
// uuid-suffixed temp file in the same directory, then rename over the
// previous snapshot, so a crash mid-write never leaves a torn file.
func saveTable(dataDir, table string, rows []*Row) error {
	data, err := bson.Marshal(snapshotDoc{Rows: rows})
	if err != nil {
		return &dberrors.SerializationError{Detail: "encode snapshot for table " + table, Err: err}
	}
	tmp := filepath.Join(dataDir, table+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &dberrors.IOError{Detail: "write snapshot temp file for table " + table, Err: err}
	}
	if err := os.Rename(tmp, snapshotPath(dataDir, table)); err != nil {
		os.Remove(tmp)
		return &dberrors.IOError{Detail: "rename snapshot temp file for table " + table, Err: err}
	}
	return nil
}

// loadTable reads table's snapshot file, returning (nil, nil) if none
// exists yet (a brand-new table).
func loadTable(dataDir, table string) ([]*Row, error) {
	data, err := os.ReadFile(snapshotPath(dataDir, table))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &dberrors.IOError{Detail: "read snapshot for table " + table, Err: err}
	}
	if len(data) == 0 {
		return nil, nil
	}
	var doc snapshotDoc
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, &dberrors.SerializationError{Detail: "decode snapshot for table " + table, Err: err}
	}
	return doc.Rows, nil
}

// listSnapshotTables returns the table names that already have a
// snapshot file on disk, discovered at startup before the schema names
// any tables explicitly.
func listSnapshotTables(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &dberrors.IOError{Detail: "list data directory " + dataDir, Err: err}
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), snapshotSuffix); ok {
			names = append(names, name)
		}
	}
	return names, nil
}
