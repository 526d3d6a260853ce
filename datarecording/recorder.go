// Package datarecording stores simulation events in a SQLite database, one
// table per event type. Rows are buffered and written in batches.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/structs"
	"github.com/pkg/errors"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/ssdsim/sim/id"
)

// DefaultBatchSize is the number of buffered rows that triggers a flush.
const DefaultBatchSize = 100000

// DataRecorder is a backend that can record and store data
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of the
	// sample entry. The fields must be of scalar types.
	CreateTable(tableName string, sampleEntry any) error

	// InsertData buffers one entry of the type the table was created with.
	InsertData(tableName string, entry any) error

	// ListTables returns the names of the tables, sorted.
	ListTables() []string

	// Flush writes all the buffered entries into the database.
	Flush() error

	// Close flushes and closes the database.
	Close() error
}

// DefaultPath returns a fresh database path for a run.
func DefaultPath() string {
	return "ssdsim_" + id.NewRunID() + ".sqlite3"
}

// New creates a DataRecorder that writes into a new SQLite file. An empty
// path picks DefaultPath. The recorder is flushed when the program exits
// through atexit.
func New(path string, batchSize int) (DataRecorder, error) {
	if path == "" {
		path = DefaultPath()
	}

	if _, err := os.Stat(path); err == nil {
		return nil, errors.Errorf("file %s already exists", path)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	w := newWriter(db, batchSize)
	w.path = path
	atexit.Register(func() { _ = w.Close() })

	return w, nil
}

// NewWithDB creates a DataRecorder on an open database.
func NewWithDB(db *sql.DB, batchSize int) DataRecorder {
	return newWriter(db, batchSize)
}

func newWriter(db *sql.DB, batchSize int) *sqliteWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &sqliteWriter{
		DB:        db,
		batchSize: batchSize,
		tables:    make(map[string]*table),
	}
}

type table struct {
	structType reflect.Type
	entries    []any
}

// sqliteWriter is the writer that writes data into SQLite database
type sqliteWriter struct {
	*sql.DB

	path       string
	tables     map[string]*table
	batchSize  int
	entryCount int
	closed     bool
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(entry any) error {
	types := reflect.TypeOf(entry)
	if types == nil || types.Kind() != reflect.Struct {
		return errors.Errorf("entry of type %T is not a struct", entry)
	}

	for i := 0; i < types.NumField(); i++ {
		field := types.Field(i)
		if !isAllowedKind(field.Type.Kind()) {
			return errors.Errorf("field %s of %s has unsupported kind %s",
				field.Name, types.Name(), field.Type.Kind())
		}
	}

	return nil
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) error {
	if err := checkStructFields(sampleEntry); err != nil {
		return err
	}

	if _, exists := w.tables[tableName]; exists {
		return errors.Errorf("table %s already exists", tableName)
	}

	fields := strings.Join(structs.Names(sampleEntry), ", \n\t")
	createTableSQL := `CREATE TABLE ` + tableName +
		` (` + "\n\t" + fields + "\n" + `);`

	if _, err := w.Exec(createTableSQL); err != nil {
		return errors.Wrapf(err, "creating table %s", tableName)
	}

	w.tables[tableName] = &table{structType: reflect.TypeOf(sampleEntry)}

	return nil
}

func (w *sqliteWriter) InsertData(tableName string, entry any) error {
	t, exists := w.tables[tableName]
	if !exists {
		return errors.Errorf("table %s does not exist", tableName)
	}

	if reflect.TypeOf(entry) != t.structType {
		return errors.Errorf("table %s holds %s, got %T",
			tableName, t.structType, entry)
	}

	t.entries = append(t.entries, entry)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		return w.Flush()
	}

	return nil
}

func (w *sqliteWriter) ListTables() []string {
	tables := make([]string, 0, len(w.tables))
	for name := range w.tables {
		tables = append(tables, name)
	}

	sort.Strings(tables)

	return tables
}

func (w *sqliteWriter) Flush() error {
	if w.entryCount == 0 {
		return nil
	}

	tx, err := w.Begin()
	if err != nil {
		return errors.WithStack(err)
	}

	for _, name := range w.ListTables() {
		if err := w.flushTable(tx, name, w.tables[name]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WithStack(err)
	}

	w.entryCount = 0

	return nil
}

func (w *sqliteWriter) flushTable(tx *sql.Tx, name string, t *table) error {
	if len(t.entries) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(insertStatement(name, t.entries[0]))
	if err != nil {
		return errors.Wrapf(err, "preparing insert into %s", name)
	}
	defer stmt.Close()

	for _, entry := range t.entries {
		if _, err := stmt.Exec(structs.Values(entry)...); err != nil {
			return errors.Wrapf(err, "inserting into %s", name)
		}
	}

	t.entries = nil

	return nil
}

func insertStatement(table string, entry any) string {
	n := structs.Names(entry)
	for i := range n {
		n[i] = "?"
	}

	return fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, strings.Join(n, ", "))
}

func (w *sqliteWriter) Close() error {
	if w.closed {
		return nil
	}

	if err := w.Flush(); err != nil {
		return err
	}

	w.closed = true

	return errors.WithStack(w.DB.Close())
}
