// Package sqlite provides a thin wrapper around an embedded SQLite database.
// It exposes the small surface the archive needs: running plain statements,
// preparing parameterized statements, binding typed parameters, iterating
// result rows, and checking the integrity of the database file.
//
// All statements of one database share a single connection, as prepared
// statements are bound to the connection that created them. SQLite serializes
// concurrent operations on the connection internally; callers still need to
// guard each individual statement, since binding and stepping a statement is
// a stateful sequence.
package sqlite

import (
	"database/sql/driver"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"github.com/mattn/go-sqlite3"

	"github.com/toofooboo/Carmen/common"
)

const (
	// ErrClosed is the error produced when operating on a closed database.
	ErrClosed = common.ConstError("database already closed")
	// ErrFinalized is the error produced when using a finalized statement.
	ErrFinalized = common.ConstError("statement already finalized")
	// ErrIntegrityCheckFailed is the error produced when the database file
	// reports internal inconsistencies.
	ErrIntegrityCheckFailed = common.ConstError("DB integrity check failed")
	// ErrOpenStatements is the error produced when closing a database while
	// prepared statements are still live.
	ErrOpenStatements = common.ConstError("unable to close database, not all prepared statements have been finalized")
)

var (
	// See https://www.sqlite.org/pragma.html
	connectionConfiguration = []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
)

// Database is a single-connection handle to a SQLite database file. It is the
// exclusive owner of the file while open.
type Database struct {
	conn *sqlite3.SQLiteConn

	// statementsMutex guards the set of live statements below.
	statementsMutex sync.Mutex
	statements      map[*Statement]struct{}
}

// Open opens the SQLite database stored in the given file, creating the file
// and any missing directories on first use. Write-ahead journaling is enabled
// on the resulting database.
func Open(path string) (*Database, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s; %w", path, err)
		}
	}
	conn, err := (&sqlite3.SQLiteDriver{}).Open("file:" + path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database %s; %w", path, err)
	}
	db := &Database{
		conn:       conn.(*sqlite3.SQLiteConn),
		statements: map[*Statement]struct{}{},
	}
	for _, cmd := range connectionConfiguration {
		if err := db.Run(cmd); err != nil {
			db.conn.Close()
			return nil, fmt.Errorf("failed to configure connection with %s; %w", cmd, err)
		}
	}
	return db, nil
}

// Run executes a single statement producing no results, typically DDL or
// transaction control.
func (d *Database) Run(query string) error {
	if d.conn == nil {
		return ErrClosed
	}
	if _, err := d.conn.Exec(query, nil); err != nil {
		return fmt.Errorf("failed to run %q; %w", query, err)
	}
	return nil
}

// Prepare compiles the given statement for repeated execution. The resulting
// statement remains owned by this database and must be finalized before the
// database can be closed.
func (d *Database) Prepare(query string) (*Statement, error) {
	if d.conn == nil {
		return nil, ErrClosed
	}
	prepared, err := d.conn.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %q; %w", query, err)
	}
	stmt := &Statement{db: d, stmt: prepared}
	d.statementsMutex.Lock()
	d.statements[stmt] = struct{}{}
	d.statementsMutex.Unlock()
	return stmt, nil
}

// IntegrityCheck runs the integrity pragma of the database engine and reports
// every issue it lists.
func (d *Database) IntegrityCheck() error {
	if d.conn == nil {
		return ErrClosed
	}
	var issues []string
	if err := QueryEach(d, "PRAGMA integrity_check", func(row Row) {
		if msg := row.GetString(0); msg != "ok" {
			issues = append(issues, msg)
		}
	}); err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("%w:\n\t%s", ErrIntegrityCheckFailed, strings.Join(issues, "\n\t"))
	}
	return nil
}

// Close releases the database handle. All prepared statements must have been
// finalized before; otherwise the close fails and the database stays open.
func (d *Database) Close() error {
	if d.conn == nil {
		return nil
	}
	d.statementsMutex.Lock()
	live := len(d.statements)
	d.statementsMutex.Unlock()
	if live > 0 {
		return ErrOpenStatements
	}
	if err := d.conn.Close(); err != nil {
		return fmt.Errorf("failed to close SQLite database; %w", err)
	}
	d.conn = nil
	return nil
}

// GetMemoryFootprint reports the size of this wrapper and the page space the
// database engine reports for the open file.
func (d *Database) GetMemoryFootprint() *common.MemoryFootprint {
	res := common.NewMemoryFootprint(unsafe.Sizeof(*d))
	var pageCount, pageSize int64
	QueryEach(d, "PRAGMA page_count", func(row Row) { pageCount = row.GetInt64(0) })
	QueryEach(d, "PRAGMA page_size", func(row Row) { pageSize = row.GetInt64(0) })
	res.AddChild("pages", common.NewMemoryFootprint(uintptr(pageCount*pageSize)))
	return res
}

// QueryEach prepares the given statement, runs it, applies the consumer to
// every result row, and finalizes the statement again. It serves one-off
// queries that do not warrant a long-lived prepared statement.
func QueryEach(d *Database, query string, consume func(Row)) error {
	stmt, err := d.Prepare(query)
	if err != nil {
		return err
	}
	runErr := stmt.Query(consume)
	closeErr := stmt.Finalize()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// Statement is a prepared statement bound to its owning database. Instances
// are stateful: parameters are bound positionally, executed through Run,
// Query, or Open, and cleared through Reset. A statement is not thread safe.
type Statement struct {
	db   *Database
	stmt driver.Stmt
	args []driver.Value
}

// Reset clears all bound parameters, preparing the statement for re-use.
func (s *Statement) Reset() error {
	if s.stmt == nil {
		return ErrFinalized
	}
	s.args = s.args[:0]
	return nil
}

// BindInt binds the given value to the parameter position (zero based).
func (s *Statement) BindInt(position, value int) error {
	return s.bind(position, int64(value))
}

// BindInt64 binds the given value to the parameter position (zero based).
func (s *Statement) BindInt64(position int, value int64) error {
	return s.bind(position, value)
}

// BindBytes binds the given byte string to the parameter position as a blob.
func (s *Statement) BindBytes(position int, value []byte) error {
	return s.bind(position, value)
}

// BindString binds the given text to the parameter position.
func (s *Statement) BindString(position int, value string) error {
	return s.bind(position, value)
}

func (s *Statement) bind(position int, value driver.Value) error {
	if s.stmt == nil {
		return ErrFinalized
	}
	if position < 0 {
		return fmt.Errorf("invalid parameter position %d", position)
	}
	for len(s.args) <= position {
		s.args = append(s.args, nil)
	}
	s.args[position] = value
	return nil
}

// Run executes the statement with the current bindings, discarding any
// produced rows.
func (s *Statement) Run() error {
	return s.Query(nil)
}

// Query executes the statement with the current bindings and applies the
// given consumer to every result row. The consumer may be nil.
func (s *Statement) Query(consume func(Row)) error {
	iter, err := s.Open()
	if err != nil {
		return err
	}
	for {
		ok, err := iter.Next()
		if err != nil {
			iter.Close()
			return err
		}
		if !ok {
			break
		}
		if consume != nil {
			consume(iter.row())
		}
	}
	return iter.Close()
}

// Open executes the statement with the current bindings and returns a cursor
// over the result rows. The cursor must be closed; the statement must not be
// rebound while the cursor is open.
func (s *Statement) Open() (*Iterator, error) {
	if s.stmt == nil {
		return nil, ErrFinalized
	}
	rows, err := s.stmt.Query(s.args)
	if err != nil {
		return nil, fmt.Errorf("failed to run statement; %w", err)
	}
	return &Iterator{rows: rows, values: make([]driver.Value, len(rows.Columns()))}, nil
}

// Finalize releases the prepared statement. Afterwards, any use of the
// statement fails, and the owning database may be closed.
func (s *Statement) Finalize() error {
	if s.stmt == nil {
		return nil
	}
	err := s.stmt.Close()
	s.db.statementsMutex.Lock()
	delete(s.db.statements, s)
	s.db.statementsMutex.Unlock()
	s.stmt = nil
	if err != nil {
		return fmt.Errorf("failed to finalize statement; %w", err)
	}
	return nil
}

// Iterator is a cursor over the result rows of a statement execution.
type Iterator struct {
	rows     driver.Rows
	values   []driver.Value
	finished bool
}

// Next advances the cursor to the next row, reporting whether such a row
// exists.
func (i *Iterator) Next() (bool, error) {
	if i.finished {
		return false, nil
	}
	err := i.rows.Next(i.values)
	if err == io.EOF {
		i.finished = true
		return false, nil
	}
	if err != nil {
		i.finished = true
		return false, fmt.Errorf("failed to fetch next row; %w", err)
	}
	return true, nil
}

// Finished is true once the cursor has moved past the last row.
func (i *Iterator) Finished() bool {
	return i.finished
}

// GetInt returns the value of the given column of the current row.
func (i *Iterator) GetInt(column int) int {
	return i.row().GetInt(column)
}

// GetInt64 returns the value of the given column of the current row.
func (i *Iterator) GetInt64(column int) int64 {
	return i.row().GetInt64(column)
}

// GetString returns the value of the given column of the current row.
func (i *Iterator) GetString(column int) string {
	return i.row().GetString(column)
}

// GetBytes returns the value of the given column of the current row. The
// returned slice is only valid until the next Next call.
func (i *Iterator) GetBytes(column int) []byte {
	return i.row().GetBytes(column)
}

// Close releases the cursor. The underlying statement stays prepared.
func (i *Iterator) Close() error {
	if i.rows == nil {
		return nil
	}
	err := i.rows.Close()
	i.rows = nil
	i.finished = true
	if err != nil {
		return fmt.Errorf("failed to close row iterator; %w", err)
	}
	return nil
}

func (i *Iterator) row() Row {
	return Row{values: i.values}
}

// Row provides typed access to the columns of a single result row. It is only
// valid within the consumer invocation or until the cursor advances.
type Row struct {
	values []driver.Value
}

// GetInt returns the value of the given column interpreted as an int.
func (r Row) GetInt(column int) int {
	return int(r.GetInt64(column))
}

// GetInt64 returns the value of the given column interpreted as an int64.
func (r Row) GetInt64(column int) int64 {
	switch value := r.values[column].(type) {
	case int64:
		return value
	case bool:
		if value {
			return 1
		}
		return 0
	}
	return 0
}

// GetString returns the value of the given column interpreted as text.
func (r Row) GetString(column int) string {
	switch value := r.values[column].(type) {
	case string:
		return value
	case []byte:
		return string(value)
	}
	return ""
}

// GetBytes returns the value of the given column interpreted as a blob.
func (r Row) GetBytes(column int) []byte {
	switch value := r.values[column].(type) {
	case []byte:
		return value
	case string:
		return []byte(value)
	}
	return nil
}
