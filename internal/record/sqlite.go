package record

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

/*
sqlite allows only one writer at a time, so a single Pump per database is
all that is useful. indices are only built on Close since maintaining them
while inserting slows every frame down.
*/

var ErrExists = errors.New("record: output already exists")

const schema = `
CREATE TABLE bodies (
	tick 	INTEGER,
	id 		INTEGER, -- body id
	x 		REAL,
	y 		REAL,
	mass 	REAL,
	radius 	REAL);
`

const indices = `
CREATE INDEX IF NOT EXISTS idx_tick ON bodies (tick, id);
CREATE INDEX IF NOT EXISTS idx_id ON bodies (id);
CREATE INDEX IF NOT EXISTS idx_mass ON bodies (mass);
`

const insert = `INSERT INTO bodies VALUES (?, ?, ?, ?, ?, ?);`
const queryFrame = `SELECT id, x, y, mass, radius FROM bodies WHERE tick = ? ORDER BY id ASC;`
const queryTicks = `SELECT DISTINCT tick FROM bodies ORDER BY tick ASC;`

// SQLiteSink writes one row per body per frame, one transaction per frame.
type SQLiteSink struct {
	db     *sql.DB
	insert *sql.Stmt
}

// OpenSQLite creates a new database in filename. It refuses to touch an
// existing file.
func OpenSQLite(filename string) (*SQLiteSink, error) {
	if _, err := os.Stat(filename); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, filename)
	}
	db, err := sql.Open("sqlite3", "file:"+filename+"?_journal_mode=OFF&_synchronous=OFF")
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filename, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	stmt, err := db.Prepare(insert)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	return &SQLiteSink{db: db, insert: stmt}, nil
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) WriteFrame(f *Frame) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("tick %d: %w", f.Tick, err)
	}
	stmt := tx.Stmt(s.insert)
	for _, b := range f.Bodies {
		if _, err = stmt.Exec(f.Tick, b.ID, b.X, b.Y, b.Mass, b.Radius); err != nil {
			tx.Rollback()
			return fmt.Errorf("tick %d: inserting body %d: %w", f.Tick, b.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tick %d: %w", f.Tick, err)
	}
	return nil
}

// ReadFrame loads the bodies recorded at tick, ordered by id.
func (s *SQLiteSink) ReadFrame(tick int) (*Frame, error) {
	rows, err := s.db.Query(queryFrame, tick)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	f := &Frame{Tick: tick}
	for rows.Next() {
		var b FrameBody
		if err := rows.Scan(&b.ID, &b.X, &b.Y, &b.Mass, &b.Radius); err != nil {
			return nil, err
		}
		f.Bodies = append(f.Bodies, b)
	}
	return f, rows.Err()
}

// Ticks lists every recorded tick in order.
func (s *SQLiteSink) Ticks() ([]int, error) {
	rows, err := s.db.Query(queryTicks)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []int
	for rows.Next() {
		var t int
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// Close builds the indices and closes the database.
func (s *SQLiteSink) Close() error {
	_, err := s.db.Exec(indices)
	return errors.Join(err, s.insert.Close(), s.db.Close())
}
