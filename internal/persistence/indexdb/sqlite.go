// Package indexdb maintains a secondary SQLite index of simulation
// sessions: per-year infection statistics and the raster products emitted
// at each year boundary. The index never feeds back into the simulation;
// writes go through a buffered goroutine so the engine loop is not
// stalled by disk I/O.
package indexdb

import (
	"database/sql"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type Index struct {
	db        *sqlx.DB
	log       *log.Logger
	sessionID string

	ch   chan req
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type reqKind int

const (
	reqYear reqKind = iota + 1
	reqOutput
)

type req struct {
	kind reqKind

	year yearRow
	out  outputRow
}

type yearRow struct {
	Year        int
	InfectedAvg int
	N, S, E, W  float64
}

type outputRow struct {
	Name string
	Date string
}

func Open(path string, logger *log.Logger) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	x := &Index{
		db:   db,
		log:  logger,
		ch:   make(chan req, 4096),
		done: make(chan struct{}),
	}
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		x.loop()
	}()
	return x, nil
}

func initPragmas(db *sqlx.DB) error {
	// WAL suits the append-style workload of a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			runs INTEGER NOT NULL,
			start_year INTEGER NOT NULL,
			end_year INTEGER NOT NULL,
			step TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS yearly_stats (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			year INTEGER NOT NULL,
			infected_avg INTEGER NOT NULL,
			rate_n REAL,
			rate_s REAL,
			rate_e REAL,
			rate_w REAL,
			PRIMARY KEY (session_id, year)
		);`,
		`CREATE TABLE IF NOT EXISTS outputs (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			name TEXT NOT NULL,
			date TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// StartSession registers this simulation run and keys all further rows.
func (x *Index) StartSession(seed uint64, runs, startYear, endYear int, step string) error {
	x.sessionID = uuid.NewString()
	_, err := x.db.Exec(
		`INSERT INTO sessions (id, seed, runs, start_year, end_year, step, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		x.sessionID, int64(seed), runs, startYear, endYear, step,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (x *Index) SessionID() string { return x.sessionID }

// RecordYear queues one year's ensemble statistics. NaN rates are stored
// as NULL. Records arriving after Close are dropped.
func (x *Index) RecordYear(year, infectedAvg int, n, s, e, w float64) {
	select {
	case x.ch <- req{kind: reqYear, year: yearRow{Year: year, InfectedAvg: infectedAvg, N: n, S: s, E: e, W: w}}:
	case <-x.done:
	}
}

// RecordOutput queues one emitted raster product. Records arriving after
// Close are dropped.
func (x *Index) RecordOutput(name, date string) {
	select {
	case x.ch <- req{kind: reqOutput, out: outputRow{Name: name, Date: date}}:
	case <-x.done:
	}
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func (x *Index) loop() {
	for {
		select {
		case r := <-x.ch:
			x.insert(r)
		case <-x.done:
			// Drain what was queued before Close, then exit.
			for {
				select {
				case r := <-x.ch:
					x.insert(r)
				default:
					return
				}
			}
		}
	}
}

func (x *Index) insert(r req) {
	switch r.kind {
	case reqYear:
		_, err := x.db.Exec(
			`INSERT INTO yearly_stats (session_id, year, infected_avg, rate_n, rate_s, rate_e, rate_w)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (session_id, year) DO UPDATE SET
			   infected_avg = excluded.infected_avg,
			   rate_n = excluded.rate_n,
			   rate_s = excluded.rate_s,
			   rate_e = excluded.rate_e,
			   rate_w = excluded.rate_w`,
			x.sessionID, r.year.Year, r.year.InfectedAvg,
			nullable(r.year.N), nullable(r.year.S), nullable(r.year.E), nullable(r.year.W),
		)
		if err != nil && x.log != nil {
			x.log.Printf("indexdb: yearly stats: %v", err)
		}
	case reqOutput:
		_, err := x.db.Exec(
			`INSERT INTO outputs (session_id, name, date) VALUES (?, ?, ?)`,
			x.sessionID, r.out.Name, r.out.Date,
		)
		if err != nil && x.log != nil {
			x.log.Printf("indexdb: output row: %v", err)
		}
	}
}

// Close drains pending writes and closes the database.
func (x *Index) Close() error {
	x.once.Do(func() { close(x.done) })
	x.wg.Wait()
	return x.db.Close()
}
