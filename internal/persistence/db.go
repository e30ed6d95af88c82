// Package persistence archives finished runs to a SQLite file. An archive is
// a write-once report; live negotiation state is never loaded back from it.
package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/bazaar/internal/board"
	"github.com/talgya/bazaar/internal/engine"
)

// ErrRunExists is returned when archiving a run id twice.
var ErrRunExists = errors.New("run already archived")

// DB wraps a SQLite connection holding archived runs.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates an archive at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		timed_out INTEGER NOT NULL,
		total INTEGER NOT NULL,
		accepted INTEGER NOT NULL,
		aborted INTEGER NOT NULL,
		timeouts INTEGER NOT NULL,
		unfinished INTEGER NOT NULL,
		avg_price REAL NOT NULL,
		min_price REAL NOT NULL,
		max_price REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS negotiations (
		run_id TEXT NOT NULL REFERENCES runs(id),
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		supplier_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		company TEXT NOT NULL,
		status TEXT NOT NULL,
		price REAL NOT NULL,
		messages INTEGER NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		run_id TEXT NOT NULL REFERENCES runs(id),
		negotiation_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		sender_id TEXT NOT NULL,
		sender_role TEXT NOT NULL,
		price REAL NOT NULL,
		state TEXT NOT NULL,
		remaining INTEGER NOT NULL,
		company TEXT NOT NULL,
		PRIMARY KEY (run_id, negotiation_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS participants (
		run_id TEXT NOT NULL REFERENCES runs(id),
		negotiation_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (run_id, negotiation_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS inventory (
		run_id TEXT NOT NULL REFERENCES runs(id),
		agent_id TEXT NOT NULL,
		company TEXT NOT NULL,
		tickets INTEGER NOT NULL,
		sold INTEGER NOT NULL,
		remaining INTEGER NOT NULL,
		opened INTEGER NOT NULL,
		settled INTEGER NOT NULL,
		PRIMARY KEY (run_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS faults (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		agent_id TEXT NOT NULL,
		error TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_negotiations_status ON negotiations(run_id, status);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Run is one archived run as stored in the runs table.
type Run struct {
	ID         string  `db:"id"`
	Seed       int64   `db:"seed"`
	StartedMS  int64   `db:"started_at"` // unix milliseconds
	FinishedMS int64   `db:"finished_at"`
	TimedOut   bool    `db:"timed_out"`
	Total      int     `db:"total"`
	Accepted   int     `db:"accepted"`
	Aborted    int     `db:"aborted"`
	Timeouts   int     `db:"timeouts"`
	Unfinished int     `db:"unfinished"`
	AvgPrice   float64 `db:"avg_price"`
	MinPrice   float64 `db:"min_price"`
	MaxPrice   float64 `db:"max_price"`
}

func (r Run) Started() time.Time  { return time.UnixMilli(r.StartedMS) }
func (r Run) Finished() time.Time { return time.UnixMilli(r.FinishedMS) }

// SaveRun archives a finished run: its summary row, every negotiation with
// its participants and transcript, the ticket inventory, and the faults
// agents recorded.
func (db *DB) SaveRun(seed int64, res *engine.Result, log *board.Log) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.Get(&exists, "SELECT COUNT(*) FROM runs WHERE id = ?", res.RunID); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrRunExists, res.RunID)
	}

	st := res.Stats
	_, err = tx.Exec(`INSERT INTO runs
		(id, seed, started_at, finished_at, timed_out, total, accepted, aborted,
		 timeouts, unfinished, avg_price, min_price, max_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, seed, res.Started.UnixMilli(), res.Finished.UnixMilli(), res.TimedOut,
		st.Total, st.Accepted, st.Aborted, st.TimedOut, st.Unfinished,
		st.AvgPrice, st.MinPrice, st.MaxPrice,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	negStmt, err := tx.Preparex(`INSERT INTO negotiations
		(run_id, id, kind, supplier_id, buyer_id, company, status, price, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer negStmt.Close()

	msgStmt, err := tx.Preparex(`INSERT INTO messages
		(run_id, negotiation_id, sequence, sender_id, sender_role, price, state, remaining, company)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer msgStmt.Close()

	partStmt, err := tx.Preparex(`INSERT INTO participants
		(run_id, negotiation_id, agent_id, role) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer partStmt.Close()

	messages := 0
	for _, n := range res.Negotiations {
		_, err := negStmt.Exec(res.RunID, n.ID, n.Kind, n.Supplier, n.Buyer, n.Company, n.Status, n.Price, n.Messages)
		if err != nil {
			return fmt.Errorf("insert negotiation %s: %w", n.ID, err)
		}
		for _, p := range log.Participants(n.ID) {
			if _, err := partStmt.Exec(res.RunID, n.ID, p.AgentID, p.Role); err != nil {
				return fmt.Errorf("insert participant %s/%s: %w", n.ID, p.AgentID, err)
			}
		}
		for _, m := range log.All(n.ID) {
			_, err := msgStmt.Exec(res.RunID, m.NegotiationID, m.Sequence, m.SenderID, m.SenderRole,
				m.Price, m.State, m.Remaining, m.Company)
			if err != nil {
				return fmt.Errorf("insert message %s#%d: %w", m.NegotiationID, m.Sequence, err)
			}
			messages++
		}
	}

	for _, inv := range res.Inventory {
		_, err := tx.Exec(`INSERT INTO inventory
			(run_id, agent_id, company, tickets, sold, remaining, opened, settled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, inv.AgentID, inv.Company, inv.Tickets, inv.Sold, inv.Remaining, inv.Opened, inv.Settled)
		if err != nil {
			return fmt.Errorf("insert inventory %s: %w", inv.AgentID, err)
		}
	}

	for _, f := range res.Faults {
		if _, err := tx.Exec("INSERT INTO faults (run_id, agent_id, error) VALUES (?, ?, ?)",
			res.RunID, f.AgentID, f.Err.Error()); err != nil {
			return fmt.Errorf("insert fault: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("run archived", "run", res.RunID, "negotiations", len(res.Negotiations), "messages", messages)
	return nil
}

// Runs returns every archived run, newest first.
func (db *DB) Runs() ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs, "SELECT * FROM runs ORDER BY id DESC")
	return runs, err
}

// GetRun returns one archived run.
func (db *DB) GetRun(id string) (Run, error) {
	var r Run
	err := db.conn.Get(&r, "SELECT * FROM runs WHERE id = ?", id)
	return r, err
}

// Negotiations returns the negotiations of a run in id order.
func (db *DB) Negotiations(runID string) ([]engine.Negotiation, error) {
	var out []engine.Negotiation
	err := db.conn.Select(&out,
		`SELECT id, kind, supplier_id, buyer_id, company, status, price, messages
		 FROM negotiations WHERE run_id = ? ORDER BY CAST(id AS INTEGER), id`,
		runID,
	)
	return out, err
}

// Transcript returns the messages of one archived negotiation in order.
func (db *DB) Transcript(runID, negotiationID string) ([]board.Message, error) {
	var out []board.Message
	err := db.conn.Select(&out,
		`SELECT negotiation_id, sender_id, sender_role, sequence, price, state, remaining, company
		 FROM messages WHERE run_id = ? AND negotiation_id = ? ORDER BY sequence`,
		runID, negotiationID,
	)
	return out, err
}

// Participants returns the archived participants of one negotiation.
func (db *DB) Participants(runID, negotiationID string) ([]board.Participant, error) {
	var out []board.Participant
	err := db.conn.Select(&out,
		"SELECT agent_id, role FROM participants WHERE run_id = ? AND negotiation_id = ? ORDER BY role DESC",
		runID, negotiationID,
	)
	return out, err
}

// Inventory returns the archived ticket counts of a run's supplier-side
// parties.
func (db *DB) Inventory(runID string) ([]engine.Inventory, error) {
	var out []engine.Inventory
	err := db.conn.Select(&out,
		`SELECT agent_id, company, tickets, sold, remaining, opened, settled
		 FROM inventory WHERE run_id = ? ORDER BY agent_id`,
		runID,
	)
	return out, err
}

// FaultCount returns how many agent faults a run recorded.
func (db *DB) FaultCount(runID string) (int, error) {
	var n int
	err := db.conn.Get(&n, "SELECT COUNT(*) FROM faults WHERE run_id = ?", runID)
	return n, err
}
