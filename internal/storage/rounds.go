package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/common"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
)

// RoundStore keeps the federated round history in a SQLite database
// next to the sample data.
type RoundStore struct {
	db *sql.DB
}

func NewRoundStore(dataDir string) (*RoundStore, error) {
	dbPath := filepath.Join(dataDir, common.ROUNDS_DB_FILE_NAME)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening rounds database: %w", err)
	}

	store := &RoundStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating rounds schema: %w", err)
	}

	return store, nil
}

func (store *RoundStore) Close() error {
	return store.db.Close()
}

func (store *RoundStore) createSchema() error {
	_, err := store.db.Exec(`CREATE TABLE IF NOT EXISTS rounds (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		num_examples INTEGER NOT NULL,
		epochs INTEGER NOT NULL,
		final_loss REAL NOT NULL,
		uploaded INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`)
	return err
}

// SaveRound inserts one finished round.
func (store *RoundStore) SaveRound(record *model.RoundRecord) error {
	_, err := store.db.Exec(
		`INSERT INTO rounds (id, started_at, finished_at, num_examples, epochs, final_loss, uploaded, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Id, record.StartedAt, record.FinishedAt, record.NumExamples,
		record.Epochs, record.FinalLoss, record.Uploaded, record.Status, record.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting round %s: %w", record.Id, err)
	}
	return nil
}

// RecentRounds returns the newest rounds first, at most limit of them.
func (store *RoundStore) RecentRounds(limit int) ([]*model.RoundRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := store.db.Query(
		`SELECT id, started_at, finished_at, num_examples, epochs, final_loss, uploaded, status, error
		 FROM rounds ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying rounds: %w", err)
	}
	defer rows.Close()

	records := []*model.RoundRecord{}
	for rows.Next() {
		record := &model.RoundRecord{}
		err := rows.Scan(&record.Id, &record.StartedAt, &record.FinishedAt,
			&record.NumExamples, &record.Epochs, &record.FinalLoss,
			&record.Uploaded, &record.Status, &record.Error)
		if err != nil {
			return nil, fmt.Errorf("scanning round: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rounds: %w", err)
	}

	return records, nil
}
