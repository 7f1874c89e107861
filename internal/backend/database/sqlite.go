package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (*SQLiteDatabase, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase() (*sql.DB, error) {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS ingests (
		id TEXT PRIMARY KEY,
		group_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		file_count INTEGER NOT NULL,
		reencoded INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_ingests_group_created ON ingests (group_name, created_at)`)
	if err != nil {
		return nil, err
	}

	return s.db, nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.Ping()
	return err == nil
}

func (s *SQLiteDatabase) CreateIngest(ingest *Ingest) (string, error) {
	if ingest == nil {
		return "", fmt.Errorf("ingest must not be nil")
	}
	id, err := generateID()
	if err != nil {
		return "", err
	}
	createdAt := ingest.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.Exec("INSERT INTO ingests (id, group_name, kind, file_count, reencoded, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, ingest.Group, ingest.Kind, ingest.FileCount, ingest.Reencoded, createdAt.UnixNano())
	if err != nil {
		return "", err
	}

	ingest.ID = id
	ingest.CreatedAt = createdAt
	return id, nil
}

func (s *SQLiteDatabase) GetLatestIngest(group string) (*Ingest, error) {
	ingests, err := s.GetIngests(group, 1)
	if err != nil {
		return nil, err
	}
	if len(ingests) == 0 {
		return nil, nil
	}
	return ingests[0], nil
}

func (s *SQLiteDatabase) GetIngests(group string, limit int) ([]*Ingest, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.db.Query(`SELECT id, group_name, kind, file_count, reencoded, created_at
		FROM ingests WHERE group_name = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, group, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	var ingests []*Ingest
	for rows.Next() {
		var ingest Ingest
		var createdAt int64
		if err := rows.Scan(&ingest.ID, &ingest.Group, &ingest.Kind, &ingest.FileCount, &ingest.Reencoded, &createdAt); err != nil {
			return nil, err
		}
		ingest.CreatedAt = time.Unix(0, createdAt)
		ingests = append(ingests, &ingest)
	}
	return ingests, rows.Err()
}
