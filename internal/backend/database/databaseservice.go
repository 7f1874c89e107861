package database

import "database/sql"

type DatabaseService interface {
	CreateDatabase() (*sql.DB, error)
	DoesDatabaseExist() bool
	Close() error

	// CreateIngest stores the ingest and returns its generated ID. A zero CreatedAt is set to now.
	CreateIngest(ingest *Ingest) (string, error)
	// GetLatestIngest returns nil without error if the group was never written.
	GetLatestIngest(group string) (*Ingest, error)
	// GetIngests returns up to limit ingests of a group, newest first.
	GetIngests(group string, limit int) ([]*Ingest, error)
}
