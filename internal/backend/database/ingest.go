package database

import "time"

const (
	IngestKindBatch = "batch"
	IngestKindSlot  = "slot"
)

// Ingest records one successful write into a group directory.
type Ingest struct {
	ID        string    `db:"id"`
	Group     string    `db:"group_name"`
	Kind      string    `db:"kind"`
	FileCount int       `db:"file_count"`
	Reencoded int       `db:"reencoded"`
	CreatedAt time.Time `db:"created_at"`
}
