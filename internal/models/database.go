package models

import (
	"fmt"
	"time"

	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

// ActivityEntry is the persisted audit record of one acquisition. The first
// log write assigns the integer id; later state transitions update the same
// entry in place.
type ActivityEntry struct {
	ID     uint64 `boltholdKey:"ID"`
	ItemID string `boltholdIndex:"ItemID"`

	Status       ItemStatus `boltholdIndex:"Status"`
	Title        string
	Header       string
	Filename     string
	Source       string
	SearchEngine string
	ErrorMessage string
	Targets      []TargetOutcome

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TargetOutcome is the per-target slice of an activity entry.
type TargetOutcome struct {
	Name         string
	Status       BindingStatus
	Category     string
	ErrorMessage string
}

// Database wraps the bolthold activity store
type Database struct {
	store *bolthold.Store
}

// NewDatabase creates a new database connection
func NewDatabase(path string) (*Database, error) {
	store, err := bolthold.Open(path, 0600, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{store: store}, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.store.Close()
}

// LogItem persists the current state of an item. The first call inserts a
// new entry and stamps the item with its log id; subsequent calls update
// that entry.
func (db *Database) LogItem(item *Item) error {
	entry := entryFromItem(item)

	if item.LogID == 0 {
		entry.CreatedAt = time.Now()
		entry.UpdatedAt = entry.CreatedAt
		if err := db.store.Insert(bolthold.NextSequence(), entry); err != nil {
			return fmt.Errorf("failed to insert activity entry: %w", err)
		}
		item.LogID = entry.ID
		return nil
	}

	var existing ActivityEntry
	if err := db.store.Get(item.LogID, &existing); err != nil {
		return fmt.Errorf("failed to load activity entry %d: %w", item.LogID, err)
	}
	entry.ID = item.LogID
	entry.CreatedAt = existing.CreatedAt
	entry.UpdatedAt = time.Now()
	if err := db.store.Update(item.LogID, entry); err != nil {
		return fmt.Errorf("failed to update activity entry %d: %w", item.LogID, err)
	}
	return nil
}

// GetEntry retrieves one activity entry by id.
func (db *Database) GetEntry(id uint64) (*ActivityEntry, error) {
	var entry ActivityEntry
	if err := db.store.Get(id, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetEntries retrieves the most recent activity entries, newest first.
func (db *Database) GetEntries(limit int) ([]*ActivityEntry, error) {
	var entries []*ActivityEntry
	query := bolthold.Query{}
	err := db.store.Find(&entries, query.SortBy("UpdatedAt").Reverse().Limit(limit))
	return entries, err
}

func entryFromItem(item *Item) *ActivityEntry {
	entry := &ActivityEntry{
		ItemID:       item.ID,
		Status:       item.Status,
		Title:        item.Title,
		Header:       item.Header,
		Filename:     item.Filename,
		Source:       item.Source,
		SearchEngine: item.SearchEngine,
		ErrorMessage: item.ErrorMessage,
	}
	for _, b := range item.Bindings {
		outcome := TargetOutcome{
			Name:         b.TargetName,
			Status:       b.Status,
			ErrorMessage: b.ErrorMessage,
		}
		if b.Category != nil {
			outcome.Category = *b.Category
		}
		entry.Targets = append(entry.Targets, outcome)
	}
	return entry
}
