package models

import (
	"github.com/google/uuid"

	"github.com/amaumene/nzbrelay/internal/nzb"
)

// Item is the unit moving through the acquisition pipeline. It is an
// ephemeral in-memory record; its state transitions are persisted to the
// activity log keyed by LogID.
type Item struct {
	ID     string
	LogID  uint64 // activity log key, 0 until the first log write
	Status ItemStatus

	Title        string
	Header       string
	Password     string
	Filename     string
	Source       string
	SearchEngine string
	ErrorMessage string

	// Selected is cleared when the user deselects the item in a review
	// dialog; a deselected item is never dispatched.
	Selected bool

	Document *nzb.Document
	Bindings []*Binding
}

// NewItem creates an item in the initiated state with a stable identity.
func NewItem(source string) *Item {
	return &Item{
		ID:       uuid.NewString(),
		Status:   ItemInitiated,
		Source:   source,
		Selected: true,
	}
}

// Binding pairs one configured target with this acquisition.
type Binding struct {
	TargetName string
	Active     bool
	Status     BindingStatus
	// Category is resolved lazily, at most once per target within a batch;
	// nil means not yet resolved.
	Category     *string
	ErrorMessage string
}

// ActiveBindings returns the bindings taking part in dispatch.
func (i *Item) ActiveBindings() []*Binding {
	var active []*Binding
	for _, b := range i.Bindings {
		if b.Active {
			active = append(active, b)
		}
	}
	return active
}
