package models

// ItemStatus represents the pipeline state of an acquisition item
type ItemStatus string

const (
	ItemInitiated ItemStatus = "initiated"
	ItemSearching ItemStatus = "searching"
	ItemFetched   ItemStatus = "fetched"
	ItemSuccess   ItemStatus = "success"
	ItemWarn      ItemStatus = "warn" // partial: some targets succeeded, some failed
	ItemError     ItemStatus = "error"
)

// Terminal reports whether the status is a final pipeline state.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemSuccess, ItemWarn, ItemError:
		return true
	}
	return false
}

// BindingStatus represents the per-target outcome of one acquisition
type BindingStatus string

const (
	BindingInactive BindingStatus = "inactive"
	BindingPending  BindingStatus = "pending"
	BindingSuccess  BindingStatus = "success"
	BindingError    BindingStatus = "error"
)
