package query

// WriteKind names a mutation
type WriteKind string

const (
	WriteCreate WriteKind = "create"
	WriteUpdate WriteKind = "update"
	WriteUpsert WriteKind = "upsert"
	WriteDelete WriteKind = "delete"
)

// WriteOperation is a validated mutation handed to a connector. Values has
// passed field and constraint validation and carries applied defaults;
// Filter selects the target rows for update, upsert and delete. Retriable
// marks the write safe to re-issue after a transient backend failure.
type WriteOperation struct {
	Kind       WriteKind
	Model      string
	StorageKey string
	PrimaryKey string
	Values     map[string]interface{}
	Filter     *Filter
	Retriable  bool
}
