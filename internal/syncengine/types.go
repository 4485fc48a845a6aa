// Package syncengine implements the Delta Sync Engine (C4): the four
// synchronization procedures that compute a server->client delta, apply a
// client->server payload under authorization and tombstone rules, and
// resolve conflicts by last-writer-wins. Grounded in the teacher's
// manager.go request-handling shape (internal/object/manager.go,
// internal/bucket/manager.go) generalized from object/bucket operations to
// list/entry sync operations.
package syncengine

// PermTag is the wire-level permission tag attached to each list record in
// a lists_changed send-back delta.
type PermTag int

const (
	PermOwner PermTag = -1
	PermRead  PermTag = 0
	PermWrite PermTag = 1
)

// ListChange is the incoming wire shape for a single list mutation.
type ListChange struct {
	UUID    string
	Name    string
	NameA   string
	NameB   string
	Changed int64
	Created int64
}

// ListSend is a list record in a send-back delta, tagged with the
// requesting user's permission on it.
type ListSend struct {
	UUID        string
	Name        string
	NameA       string
	NameB       string
	Changed     int64
	Created     int64
	Permissions PermTag
}

// EntryRef names a (list, entry) pair, the incoming shape for entry
// deletion and the delta shape for entries_deleted.
type EntryRef struct {
	List  string
	Entry string
}

// Meaning is a single annotation attached to an entry.
type Meaning struct {
	Value string
	IsA   bool
}

// EntryChange is the incoming wire shape for a single entry mutation.
type EntryChange struct {
	List     string
	UUID     string
	Tip      string
	Changed  int64
	Meanings []Meaning
}

// EntryFull is a fully composed entry record in an entries_changed
// send-back delta.
type EntryFull struct {
	List     string
	UUID     string
	Tip      string
	Changed  int64
	Meanings []Meaning
}

// Failure pairs a rejected uuid with a human-readable reason, used by
// lists_changed.
type Failure struct {
	UUID  string
	Error string
}

// ListsDeletedResponse is the result of a lists_deleted call.
type ListsDeletedResponse struct {
	Delta   []string
	Unknown []string
	Unowned []string
}

// ListsChangedResponse is the result of a lists_changed call.
type ListsChangedResponse struct {
	Delta    map[string]ListSend
	Failures []Failure
}

// EntriesDeletedResponse is the result of an entries_deleted call.
type EntriesDeletedResponse struct {
	Delta   map[string]EntryRef
	Ignored []string
	Invalid []string
}

// EntriesChangedResponse is the result of an entries_changed call.
type EntriesChangedResponse struct {
	Delta   map[string]EntryFull
	Ignored []string
	Invalid []string
}
