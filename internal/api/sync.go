package api

import (
	"encoding/json"
	"net/http"

	"github.com/0xpr03/vtasync/internal/metrics"
	"github.com/0xpr03/vtasync/internal/session"
	"github.com/0xpr03/vtasync/internal/syncengine"
)

// recordN reports classification a fixed number of times, giving the
// per-bucket counts from a sync response their own counter samples.
func recordN(m metrics.Manager, operation, classification string, n int) {
	for i := 0; i < n; i++ {
		m.RecordSyncOperation(operation, classification)
	}
}

type meaningWire struct {
	Value string `json:"value"`
	IsA   bool   `json:"is_a"`
}

type listChangeWire struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	NameA   string `json:"name_a"`
	NameB   string `json:"name_b"`
	Changed int64  `json:"changed"`
	Created int64  `json:"created"`
}

type listSendWire struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	NameA       string `json:"name_a"`
	NameB       string `json:"name_b"`
	Changed     int64  `json:"changed"`
	Created     int64  `json:"created"`
	Permissions int    `json:"permissions"`
}

type entryRefWire struct {
	List  string `json:"list"`
	Entry string `json:"entry"`
}

type entryChangeWire struct {
	List     string        `json:"list"`
	UUID     string        `json:"uuid"`
	Tip      string        `json:"tip"`
	Changed  int64         `json:"changed"`
	Meanings []meaningWire `json:"meanings"`
}

type entryFullWire struct {
	List     string        `json:"list"`
	UUID     string        `json:"uuid"`
	Tip      string        `json:"tip"`
	Changed  int64         `json:"changed"`
	Meanings []meaningWire `json:"meanings"`
}

type failureWire struct {
	UUID  string `json:"uuid"`
	Error string `json:"error"`
}

type listsDeletedRequest struct {
	Since *int64   `json:"since,omitempty"`
	Lists []string `json:"lists"`
}

type listsDeletedResponseWire struct {
	Delta   []string `json:"delta"`
	Unknown []string `json:"unknown"`
	Unowned []string `json:"unowned"`
}

func (h *Handler) handleListsDeleted(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := session.UserID(r.Context())
	if !ok {
		handleErr(w, session.ErrNotAuthenticated)
		return
	}

	var req listsDeletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleErr(w, validationErr("body"))
		return
	}

	resp, err := h.engine.ListsDeleted(r.Context(), userUUID, req.Since, req.Lists)
	if err != nil {
		handleErr(w, err)
		return
	}
	recordN(h.metrics, "lists_deleted", "delta", len(resp.Delta))
	recordN(h.metrics, "lists_deleted", "unknown", len(resp.Unknown))
	recordN(h.metrics, "lists_deleted", "unowned", len(resp.Unowned))

	writeJSON(w, http.StatusOK, listsDeletedResponseWire{
		Delta:   orEmpty(resp.Delta),
		Unknown: orEmpty(resp.Unknown),
		Unowned: orEmpty(resp.Unowned),
	})
}

type listsChangedRequest struct {
	Since *int64           `json:"since,omitempty"`
	Lists []listChangeWire `json:"lists"`
}

type listsChangedResponseWire struct {
	Delta    map[string]listSendWire `json:"delta"`
	Failures []failureWire           `json:"failures"`
}

func (h *Handler) handleListsChanged(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := session.UserID(r.Context())
	if !ok {
		handleErr(w, session.ErrNotAuthenticated)
		return
	}

	var req listsChangedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleErr(w, validationErr("body"))
		return
	}

	incoming := make([]syncengine.ListChange, len(req.Lists))
	for i, l := range req.Lists {
		incoming[i] = syncengine.ListChange{
			UUID: l.UUID, Name: l.Name, NameA: l.NameA, NameB: l.NameB,
			Changed: l.Changed, Created: l.Created,
		}
	}

	resp, err := h.engine.ListsChanged(r.Context(), userUUID, req.Since, incoming)
	if err != nil {
		handleErr(w, err)
		return
	}

	delta := make(map[string]listSendWire, len(resp.Delta))
	for uuid, l := range resp.Delta {
		delta[uuid] = listSendWire{
			UUID: l.UUID, Name: l.Name, NameA: l.NameA, NameB: l.NameB,
			Changed: l.Changed, Created: l.Created, Permissions: int(l.Permissions),
		}
	}
	failures := make([]failureWire, len(resp.Failures))
	for i, f := range resp.Failures {
		failures[i] = failureWire{UUID: f.UUID, Error: f.Error}
	}
	recordN(h.metrics, "lists_changed", "delta", len(resp.Delta))
	recordN(h.metrics, "lists_changed", "failure", len(resp.Failures))

	writeJSON(w, http.StatusOK, listsChangedResponseWire{Delta: delta, Failures: orEmptyFailures(failures)})
}

type entriesDeletedRequest struct {
	Since   *int64         `json:"since,omitempty"`
	Entries []entryRefWire `json:"entries"`
}

type entriesDeletedResponseWire struct {
	Delta   map[string]entryRefWire `json:"delta"`
	Ignored []string                `json:"ignored"`
	Invalid []string                `json:"invalid"`
}

func (h *Handler) handleEntriesDeleted(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := session.UserID(r.Context())
	if !ok {
		handleErr(w, session.ErrNotAuthenticated)
		return
	}

	var req entriesDeletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleErr(w, validationErr("body"))
		return
	}

	incoming := make([]syncengine.EntryRef, len(req.Entries))
	for i, e := range req.Entries {
		incoming[i] = syncengine.EntryRef{List: e.List, Entry: e.Entry}
	}

	resp, err := h.engine.EntriesDeleted(r.Context(), userUUID, req.Since, incoming)
	if err != nil {
		handleErr(w, err)
		return
	}

	delta := make(map[string]entryRefWire, len(resp.Delta))
	for uuid, e := range resp.Delta {
		delta[uuid] = entryRefWire{List: e.List, Entry: e.Entry}
	}
	recordN(h.metrics, "entries_deleted", "delta", len(resp.Delta))
	recordN(h.metrics, "entries_deleted", "ignored", len(resp.Ignored))
	recordN(h.metrics, "entries_deleted", "invalid", len(resp.Invalid))

	writeJSON(w, http.StatusOK, entriesDeletedResponseWire{
		Delta:   delta,
		Ignored: orEmpty(resp.Ignored),
		Invalid: orEmpty(resp.Invalid),
	})
}

type entriesChangedRequest struct {
	Since   *int64            `json:"since,omitempty"`
	Entries []entryChangeWire `json:"entries"`
}

type entriesChangedResponseWire struct {
	Delta   map[string]entryFullWire `json:"delta"`
	Ignored []string                 `json:"ignored"`
	Invalid []string                 `json:"invalid"`
}

func (h *Handler) handleEntriesChanged(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := session.UserID(r.Context())
	if !ok {
		handleErr(w, session.ErrNotAuthenticated)
		return
	}

	var req entriesChangedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleErr(w, validationErr("body"))
		return
	}

	incoming := make([]syncengine.EntryChange, len(req.Entries))
	for i, e := range req.Entries {
		meanings := make([]syncengine.Meaning, len(e.Meanings))
		for j, m := range e.Meanings {
			meanings[j] = syncengine.Meaning{Value: m.Value, IsA: m.IsA}
		}
		incoming[i] = syncengine.EntryChange{List: e.List, UUID: e.UUID, Tip: e.Tip, Changed: e.Changed, Meanings: meanings}
	}

	resp, err := h.engine.EntriesChanged(r.Context(), userUUID, req.Since, incoming)
	if err != nil {
		handleErr(w, err)
		return
	}

	delta := make(map[string]entryFullWire, len(resp.Delta))
	for uuid, e := range resp.Delta {
		meanings := make([]meaningWire, len(e.Meanings))
		for j, m := range e.Meanings {
			meanings[j] = meaningWire{Value: m.Value, IsA: m.IsA}
		}
		delta[uuid] = entryFullWire{List: e.List, UUID: e.UUID, Tip: e.Tip, Changed: e.Changed, Meanings: meanings}
	}
	recordN(h.metrics, "entries_changed", "delta", len(resp.Delta))
	recordN(h.metrics, "entries_changed", "ignored", len(resp.Ignored))
	recordN(h.metrics, "entries_changed", "invalid", len(resp.Invalid))

	writeJSON(w, http.StatusOK, entriesChangedResponseWire{
		Delta:   delta,
		Ignored: orEmpty(resp.Ignored),
		Invalid: orEmpty(resp.Invalid),
	})
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyFailures(f []failureWire) []failureWire {
	if f == nil {
		return []failureWire{}
	}
	return f
}
