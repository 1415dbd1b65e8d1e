// Package model defines the entities shared by the routing and merge layers:
// shopping lists, their items, buffered client changes, and users. Lists and
// items are soft-deleted, never removed; their UpdatedAt carries the logical
// edit time used for last-writer-wins merging.
package model

import "time"

// List is the single aggregate shape the system supports: a shopping list
// owning items. Identity is the client-generated ID.
type List struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	OwnerID            string     `json:"ownerId"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	Deleted            bool       `json:"deleted"`
	LastEditorUsername string     `json:"lastEditorUsername"`
	Items              []ListItem `json:"items"`
}

// ListItem is a single entry of a List. Deletion is a soft flag.
type ListItem struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Quantity           int       `json:"quantity"`
	Checked            bool      `json:"checked"`
	Deleted            bool      `json:"deleted"`
	UpdatedAt          time.Time `json:"updatedAt"`
	ListID             string    `json:"listId"`
	LastEditorUsername string    `json:"lastEditorUsername"`
}

// User owns lists. Only the identity is needed by the core.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// BufferedChange is a durably stored, not-yet-merged client edit awaiting
// asynchronous resolution. Timestamp is the arrival time at the server,
// distinct from the logical edit times embedded in the snapshot.
type BufferedChange struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ListID    string    `json:"listId"`
	Changes   []byte    `json:"changes"`
	Timestamp time.Time `json:"timestamp"`
	Resolved  bool      `json:"resolved"`
}

// SnapshotVersion is the current buffered change payload version.
const SnapshotVersion = 1

// Snapshot is the versioned payload of a BufferedChange: a full List state as
// seen by the client at enqueue time.
type Snapshot struct {
	Version int  `json:"version"`
	List    List `json:"list"`
}
