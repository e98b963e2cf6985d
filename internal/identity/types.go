// Package identity holds the core types shared by every tier of the
// recognition backend.
package identity

import "errors"

// Sentinel errors for identity storage.
var (
	// ErrNotFound is returned when no person matches the requested id.
	ErrNotFound = errors.New("person not found")

	// ErrAlreadyExists is returned when an insert collides on id.
	ErrAlreadyExists = errors.New("person already exists")
)

// Person is one known identity. All fields except ID are free-form text
// supplied by the user; LastMet in particular is a display string
// ("Yesterday", "Last week"), not a timestamp.
type Person struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Relation string `json:"relation"`
	LastMet  string `json:"last_met"`
	Context  string `json:"context"`
}

// PersonCreate is the request payload for creating a person. The id is
// assigned by the service, never by the caller.
type PersonCreate struct {
	Name     string `json:"name"`
	Relation string `json:"relation"`
	LastMet  string `json:"last_met"`
	Context  string `json:"context"`
}

// Entry pairs a person with their current face embedding. Embedding may be
// nil for people who have not registered a face yet.
type Entry struct {
	Person    Person
	Embedding []float32
}

// Sync event names carried in sync_update broadcast frames.
const (
	EventPersonCreated       = "person_created"
	EventEmbeddingRegistered = "embedding_registered"
	EventPersonDeleted       = "person_deleted"
)
