// Package store persists users, documents and their conversation messages.
package store

import "docmind/pkg/domain"

// Store defines persistence operations for users, documents, and messages.
//
// Lookups return (value, found, error). Writes against a missing document
// fail with domain.ErrNotFound, or domain.ErrForeignKey for message appends.
type Store interface {
	// users
	EnsureUser(domain.User) (domain.User, error)
	GetUser(id string) (domain.User, bool, error)

	// documents
	CreateDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	FindDocumentsByUser(userID string) ([]domain.Document, error)
	FindDocumentWithMessages(id string) (domain.Document, error)
	RenameDocument(id, name string) error
	SetSummary(id, summary string) error
	DeleteDocument(id string) error

	// messages
	AppendMessage(documentID string, role domain.Role, content string) (domain.Message, error)
	ListRecentMessages(documentID string, limit int) ([]domain.Message, error)
}
