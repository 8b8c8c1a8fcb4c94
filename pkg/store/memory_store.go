package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docmind/pkg/domain"
)

// MemoryStore is an in-process Store with the same referential rules as
// GormStore. It backs local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	documents map[string]domain.Document
	messages  map[string][]domain.Message
	seq       int64
	now       func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		documents: make(map[string]domain.Document),
		messages:  make(map[string][]domain.Message),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) EnsureUser(u domain.User) (domain.User, error) {
	u.ID = strings.TrimSpace(u.ID)
	u.Email = strings.TrimSpace(u.Email)
	if u.ID == "" {
		return domain.User{}, fmt.Errorf("%w: user id required", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.ID]; ok {
		return existing, nil
	}
	if u.Email != "" {
		for _, existing := range s.users {
			if existing.Email == u.Email {
				return existing, nil
			}
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) GetUser(id string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) CreateDocument(d domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[d.OwnerID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrOwnerNotFound, d.OwnerID)
	}
	if _, ok := s.documents[d.ID]; ok {
		return fmt.Errorf("document %s already exists", d.ID)
	}
	now := s.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	d.Messages = nil
	d.Metadata = copyMetadata(d.Metadata)
	s.documents[d.ID] = d
	return nil
}

func (s *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	if !ok {
		return domain.Document{}, false, nil
	}
	d.Metadata = copyMetadata(d.Metadata)
	return d, true, nil
}

func (s *MemoryStore) FindDocumentsByUser(userID string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.Document, 0)
	for _, d := range s.documents {
		if d.OwnerID == userID {
			d.Metadata = copyMetadata(d.Metadata)
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

func (s *MemoryStore) FindDocumentWithMessages(id string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	d.Metadata = copyMetadata(d.Metadata)
	d.Messages = append([]domain.Message{}, s.messages[id]...)
	return d, nil
}

func (s *MemoryStore) RenameDocument(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name required", domain.ErrValidation)
	}
	return s.updateDocument(id, func(d *domain.Document) { d.DisplayName = name })
}

func (s *MemoryStore) SetSummary(id, summary string) error {
	return s.updateDocument(id, func(d *domain.Document) { d.Summary = summary })
}

func (s *MemoryStore) updateDocument(id string, apply func(*domain.Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	apply(&d)
	d.UpdatedAt = s.now()
	s.documents[id] = d
	return nil
}

func (s *MemoryStore) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	delete(s.documents, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) AppendMessage(documentID string, role domain.Role, content string) (domain.Message, error) {
	if !role.Valid() {
		return domain.Message{}, fmt.Errorf("%w: invalid role %q", domain.ErrValidation, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return domain.Message{}, fmt.Errorf("document %s: %w", documentID, domain.ErrForeignKey)
	}
	s.seq++
	msg := domain.Message{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Seq:        s.seq,
		Role:       role,
		Content:    content,
		CreatedAt:  s.now(),
	}
	s.messages[documentID] = append(s.messages[documentID], msg)
	return msg, nil
}

func (s *MemoryStore) ListRecentMessages(documentID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[documentID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]domain.Message{}, all...), nil
}

// MessageCount reports how many messages are stored across all documents.
func (s *MemoryStore) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, msgs := range s.messages {
		n += len(msgs)
	}
	return n
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
