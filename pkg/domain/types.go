package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role tags who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps raw input onto one of the known roles.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, raw)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Document struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"ownerId"`
	FileName      string            `json:"fileName"`
	DisplayName   string            `json:"displayName"`
	StorageKey    string            `json:"-"`
	StorageURL    string            `json:"fileUrl"`
	ContentType   string            `json:"contentType"`
	SizeBytes     int64             `json:"sizeBytes"`
	ExtractedText string            `json:"extractedText"`
	Summary       string            `json:"summary"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	Messages      []Message         `json:"messages,omitempty"`
}

type Message struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Seq        int64     `json:"seq"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}
