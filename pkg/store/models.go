package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"docmind/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID        string `gorm:"primaryKey;size:128"`
	Email     string `gorm:"size:320;index"`
	Name      string `gorm:"size:256"`
	AvatarURL string `gorm:"size:1024"`
	CreatedAt time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type DocumentModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	OwnerID       string `gorm:"size:128;not null;index:idx_documents_owner_created,priority:1"`
	FileName      string `gorm:"size:512;not null"`
	DisplayName   string `gorm:"size:512;not null"`
	StorageKey    string `gorm:"size:1024"`
	StorageURL    string `gorm:"size:2048"`
	ContentType   string `gorm:"size:128"`
	SizeBytes     int64  `gorm:"not null"`
	ExtractedText string `gorm:"type:text;not null"`
	Summary       string `gorm:"type:text;not null"`
	Metadata      datatypes.JSON
	CreatedAt     time.Time `gorm:"not null;index:idx_documents_owner_created,priority:2"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (DocumentModel) TableName() string { return "documents" }

// MessageModel keys on an auto-increment sequence so that rows written within
// the same timestamp still sort in insertion order.
type MessageModel struct {
	Seq        int64  `gorm:"primaryKey;autoIncrement"`
	ID         string `gorm:"size:36;uniqueIndex;not null"`
	DocumentID string `gorm:"size:36;not null;index:idx_messages_document_created,priority:1"`
	Role       string `gorm:"size:16;not null"`
	Content    string `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null;index:idx_messages_document_created,priority:2"`
}

func (MessageModel) TableName() string { return "messages" }

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		AvatarURL: m.AvatarURL,
		CreatedAt: m.CreatedAt,
	}
}

func documentToModel(d domain.Document) (DocumentModel, error) {
	var meta datatypes.JSON
	if len(d.Metadata) > 0 {
		raw, err := json.Marshal(d.Metadata)
		if err != nil {
			return DocumentModel{}, err
		}
		meta = datatypes.JSON(raw)
	}
	return DocumentModel{
		ID:            d.ID,
		OwnerID:       d.OwnerID,
		FileName:      d.FileName,
		DisplayName:   d.DisplayName,
		StorageKey:    d.StorageKey,
		StorageURL:    d.StorageURL,
		ContentType:   d.ContentType,
		SizeBytes:     d.SizeBytes,
		ExtractedText: d.ExtractedText,
		Summary:       d.Summary,
		Metadata:      meta,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}, nil
}

func documentFromModel(m DocumentModel) domain.Document {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Document{
		ID:            m.ID,
		OwnerID:       m.OwnerID,
		FileName:      m.FileName,
		DisplayName:   m.DisplayName,
		StorageKey:    m.StorageKey,
		StorageURL:    m.StorageURL,
		ContentType:   m.ContentType,
		SizeBytes:     m.SizeBytes,
		ExtractedText: m.ExtractedText,
		Summary:       m.Summary,
		Metadata:      meta,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		Seq:        m.Seq,
		Role:       domain.Role(m.Role),
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}
