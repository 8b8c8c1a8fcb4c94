package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docmind/internal/util"
	"docmind/pkg/ai"
	"docmind/pkg/domain"
	"docmind/pkg/storage"
	"docmind/pkg/store"
)

// Config holds the collaborators of the document service. All of them are
// constructed by the caller.
type Config struct {
	Store         store.Store
	Artifacts     *storage.ArtifactStore
	Extractor     TextExtractor
	Model         ai.ChatModel
	HistoryWindow int
	ModelTimeout  time.Duration
}

// App is the core application service wiring together storage and domain logic.
type App struct {
	store        store.Store
	artifacts    *storage.ArtifactStore
	orchestrator *Orchestrator
	assembler    *Assembler
}

// New validates cfg and builds the pipeline.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Artifacts == nil {
		return nil, errors.New("artifact store required")
	}
	if cfg.Extractor == nil {
		return nil, errors.New("text extractor required")
	}
	summarizer := NewSummarizer(cfg.Model, cfg.ModelTimeout)
	return &App{
		store:        cfg.Store,
		artifacts:    cfg.Artifacts,
		orchestrator: NewOrchestrator(cfg.Store, cfg.Artifacts, cfg.Extractor, summarizer),
		assembler:    NewAssembler(cfg.Store, cfg.Model, cfg.HistoryWindow, cfg.ModelTimeout),
	}, nil
}

// Orchestrator exposes the ingestion pipeline, mainly to attach observers.
func (a *App) Orchestrator() *Orchestrator { return a.orchestrator }

// SyncUser records a user announced by the identity provider.
func (a *App) SyncUser(u domain.User) (domain.User, error) {
	return a.store.EnsureUser(u)
}

// Ingest runs an upload through the pipeline.
func (a *App) Ingest(ctx context.Context, req IngestRequest) (domain.Document, error) {
	return a.orchestrator.Ingest(ctx, req)
}

// ListDocuments returns the user's documents, newest first.
func (a *App) ListDocuments(userID string) ([]domain.Document, error) {
	return a.store.FindDocumentsByUser(userID)
}

// GetDocument returns a document with its conversation.
func (a *App) GetDocument(userID, id string) (domain.Document, error) {
	if _, err := a.ownedDocument(userID, id); err != nil {
		return domain.Document{}, err
	}
	return a.store.FindDocumentWithMessages(id)
}

// Ask adds a message to a document conversation.
func (a *App) Ask(ctx context.Context, userID, id string, role domain.Role, content string) (ChatTurn, error) {
	if _, err := a.ownedDocument(userID, id); err != nil {
		return ChatTurn{}, err
	}
	return a.assembler.Ask(ctx, id, role, content)
}

// Rename changes the display name and returns the updated document.
func (a *App) Rename(userID, id, name string) (domain.Document, error) {
	if _, err := a.ownedDocument(userID, id); err != nil {
		return domain.Document{}, err
	}
	if err := a.store.RenameDocument(id, name); err != nil {
		return domain.Document{}, err
	}
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

// Delete removes the document with its messages, then its stored file.
// The file removal is best effort.
func (a *App) Delete(ctx context.Context, userID, id string) error {
	doc, err := a.ownedDocument(userID, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteDocument(id); err != nil {
		return err
	}
	if strings.TrimSpace(doc.StorageKey) == "" {
		return nil
	}
	if err := a.artifacts.Remove(context.WithoutCancel(ctx), doc.StorageKey); err != nil {
		util.LoggerFromContext(ctx).Warn("remove artifact failed", "document_id", id, "key", doc.StorageKey, "err", err)
	}
	return nil
}

// DownloadURL returns a time-limited URL for the original file and its name.
func (a *App) DownloadURL(ctx context.Context, userID, id string) (string, string, error) {
	doc, err := a.ownedDocument(userID, id)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(doc.StorageKey) == "" {
		return "", "", fmt.Errorf("%w: document %s has no stored file", domain.ErrNotFound, id)
	}
	url, err := a.artifacts.DownloadURL(ctx, doc.StorageKey)
	if err != nil {
		return "", "", err
	}
	return url, doc.FileName, nil
}

func (a *App) ownedDocument(userID, id string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if doc.OwnerID != userID {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrForbidden)
	}
	return doc, nil
}
