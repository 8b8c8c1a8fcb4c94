package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"docmind/internal/util"
	"docmind/pkg/domain"
	"docmind/pkg/ocr"
	"docmind/pkg/storage"
	"docmind/pkg/store"
)

// TextExtractor pulls text out of an uploaded image.
type TextExtractor interface {
	Extract(ctx context.Context, image []byte, languageHint string) (string, error)
}

// IngestRequest is one uploaded file.
type IngestRequest struct {
	OwnerID     string
	FileName    string
	ContentType string
	Data        []byte
	Language    string
}

// Orchestrator runs an upload through extract, store, persist, summarize
// and seed. Each call is independent.
type Orchestrator struct {
	store      store.Store
	artifacts  *storage.ArtifactStore
	extractor  TextExtractor
	summarizer *Summarizer
	observer   func(IngestState)
	now        func() time.Time
}

func NewOrchestrator(st store.Store, artifacts *storage.ArtifactStore, extractor TextExtractor, summarizer *Summarizer) *Orchestrator {
	return &Orchestrator{
		store:      st,
		artifacts:  artifacts,
		extractor:  extractor,
		summarizer: summarizer,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetObserver registers fn to receive every state the pipeline reaches.
func (o *Orchestrator) SetObserver(fn func(IngestState)) {
	o.observer = fn
}

// Ingest returns the stored document, or an *IngestError naming the last
// state reached. Nothing is written before extraction succeeds, and a
// failed persist removes the uploaded object again. Summary and seed
// failures leave a usable document behind.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (domain.Document, error) {
	logger := util.LoggerFromContext(ctx).With("owner_id", req.OwnerID, "file_name", req.FileName)
	state := StateReceived
	o.enter(state)
	fail := func(err error) (domain.Document, error) {
		logger.Warn("ingest failed", "stage", string(state), "err", err)
		return domain.Document{}, &IngestError{Stage: state, Err: err}
	}

	fileName := strings.TrimSpace(filepath.Base(strings.TrimSpace(req.FileName)))
	switch {
	case len(req.Data) == 0:
		return fail(fmt.Errorf("%w: file is empty", domain.ErrValidation))
	case strings.TrimSpace(req.OwnerID) == "":
		return fail(fmt.Errorf("%w: owner id required", domain.ErrValidation))
	case fileName == "" || fileName == "." || fileName == "/":
		return fail(fmt.Errorf("%w: file name required", domain.ErrValidation))
	}
	if _, ok, err := o.store.GetUser(req.OwnerID); err != nil {
		return fail(fmt.Errorf("look up owner: %w", err))
	} else if !ok {
		return fail(fmt.Errorf("%w: %s", domain.ErrOwnerNotFound, req.OwnerID))
	}
	state = StateValidated
	o.enter(state)

	text, err := o.extractor.Extract(ctx, req.Data, req.Language)
	if err != nil {
		return fail(err)
	}
	state = StateExtracted
	o.enter(state)

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	// Past this point a half finished write costs more than finishing it.
	work := context.WithoutCancel(ctx)

	metadata := map[string]string{}
	contentType := strings.TrimSpace(req.ContentType)
	if format, err := ocr.DetectFormat(req.Data); err == nil {
		metadata["imageFormat"] = format
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = ocr.ContentTypeFor(format)
		}
	}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		metadata["ocrLanguage"] = lang
	}
	artifact, err := o.artifacts.Store(work, req.OwnerID, fileName, req.Data, contentType)
	if err != nil {
		return fail(err)
	}
	state = StateStored
	o.enter(state)

	now := o.now()
	doc := domain.Document{
		ID:            util.NewID(),
		OwnerID:       req.OwnerID,
		FileName:      fileName,
		DisplayName:   fileName,
		StorageKey:    artifact.Key,
		StorageURL:    artifact.URL,
		ContentType:   contentType,
		SizeBytes:     int64(len(req.Data)),
		ExtractedText: text,
		Metadata:      metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.store.CreateDocument(doc); err != nil {
		if rmErr := o.artifacts.Remove(work, artifact.Key); rmErr != nil {
			logger.Error("remove orphaned artifact failed", "key", artifact.Key, "err", rmErr)
		}
		return fail(err)
	}
	state = StatePersisted
	o.enter(state)
	logger = logger.With("document_id", doc.ID)

	summary := o.summarizer.Summarize(work, text)
	state = StateSummarized
	o.enter(state)

	seeded := true
	if _, err := o.store.AppendMessage(doc.ID, domain.RoleAssistant, summary); err != nil {
		seeded = false
		logger.Warn("seed summary message failed", "err", err)
	}
	if err := o.store.SetSummary(doc.ID, summary); err != nil {
		seeded = false
		logger.Warn("save summary failed", "err", err)
	} else {
		doc.Summary = summary
	}
	if seeded {
		state = StateSeeded
		o.enter(state)
	}

	state = StateComplete
	o.enter(state)
	logger.Info("document ingested", "size_bytes", doc.SizeBytes, "text_chars", len(text), "degraded", !seeded)
	return doc, nil
}

func (o *Orchestrator) enter(state IngestState) {
	if o.observer != nil {
		o.observer(state)
	}
}
