package app

import "fmt"

// IngestState is a step of the ingestion pipeline.
type IngestState string

const (
	StateReceived   IngestState = "received"
	StateValidated  IngestState = "validated"
	StateExtracted  IngestState = "extracted"
	StateStored     IngestState = "stored"
	StatePersisted  IngestState = "persisted"
	StateSummarized IngestState = "summarized"
	StateSeeded     IngestState = "seeded"
	StateComplete   IngestState = "complete"
)

// IngestError reports the last state an ingestion reached before it failed.
type IngestError struct {
	Stage IngestState
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest failed after %s: %v", e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }
