package store

import (
	"time"

	"github.com/google/uuid"
)

// Processing-state markers consumed by the downstream NLP and media-analysis
// pipelines. Initialized at ingestion, never mutated by this service.
const (
	StatusPending       = "pending"
	StatusNotApplicable = "not_applicable"
)

// MediaRef points at a content-addressed object in the blob store.
type MediaRef struct {
	OriginalFilename string
	ContentHash      string
	StorageURI       string
	MediaType        string
}

// Message is one stored chat message. ID is a pure function of
// (timestamp, author, text prefix); everything else is payload.
type Message struct {
	ID       string
	GroupID  string
	TS       time.Time
	Author   string
	Text     string
	IsSystem bool
	HasMedia bool
	Media    *MediaRef // nil when no attachment was resolved
}

// Run states for one end-to-end ingestion of one submitted archive.
const (
	RunReceived           = "received"
	RunExtracting         = "extracting"
	RunParsing            = "parsing"
	RunPersistingMedia    = "persisting_media"
	RunPersistingMessages = "persisting_messages"
	RunCompleted          = "completed"
	RunFailed             = "failed"
)

// Run is the observability record for one ingestion run. The submitting
// client only ever sees "accepted"; this record is where the outcome lives.
type Run struct {
	ID           uuid.UUID
	State        string
	ArchiveName  string
	GroupID      string
	GroupName    string
	MessageCount int
	MediaCount   int
	Warnings     []string
	Error        string
	StartedAt    time.Time
	FinishedAt   *time.Time
}
