// Package flow is the per-requester, multi-turn job controller. It owns
// the job map, the callback dedup set and the last-processed-message
// marker, and sequences link -> action -> scope -> secret -> delivery
// across unrelated inbound events.
package flow

import (
	"errors"
	"time"

	"github.com/you/ytmediabot/internal/fetch"
	"github.com/you/ytmediabot/internal/media"
)

var (
	ErrSecretMismatch = errors.New("access phrase mismatch")
	ErrStaleJob       = errors.New("no active job for requester")
)

// State is a job's position in the conversation flow.
type State int

const (
	StateAwaitingAction State = iota
	StateAwaitingScope
	StateAwaitingSecret
	StateProcessing
	StateDelivered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingAction:
		return "awaiting_action"
	case StateAwaitingScope:
		return "awaiting_scope"
	case StateAwaitingSecret:
		return "awaiting_secret"
	case StateProcessing:
		return "processing"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the job slot can be reused.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

// ArtifactKind tags what a derived file is.
type ArtifactKind string

const (
	KindVideo      ArtifactKind = "video"
	KindAudio      ArtifactKind = "audio"
	KindVideoLowQ  ArtifactKind = "videoLowQ"
	KindVideoMedQ  ArtifactKind = "videoMedQ"
	KindVideoHighQ ArtifactKind = "videoHighQ"
	KindVideoPart  ArtifactKind = "videoPart"
	KindAudioPart  ArtifactKind = "audioPart"
	KindTranscript ArtifactKind = "transcript"
	KindSummary    ArtifactKind = "summary"
	KindDocument   ArtifactKind = "document"
)

// kindForTier maps a re-encode tier to its artifact kind.
func kindForTier(t media.Tier) ArtifactKind {
	switch t {
	case media.TierLow:
		return KindVideoLowQ
	case media.TierMedium:
		return KindVideoMedQ
	case media.TierHigh:
		return KindVideoHighQ
	}
	return KindVideo
}

// Artifact is a derived file owned by the job until delivered.
type Artifact struct {
	Kind      ArtifactKind
	Path      string
	SizeBytes int64
}

// MediaRequest is created on the first valid link of a conversation and
// never mutated afterwards.
type MediaRequest struct {
	ID          string
	RequesterID int64
	SourceURL   string
	CreatedAt   time.Time
}

// Job is one requester's in-progress media request. Reads and writes go
// through the machine's mutex; nothing else touches it.
type Job struct {
	Request MediaRequest
	Meta    *fetch.Metadata

	Action        Action
	Scope         Scope
	ScopeText     string
	PendingSecret bool

	// set once the source file is on disk; tier/split callbacks reuse it
	DownloadPath string
	// file a follow-up split acts on; empty means the download itself
	SplitSource string

	Artifacts []Artifact
	State     State

	// message carrying the current inline keyboard, cleared on press
	PromptMessageID int
}
