package flow

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/you/ytmediabot/internal/fetch"
	"github.com/you/ytmediabot/internal/media"
	"github.com/you/ytmediabot/internal/store"
	"github.com/you/ytmediabot/internal/transcribe"
)

// dedup entries expire after this window; a replayed callback id inside
// it is a no-op.
const dedupTTL = 5 * time.Minute

// Button is one inline keyboard choice.
type Button struct {
	Label string
	Data  string
}

// Deliverer is the send-only chat transport contract.
type Deliverer interface {
	SendText(chatID int64, text string) error
	SendButtons(chatID int64, text string, rows [][]Button) (messageID int, err error)
	EditButtons(chatID int64, messageID int, rows [][]Button) error
	SendDocument(chatID int64, path, caption string) error
	SendMedia(chatID int64, path string, kind ArtifactKind, caption string) error
}

// Fetcher is the slice of the acquisition engine the machine uses.
type Fetcher interface {
	Validate(url string) error
	FetchMetadata(ctx context.Context, url string) (fetch.Metadata, error)
	DownloadWithRetry(ctx context.Context, url, destPath string) error
}

// Converter is the slice of the transcoding engine the machine uses.
type Converter interface {
	ToAudio(ctx context.Context, srcPath, destPath string, kbps int) (string, error)
	ToVideo(ctx context.Context, srcPath, destPath string, tier media.Tier) (string, error)
	SplitBySize(ctx context.Context, srcPath, outDir string, maxPartMB int) ([]string, error)
}

// TranscriptRunner produces a transcript from an audio file.
type TranscriptRunner interface {
	Run(ctx context.Context, audioPath string) (transcribe.Result, error)
}

// SummaryBackend turns transcripts into summaries or scoped excerpts.
type SummaryBackend interface {
	Summarize(ctx context.Context, transcript, instruction string) (string, error)
	Excerpt(ctx context.Context, transcript, instruction string) (string, error)
}

// Options is the machine's configuration surface.
type Options struct {
	OutputDir         string
	AccessPhrase      string
	UploadLimitBytes  int64
	SplitPartMB       int
	AudioKbpsDegraded int
	MessageLimit      int
}

// Machine owns all per-requester conversational state. Inbound events
// enter through OnMessage and OnCallback; long-running work leaves on a
// goroutine so other requesters are never blocked.
type Machine struct {
	deliver    Deliverer
	fetcher    Fetcher
	converter  Converter
	transcript TranscriptRunner
	summarizer SummaryBackend
	store      *store.Store
	opts       Options

	mu            sync.Mutex
	jobs          map[int64]*Job
	seenCallbacks map[string]time.Time
	inFlight      map[string]struct{}
	lastMsgText   string
	lastMsgID     int

	now     func() time.Time
	entropy *rand.Rand
}

func NewMachine(d Deliverer, f Fetcher, c Converter, t TranscriptRunner, s SummaryBackend, st *store.Store, opts Options) *Machine {
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = 4000
	}
	if opts.SplitPartMB <= 0 {
		opts.SplitPartMB = 45
	}
	if opts.AudioKbpsDegraded <= 0 {
		opts.AudioKbpsDegraded = 96
	}
	return &Machine{
		deliver:       d,
		fetcher:       f,
		converter:     c,
		transcript:    t,
		summarizer:    s,
		store:         st,
		opts:          opts,
		jobs:          make(map[int64]*Job),
		seenCallbacks: make(map[string]time.Time),
		inFlight:      make(map[string]struct{}),
		now:           time.Now,
		entropy:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetDeliverer wires the transport after construction; the chat adapter
// and the machine reference each other.
func (m *Machine) SetDeliverer(d Deliverer) {
	m.deliver = d
}

// Job returns the live job for a requester, if any.
func (m *Machine) Job(requesterID int64) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[requesterID]
	return j, ok
}

// JobState reports the state of the requester's live job.
func (m *Machine) JobState(requesterID int64) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[requesterID]
	if !ok {
		return 0, false
	}
	return j.State, true
}

// Reset drops the requester's job, if any.
func (m *Machine) Reset(requesterID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, requesterID)
}

func looksLikeLink(text string) bool {
	return strings.Contains(text, "youtube.com/") || strings.Contains(text, "youtu.be/")
}

// OnMessage handles a plain inbound message: a source link starts a
// fresh flow, anything else is matched against the requester's current
// state (scope instruction or access phrase).
func (m *Machine) OnMessage(chatID int64, text string, messageID int) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if looksLikeLink(text) {
		m.onLink(chatID, text, messageID)
		return
	}
	m.onFreeText(chatID, text)
}

func (m *Machine) onLink(chatID int64, text string, messageID int) {
	m.mu.Lock()
	if m.lastMsgText == text && m.lastMsgID == messageID {
		m.mu.Unlock()
		return
	}
	m.lastMsgText = text
	m.lastMsgID = messageID
	m.mu.Unlock()

	if err := m.fetcher.Validate(text); err != nil {
		_ = m.deliver.SendText(chatID, "Error: "+err.Error())
		return
	}

	job := &Job{
		Request: MediaRequest{
			ID:          m.newULID(),
			RequesterID: chatID,
			SourceURL:   text,
			CreatedAt:   m.now(),
		},
		State: StateAwaitingAction,
	}

	mid, err := m.deliver.SendButtons(chatID, "What do you need?", [][]Button{
		{{Label: "🎥 Video", Data: "act:video"}, {Label: "🎵 Audio", Data: "act:audio"}},
		{{Label: "📝 Transcript", Data: "act:transcript"}, {Label: "🧾 Summary", Data: "act:summary"}},
	})
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("action prompt failed")
		return
	}
	job.PromptMessageID = mid

	m.mu.Lock()
	m.jobs[chatID] = job
	m.mu.Unlock()

	log.Info().Int64("chat_id", chatID).Str("req", job.Request.ID).Msg("new media request")
}

func (m *Machine) onFreeText(chatID int64, text string) {
	m.mu.Lock()
	job, ok := m.jobs[chatID]
	if !ok || job.State.Terminal() {
		m.mu.Unlock()
		return
	}

	switch {
	case job.State == StateAwaitingScope && job.Scope == ScopePartial && job.ScopeText == "":
		job.ScopeText = text
		job.State = StateAwaitingSecret
		job.PendingSecret = true
		m.mu.Unlock()
		_ = m.deliver.SendText(chatID, "Reply with the access phrase to continue.")

	case job.State == StateAwaitingSecret:
		match := strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(m.opts.AccessPhrase))
		if !match {
			job.State = StateFailed
			job.PendingSecret = false
			m.mu.Unlock()
			log.Warn().Err(ErrSecretMismatch).Int64("chat_id", chatID).Str("req", job.Request.ID).Msg("job cancelled")
			_ = m.deliver.SendText(chatID, "Wrong access phrase. Operation cancelled.")
			return
		}
		job.PendingSecret = false
		job.State = StateProcessing
		m.mu.Unlock()
		go m.process(job)

	default:
		m.mu.Unlock()
	}
}

// OnCallback handles a button press. The returned text is shown to the
// requester as the callback acknowledgement.
func (m *Machine) OnCallback(chatID int64, callbackID, data string) string {
	m.mu.Lock()
	m.sweepDedupLocked()
	if _, seen := m.seenCallbacks[callbackID]; seen {
		m.mu.Unlock()
		return ""
	}
	m.seenCallbacks[callbackID] = m.now()
	m.mu.Unlock()

	cb, err := ParseCallback(data)
	if err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("bad callback token")
		return "Unknown action."
	}

	m.mu.Lock()
	job, ok := m.jobs[chatID]
	if !ok || job.State.Terminal() {
		m.mu.Unlock()
		log.Debug().Err(ErrStaleJob).Int64("chat_id", chatID).Str("data", data).Msg("callback without a live job")
		_ = m.deliver.SendText(chatID, "That request has expired. Send the link again.")
		return ""
	}
	prompt := job.PromptMessageID
	m.mu.Unlock()

	if prompt != 0 {
		// clearing the keyboard is cosmetic; ignore failures
		_ = m.deliver.EditButtons(chatID, prompt, nil)
	}

	if cb.Scope != ScopeNone {
		return m.onScopeChoice(job, cb.Scope)
	}
	return m.onActionChoice(job, cb.Action)
}

func (m *Machine) onScopeChoice(job *Job, scope Scope) string {
	chatID := job.Request.RequesterID
	m.mu.Lock()
	if job.State != StateAwaitingScope {
		m.mu.Unlock()
		return "No scope choice pending."
	}
	job.Scope = scope
	if scope == ScopeFull {
		job.State = StateAwaitingSecret
		job.PendingSecret = true
		m.mu.Unlock()
		_ = m.deliver.SendText(chatID, "Reply with the access phrase to continue.")
		return "Full video selected."
	}
	m.mu.Unlock()
	_ = m.deliver.SendText(chatID, "Describe the part you want (e.g. \"the part about pricing\").")
	return "Excerpt selected."
}

func (m *Machine) onActionChoice(job *Job, action Action) string {
	chatID := job.Request.RequesterID
	m.mu.Lock()
	if job.State != StateAwaitingAction {
		m.mu.Unlock()
		return "Already working on it."
	}

	switch action.Kind {
	case ActionVideo, ActionAudio:
		job.Action = action
		job.State = StateProcessing
		m.mu.Unlock()
		go m.process(job)
		return "On it."

	case ActionTranscript, ActionSummary:
		job.Action = action
		job.State = StateAwaitingScope
		m.mu.Unlock()
		mid, err := m.deliver.SendButtons(chatID, "Whole video or just a part?", [][]Button{
			{{Label: "Whole video", Data: "scope:full"}, {Label: "Just a part", Data: "scope:partial"}},
		})
		if err == nil {
			m.mu.Lock()
			job.PromptMessageID = mid
			m.mu.Unlock()
		}
		return "Choose the scope."

	case ActionConvertVideo, ActionSplit:
		if job.DownloadPath == "" {
			m.mu.Unlock()
			return "Nothing to convert yet."
		}
		job.Action = action
		job.State = StateProcessing
		m.mu.Unlock()
		go m.process(job)
		return "On it."
	}

	m.mu.Unlock()
	return "Unknown action."
}

// sweepDedupLocked evicts expired callback ids. Caller holds mu.
func (m *Machine) sweepDedupLocked() {
	cutoff := m.now().Add(-dedupTTL)
	for id, at := range m.seenCallbacks {
		if at.Before(cutoff) {
			delete(m.seenCallbacks, id)
		}
	}
}

func (m *Machine) newULID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(m.now()), ulid.Monotonic(m.entropy, 0)).String()
}

// markFailed flips the job to Failed and reports the error to the
// requester with the backend message attached.
func (m *Machine) markFailed(job *Job, err error) {
	m.mu.Lock()
	job.State = StateFailed
	artifacts := append([]Artifact(nil), job.Artifacts...)
	m.mu.Unlock()

	// guaranteed cleanup of derived files; the source stays for the
	// same-day reuse policy
	for _, a := range artifacts {
		if a.Path != job.DownloadPath {
			m.store.Remove(a.Path)
		}
	}

	log.Error().Err(err).Int64("chat_id", job.Request.RequesterID).Str("req", job.Request.ID).Msg("job failed")
	_ = m.deliver.SendText(job.Request.RequesterID, "Error: "+err.Error())
}

func (m *Machine) markDelivered(job *Job) {
	m.mu.Lock()
	job.State = StateDelivered
	m.mu.Unlock()
	log.Info().Int64("chat_id", job.Request.RequesterID).Str("req", job.Request.ID).Msg("job delivered")
}

func (m *Machine) addArtifact(job *Job, a Artifact) {
	m.mu.Lock()
	job.Artifacts = append(job.Artifacts, a)
	m.mu.Unlock()
}

func (m *Machine) setState(job *Job, s State) {
	m.mu.Lock()
	job.State = s
	m.mu.Unlock()
}
