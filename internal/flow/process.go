package flow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/you/ytmediabot/internal/fetch"
	"github.com/you/ytmediabot/internal/logx"
	"github.com/you/ytmediabot/internal/media"
	"github.com/you/ytmediabot/internal/transcribe"
)

// process runs one job to a terminal state. It is the only goroutine
// touching the job while State == Processing; events that would mutate
// it are rejected by the state checks in the event handlers.
func (m *Machine) process(job *Job) {
	ctx := context.WithValue(context.Background(), logx.CtxKeyRequestID, job.Request.ID)
	ctx = context.WithValue(ctx, logx.CtxKeyChatID, job.Request.RequesterID)

	if err := m.run(ctx, job); err != nil {
		m.markFailed(job, err)
	}
}

func (m *Machine) run(ctx context.Context, job *Job) error {
	logger := logx.FromCtx(ctx)
	chatID := job.Request.RequesterID

	if err := m.store.EnsureDir(); err != nil {
		return err
	}
	if err := m.store.VerifyWritable(); err != nil {
		return err
	}

	if job.Meta == nil {
		meta, err := m.fetcher.FetchMetadata(ctx, job.Request.SourceURL)
		if err != nil {
			return err
		}
		job.Meta = &meta
	}

	src := filepath.Join(m.store.Dir, fetch.FileName("", "", job.Meta.Title))
	job.DownloadPath = src

	key := fmt.Sprintf("%d|%s", chatID, src)
	m.mu.Lock()
	if _, busy := m.inFlight[key]; busy {
		m.mu.Unlock()
		logger.Warn().Str("path", src).Msg("duplicate processing attempt ignored")
		return nil
	}
	m.inFlight[key] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, key)
		m.mu.Unlock()
	}()

	// A follow-up split may target an already-derived file; everything
	// else needs the source on disk first.
	if job.Action.Kind != ActionSplit || job.SplitSource == "" {
		if err := m.ensureSource(ctx, job, src); err != nil {
			return err
		}
	}

	switch job.Action.Kind {
	case ActionVideo:
		return m.runVideo(ctx, job, src)
	case ActionConvertVideo:
		return m.runConvert(ctx, job, src)
	case ActionSplit:
		return m.runSplit(ctx, job, src)
	case ActionAudio:
		return m.runAudio(ctx, job, src)
	case ActionTranscript, ActionSummary:
		return m.runTextual(ctx, job, src)
	}
	return fmt.Errorf("no action selected")
}

// ensureSource applies the reuse policy and downloads when it misses.
func (m *Machine) ensureSource(ctx context.Context, job *Job, src string) error {
	logger := logx.FromCtx(ctx)
	videoFlow := job.Action.Kind == ActionVideo || job.Action.Kind == ActionConvertVideo || job.Action.Kind == ActionSplit

	reuse := false
	if videoFlow {
		reuse = m.store.ShouldReuseVideo(src)
	} else {
		reuse = m.store.ShouldReuse(src)
	}
	if reuse {
		logger.Info().Str("path", src).Msg("reusing local copy")
		return nil
	}

	_ = m.deliver.SendText(job.Request.RequesterID, "⬇️ Downloading. Go grab a coffee ☕, this can take a while...")
	return m.fetcher.DownloadWithRetry(ctx, job.Request.SourceURL, src)
}

func (m *Machine) runVideo(ctx context.Context, job *Job, src string) error {
	size := fileSize(src)
	if size > m.opts.UploadLimitBytes {
		return m.offerSizeChoices(job, src, size)
	}
	if err := m.deliver.SendMedia(job.Request.RequesterID, src, KindVideo, job.Meta.Title); err != nil {
		return err
	}
	m.addArtifact(job, Artifact{Kind: KindVideo, Path: src, SizeBytes: size})
	m.store.ScheduleDelete(src)
	m.markDelivered(job)
	return nil
}

// offerSizeChoices is the size gate: instead of failing, put the choice
// back to the requester with only the tiers estimated to fit.
func (m *Machine) offerSizeChoices(job *Job, src string, size int64) error {
	var row []Button
	for _, tier := range media.TiersUnder(m.opts.UploadLimitBytes, size) {
		row = append(row, Button{
			Label: "Compress (" + string(tier) + ")",
			Data:  "tier:" + string(tier),
		})
	}
	rows := [][]Button{}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []Button{{Label: "Split into parts", Data: "split"}})

	text := fmt.Sprintf("The video is %d MB, over the %d MB delivery limit. Pick an option:",
		size/(1024*1024), m.opts.UploadLimitBytes/(1024*1024))
	mid, err := m.deliver.SendButtons(job.Request.RequesterID, text, rows)
	if err != nil {
		return err
	}
	m.mu.Lock()
	job.PromptMessageID = mid
	job.State = StateAwaitingAction
	m.mu.Unlock()
	return nil
}

func (m *Machine) runConvert(ctx context.Context, job *Job, src string) error {
	tier := job.Action.Tier
	dest := withSuffix(src, "_"+string(tier), ".mp4")

	_ = m.deliver.SendText(job.Request.RequesterID, "Re-encoding at "+string(tier)+" quality...")
	if _, err := m.converter.ToVideo(ctx, src, dest, tier); err != nil {
		return err
	}
	size := fileSize(dest)
	m.addArtifact(job, Artifact{Kind: kindForTier(tier), Path: dest, SizeBytes: size})

	if size > m.opts.UploadLimitBytes {
		m.store.Remove(dest)
		text := fmt.Sprintf("Still %d MB after re-encoding. Split into parts?", size/(1024*1024))
		mid, err := m.deliver.SendButtons(job.Request.RequesterID, text, [][]Button{
			{{Label: "Split into parts", Data: "split"}},
		})
		if err != nil {
			return err
		}
		m.mu.Lock()
		job.PromptMessageID = mid
		job.State = StateAwaitingAction
		m.mu.Unlock()
		return nil
	}

	if err := m.deliver.SendMedia(job.Request.RequesterID, dest, kindForTier(tier), job.Meta.Title); err != nil {
		return err
	}
	m.store.ScheduleDelete(dest)
	m.store.ScheduleDelete(src)
	m.markDelivered(job)
	return nil
}

func (m *Machine) runSplit(ctx context.Context, job *Job, src string) error {
	target := job.SplitSource
	if target == "" {
		target = src
	}
	kind := KindVideoPart
	if strings.EqualFold(filepath.Ext(target), ".mp3") {
		kind = KindAudioPart
	}

	_ = m.deliver.SendText(job.Request.RequesterID, "Splitting into parts...")
	parts, err := m.converter.SplitBySize(ctx, target, m.store.Dir, m.opts.SplitPartMB)
	if err != nil {
		return err
	}

	for i, part := range parts {
		caption := fmt.Sprintf("%s (part %d/%d)", job.Meta.Title, i+1, len(parts))
		size := fileSize(part)
		if err := m.deliver.SendMedia(job.Request.RequesterID, part, kind, caption); err != nil {
			return err
		}
		m.addArtifact(job, Artifact{Kind: kind, Path: part, SizeBytes: size})
		if part != target {
			m.store.ScheduleDelete(part)
		}
	}
	m.store.ScheduleDelete(target)
	if target != src {
		m.store.ScheduleDelete(src)
	}
	m.markDelivered(job)
	return nil
}

func (m *Machine) runAudio(ctx context.Context, job *Job, src string) error {
	chatID := job.Request.RequesterID
	audioPath := withSuffix(src, "", ".mp3")

	_ = m.deliver.SendText(chatID, "Converting to audio 🎵...")
	if _, err := m.converter.ToAudio(ctx, src, audioPath, 0); err != nil {
		return err
	}
	size := fileSize(audioPath)

	if size > m.opts.UploadLimitBytes {
		// one degraded-bitrate retry before putting the choice back to
		// the requester
		lg := logx.FromCtx(ctx)
		lg.Info().Int64("bytes", size).Msg("audio over ceiling, retrying degraded")
		if _, err := m.converter.ToAudio(ctx, src, audioPath, m.opts.AudioKbpsDegraded); err != nil {
			return err
		}
		size = fileSize(audioPath)
	}

	if size > m.opts.UploadLimitBytes {
		m.mu.Lock()
		job.SplitSource = audioPath
		m.mu.Unlock()
		text := fmt.Sprintf("The audio is %d MB, over the %d MB delivery limit. Split into parts?",
			size/(1024*1024), m.opts.UploadLimitBytes/(1024*1024))
		mid, err := m.deliver.SendButtons(chatID, text, [][]Button{
			{{Label: "Split into parts", Data: "split"}},
		})
		if err != nil {
			return err
		}
		m.mu.Lock()
		job.PromptMessageID = mid
		job.State = StateAwaitingAction
		m.mu.Unlock()
		return nil
	}

	if err := m.deliver.SendMedia(chatID, audioPath, KindAudio, job.Meta.Title); err != nil {
		return err
	}
	m.addArtifact(job, Artifact{Kind: KindAudio, Path: audioPath, SizeBytes: size})
	m.store.ScheduleDelete(audioPath)
	m.store.ScheduleDelete(src)
	m.markDelivered(job)
	return nil
}

func (m *Machine) runTextual(ctx context.Context, job *Job, src string) error {
	chatID := job.Request.RequesterID
	audioPath := withSuffix(src, "", ".mp3")

	_ = m.deliver.SendText(chatID, "Transcribing. This can take a few minutes ⏳...")
	// degraded bitrate is plenty for speech-to-text and keeps the file
	// under the backend input ceiling more often
	if _, err := m.converter.ToAudio(ctx, src, audioPath, m.opts.AudioKbpsDegraded); err != nil {
		return err
	}

	res, err := m.transcript.Run(ctx, audioPath)
	if err != nil {
		m.store.Remove(audioPath)
		return err
	}

	defer func() {
		m.store.ScheduleDelete(audioPath)
		m.store.ScheduleDelete(src)
	}()

	switch {
	case job.Action.Kind == ActionSummary:
		if m.summarizer == nil {
			return errors.New("summary backend not configured")
		}
		out, err := m.summarizer.Summarize(ctx, res.Text, job.ScopeText)
		if err != nil {
			return err
		}
		return m.deliverText(job, out, KindSummary, withSuffix(src, "", ".summary.txt"))

	case job.Scope == ScopePartial && m.summarizer != nil:
		out, err := m.summarizer.Excerpt(ctx, res.Text, job.ScopeText)
		if err != nil {
			return err
		}
		return m.deliverText(job, out, KindTranscript, withSuffix(src, "", ".excerpt.txt"))

	default:
		if res.Inline() {
			if err := m.deliver.SendText(chatID, res.Text); err != nil {
				return err
			}
			m.addArtifact(job, Artifact{Kind: KindTranscript, SizeBytes: int64(len(res.Text))})
		} else {
			if err := m.deliver.SendDocument(chatID, res.DocPath, job.Meta.Title); err != nil {
				return err
			}
			m.addArtifact(job, Artifact{Kind: KindDocument, Path: res.DocPath, SizeBytes: fileSize(res.DocPath)})
			m.store.ScheduleDelete(res.DocPath)
		}
		m.markDelivered(job)
		return nil
	}
}

// deliverText sends text inline when it fits the message limit and as a
// paginated document otherwise.
func (m *Machine) deliverText(job *Job, text string, kind ArtifactKind, docPath string) error {
	chatID := job.Request.RequesterID
	if len([]rune(text)) <= m.opts.MessageLimit {
		if err := m.deliver.SendText(chatID, text); err != nil {
			return err
		}
		m.addArtifact(job, Artifact{Kind: kind, SizeBytes: int64(len(text))})
		m.markDelivered(job)
		return nil
	}
	if err := transcribe.WriteDocument(text, docPath); err != nil {
		return err
	}
	if err := m.deliver.SendDocument(chatID, docPath, job.Meta.Title); err != nil {
		return err
	}
	m.addArtifact(job, Artifact{Kind: KindDocument, Path: docPath, SizeBytes: fileSize(docPath)})
	m.store.ScheduleDelete(docPath)
	m.markDelivered(job)
	return nil
}

func withSuffix(path, suffix, newExt string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + newExt
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
