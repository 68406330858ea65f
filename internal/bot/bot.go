// Package bot is the Telegram glue: it implements the flow package's
// delivery contract over go-telegram-bot-api and translates inbound
// updates into state machine events.
package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/you/ytmediabot/internal/fetch"
	"github.com/you/ytmediabot/internal/flow"
	"github.com/you/ytmediabot/internal/store"
)

// Service runs the update loop and delivers results back to chats.
type Service struct {
	api     *tgbotapi.BotAPI
	machine *flow.Machine
	fetcher *fetch.Engine
	store   *store.Store
}

func New(api *tgbotapi.BotAPI, machine *flow.Machine, fetcher *fetch.Engine, st *store.Store) *Service {
	return &Service{api: api, machine: machine, fetcher: fetcher, store: st}
}

// Run consumes updates until the channel closes.
func (s *Service) Run() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := s.api.GetUpdatesChan(u)

	for upd := range updates {
		switch {
		case upd.Message != nil:
			s.onMessage(upd.Message)
		case upd.CallbackQuery != nil:
			s.onCallback(upd.CallbackQuery)
		}
	}
}

func (s *Service) onMessage(m *tgbotapi.Message) {
	log.Info().
		Int64("chat_id", m.Chat.ID).
		Int("message_id", m.MessageID).
		Msg("message received")

	if m.IsCommand() {
		switch m.Command() {
		case "start":
			_ = s.SendText(m.Chat.ID, "Send a YouTube link and pick what you need: video, audio, transcript or summary.")
		case "cancel":
			s.machine.Reset(m.Chat.ID)
			_ = s.SendText(m.Chat.ID, "Session cancelled. Send a link to start again.")
		case "addythl":
			s.handleAdd(m)
		default:
			_ = s.SendText(m.Chat.ID, "Unknown command. Send a link to start.")
		}
		return
	}

	s.machine.OnMessage(m.Chat.ID, m.Text, m.MessageID)
}

// handleAdd is the one-shot download command:
// /addythl url eventDate title...
func (s *Service) handleAdd(m *tgbotapi.Message) {
	args := strings.Fields(m.CommandArguments())
	if len(args) < 3 {
		_ = s.SendText(m.Chat.ID, "Usage: /addythl url eventDate title")
		return
	}
	url, eventDate := args[0], args[1]
	title := strings.Join(args[2:], " ")

	go func() {
		ctx := context.Background()
		if err := s.fetcher.Validate(url); err != nil {
			_ = s.SendText(m.Chat.ID, "Error: "+err.Error())
			return
		}
		meta, err := s.fetcher.FetchMetadata(ctx, url)
		if err != nil {
			_ = s.SendText(m.Chat.ID, "Error: "+err.Error())
			return
		}
		if err := s.store.EnsureDir(); err != nil {
			_ = s.SendText(m.Chat.ID, "Error: "+err.Error())
			return
		}
		if err := s.store.VerifyWritable(); err != nil {
			_ = s.SendText(m.Chat.ID, "Error: "+err.Error())
			return
		}

		name := fetch.FileName(eventDate, title, meta.Title)
		dest := filepath.Join(s.store.Dir, name)

		_ = s.SendText(m.Chat.ID, "Starting video download...")
		if !s.store.ShouldReuseVideo(dest) {
			if err := s.fetcher.DownloadWithRetry(ctx, url, dest); err != nil {
				_ = s.SendText(m.Chat.ID, "Error: "+err.Error())
				return
			}
		}
		_ = s.SendText(m.Chat.ID, fmt.Sprintf("✅ Video downloaded!\n\n🎥 Title: %s\n📅 Date: %s\n📁 File: %s", title, eventDate, name))
	}()
}

func (s *Service) onCallback(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil {
		return
	}
	ack := s.machine.OnCallback(cq.Message.Chat.ID, cq.ID, cq.Data)
	if _, err := s.api.Request(tgbotapi.NewCallback(cq.ID, ack)); err != nil {
		log.Warn().Err(err).Msg("callback answer failed")
	}
}

/* ---- flow.Deliverer ---- */

func (s *Service) SendText(chatID int64, text string) error {
	_, err := s.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (s *Service) SendButtons(chatID int64, text string, rows [][]flow.Button) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard(rows)
	sent, err := s.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (s *Service) EditButtons(chatID int64, messageID int, rows [][]flow.Button) error {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, keyboard(rows))
	if _, err := s.api.Request(edit); err != nil {
		// pressing an already-cleared keyboard is not worth surfacing
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) SendDocument(chatID int64, path, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	_, err := s.api.Send(doc)
	return err
}

func (s *Service) SendMedia(chatID int64, path string, kind flow.ArtifactKind, caption string) error {
	switch kind {
	case flow.KindAudio, flow.KindAudioPart:
		audio := tgbotapi.NewAudio(chatID, tgbotapi.FilePath(path))
		audio.Caption = caption
		_, err := s.api.Send(audio)
		return err
	case flow.KindVideo, flow.KindVideoLowQ, flow.KindVideoMedQ, flow.KindVideoHighQ, flow.KindVideoPart:
		video := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(path))
		video.Caption = caption
		_, err := s.api.Send(video)
		return err
	}
	return s.SendDocument(chatID, path, caption)
}

func keyboard(rows [][]flow.Button) tgbotapi.InlineKeyboardMarkup {
	kb := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		kb = append(kb, btns)
	}
	// an empty markup clears the keyboard
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: kb}
}
