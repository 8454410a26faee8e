// Package telegram adapts the Telegram Bot API to the pipeline's chat
// transport ports.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"trackdrop/internal/domain"
)

var audioExts = map[string]bool{
	".mp3": true, ".m4a": true, ".flac": true, ".ogg": true, ".opus": true, ".wav": true,
}

// Transport wraps a bot API client. Implements domain.Messenger and
// arbiter.WebhookClearer.
type Transport struct {
	api *tgbotapi.BotAPI
	log zerolog.Logger
}

// NewTransport authenticates against the Bot API.
func NewTransport(token string, log zerolog.Logger) (*Transport, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	log.Info().Str("bot", api.Self.UserName).Msg("telegram transport ready")
	return &Transport{api: api, log: log}, nil
}

// ClearWebhook removes any registered push target. dropPending also
// discards updates buffered while no consumer was live.
func (t *Transport) ClearWebhook(ctx context.Context, dropPending bool) error {
	_, err := t.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending})
	return err
}

// Poll fetches the next batch of updates starting at offset.
func (t *Transport) Poll(offset int, timeout time.Duration) ([]tgbotapi.Update, error) {
	u := tgbotapi.NewUpdate(offset)
	u.Timeout = int(timeout.Seconds())
	return t.api.GetUpdates(u)
}

// SendText sends a message and returns its ID for later edits.
func (t *Transport) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	sent, err := t.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, mapErr(err)
	}
	return sent.MessageID, nil
}

// EditText rewrites an existing message. Editing to identical content is
// reported as success.
func (t *Transport) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := t.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text))
	if err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return mapErr(err)
	}
	return nil
}

// SendArtifact delivers one file directly, audio as audio, everything else
// as a document, keeping the original Unicode file name.
func (t *Transport) SendArtifact(ctx context.Context, chatID int64, a domain.Artifact) error {
	var msg tgbotapi.Chattable
	if audioExts[strings.ToLower(filepath.Ext(a.Name))] {
		audio := tgbotapi.NewAudio(chatID, tgbotapi.FilePath(a.Path))
		audio.Caption = a.Name
		msg = audio
	} else {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(a.Path))
		doc.Caption = a.Name
		msg = doc
	}
	if _, err := t.api.Send(msg); err != nil {
		return mapErr(err)
	}
	return nil
}

// IsConflict reports the "another consumer is active" rejection.
func IsConflict(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 409
	}
	return err != nil && strings.Contains(err.Error(), "Conflict")
}

// mapErr translates transport failures that mean the chat context is gone
// into domain.ErrChatGone.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, marker := range []string{
		"message to edit not found",
		"chat not found",
		"bot was blocked",
		"user is deactivated",
	} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", domain.ErrChatGone, err)
		}
	}
	return err
}
