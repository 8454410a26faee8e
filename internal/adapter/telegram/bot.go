package telegram

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"trackdrop/internal/domain"
	"trackdrop/internal/extract"
)

var urlRe = regexp.MustCompile(`^https?://\S+$`)

// fallbackLadder is offered when probing available resolutions fails.
var fallbackLadder = []int{480, 720, 1080}

var audioTiers = []string{"128", "192", "320", "best"}

// Submitter accepts a fully specified request for processing.
type Submitter func(req domain.Request)

// ConflictHandler resolves "another consumer is active" transport
// rejections. Satisfied by the arbiter.
type ConflictHandler interface {
	OnConflict(ctx context.Context) error
	ResetConflicts()
}

// pendingKey scopes an awaiting-format URL to one user within one chat, so
// concurrent requesters in a group chat never overwrite each other.
type pendingKey struct {
	chat int64
	user int64
}

// Bot is the thin inbound surface: it turns messages and menu selections
// into Requests and hands them to the submitter.
type Bot struct {
	t      *Transport
	prober *extract.Prober
	submit Submitter
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[pendingKey]string
}

// NewBot creates the inbound handler.
func NewBot(t *Transport, prober *extract.Prober, submit Submitter, log zerolog.Logger) *Bot {
	return &Bot{
		t:       t,
		prober:  prober,
		submit:  submit,
		log:     log,
		pending: make(map[pendingKey]string),
	}
}

func (b *Bot) stashPending(chatID, userID int64, url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[pendingKey{chatID, userID}] = url
}

func (b *Bot) peekPending(chatID, userID int64) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	url, ok := b.pending[pendingKey{chatID, userID}]
	return url, ok
}

func (b *Bot) dropPending(chatID, userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, pendingKey{chatID, userID})
}

// Run is the single update-consumer loop. It must only be started after
// the arbiter granted exclusivity and the push target was cleared.
func (b *Bot) Run(ctx context.Context, conflicts ConflictHandler, pollTimeout time.Duration) error {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := b.t.Poll(offset, pollTimeout)
		if err != nil {
			if IsConflict(err) {
				if cerr := conflicts.OnConflict(ctx); cerr != nil {
					return cerr
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn().Err(err).Msg("poll failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}
		conflicts.ResetConflicts()

		for _, up := range updates {
			if up.UpdateID >= offset {
				offset = up.UpdateID + 1
			}
			b.handleUpdate(ctx, up)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, up tgbotapi.Update) {
	switch {
	case up.Message != nil:
		b.handleMessage(ctx, up.Message)
	case up.CallbackQuery != nil:
		b.handleCallback(ctx, up.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID
	userID := msg.From.ID

	switch {
	case text == "/start", text == "/help":
		b.reply(ctx, chatID, "Send me a track, album, playlist or video link and I'll fetch it for you.")
	case extract.SpotifyURL(text):
		// Spotify sources are audio-only, so the kind question is skipped.
		b.stashPending(chatID, userID, text)
		b.sendAudioQuality(chatID)
	case urlRe.MatchString(text):
		b.stashPending(chatID, userID, text)
		b.askMediaKind(chatID)
	default:
		b.reply(ctx, chatID, "That doesn't look like a link. Send a URL to get started, or /help.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	// Ack so the client stops its spinner; failure here is cosmetic.
	if _, err := b.t.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		b.log.Debug().Err(err).Msg("callback ack failed")
	}
	if q.Message == nil {
		return
	}
	chatID := q.Message.Chat.ID
	userID := q.From.ID

	url, ok := b.peekPending(chatID, userID)
	if !ok {
		b.editMenu(chatID, q.Message.MessageID, "That request expired. Send the link again.", nil)
		return
	}

	parts := strings.Split(q.Data, ":")
	switch {
	case len(parts) == 2 && parts[0] == "kind" && parts[1] == "audio":
		b.askAudioQuality(chatID, q.Message.MessageID)
	case len(parts) == 2 && parts[0] == "kind" && parts[1] == "video":
		b.askVideoQuality(ctx, chatID, q.Message.MessageID, url)
	case len(parts) == 3 && parts[0] == "fmt":
		format := domain.MediaFormat{Kind: domain.MediaKind(parts[1]), Quality: parts[2]}
		req := domain.NewRequest(url, format, chatID, q.From.UserName)

		b.dropPending(chatID, userID)

		b.editMenu(chatID, q.Message.MessageID, "Request accepted.", nil)
		b.submit(req)
	default:
		b.log.Warn().Str("data", q.Data).Msg("unknown callback")
	}
}

func (b *Bot) askMediaKind(chatID int64) {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎵 Audio", "kind:audio"),
			tgbotapi.NewInlineKeyboardButtonData("🎬 Video", "kind:video"),
		),
	)
	msg := tgbotapi.NewMessage(chatID, "What should I fetch?")
	msg.ReplyMarkup = kb
	if _, err := b.t.api.Send(msg); err != nil {
		b.log.Warn().Err(err).Msg("send media kind menu failed")
	}
}

func audioKeyboard() tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	for _, tier := range audioTiers {
		label := tier + " kbps"
		if tier == "best" {
			label = "Best"
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, "fmt:audio:"+tier))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func (b *Bot) askAudioQuality(chatID int64, messageID int) {
	kb := audioKeyboard()
	b.editMenu(chatID, messageID, "Pick an audio quality:", &kb)
}

func (b *Bot) sendAudioQuality(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "Pick an audio quality:")
	msg.ReplyMarkup = audioKeyboard()
	if _, err := b.t.api.Send(msg); err != nil {
		b.log.Warn().Err(err).Msg("send audio quality menu failed")
	}
}

func (b *Bot) askVideoQuality(ctx context.Context, chatID int64, messageID int, url string) {
	heights, err := b.prober.Resolutions(ctx, url)
	if err != nil || len(heights) == 0 {
		b.log.Warn().Err(err).Msg("resolution probe failed, using fallback ladder")
		heights = fallbackLadder
	}

	var row []tgbotapi.InlineKeyboardButton
	for _, h := range heights {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%dp", h), fmt.Sprintf("fmt:video:%d", h)))
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData("Best", "fmt:video:best"))

	kb := tgbotapi.NewInlineKeyboardMarkup(row)
	b.editMenu(chatID, messageID, "Pick a resolution:", &kb)
}

func (b *Bot) editMenu(chatID int64, messageID int, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	var msg tgbotapi.Chattable
	if kb != nil {
		m := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *kb)
		msg = m
	} else {
		msg = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	if _, err := b.t.api.Send(msg); err != nil {
		b.log.Warn().Err(err).Msg("edit menu failed")
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.t.SendText(ctx, chatID, text); err != nil {
		b.log.Warn().Err(err).Msg("reply failed")
	}
}
