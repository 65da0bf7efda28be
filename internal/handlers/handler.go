package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"glamour-studio/internal/credential"
	"glamour-studio/internal/media"
	"glamour-studio/internal/mediagroup"
	"glamour-studio/internal/prompt"
	"glamour-studio/internal/session"
	"glamour-studio/internal/studio"
	"glamour-studio/internal/telegram"
)

// Messenger is the part of the Telegram client the handler talks to.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendTyping(chatID int64)
	SendRecordingVideo(chatID int64)
	DeleteMessage(chatID int64, messageID int) error
	SendPhotoDataURL(chatID int64, dataURL string, caption string) error
	SendVideoDataURL(chatID int64, dataURL string, caption string) error
	SendAsset(chatID int64, asset media.Asset) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

type Options struct {
	Telegram       Messenger
	Sessions       *session.Store
	Logger         *slog.Logger
	RequestTimeout time.Duration
	VideoTimeout   time.Duration
}

type Handler struct {
	tg             Messenger
	sessions       *session.Store
	logger         *slog.Logger
	aggregator     *mediagroup.Aggregator
	requestTimeout time.Duration
	videoTimeout   time.Duration
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 180 * time.Second
	}
	videoTimeout := opts.VideoTimeout
	if videoTimeout <= 0 {
		videoTimeout = 600 * time.Second
	}

	return &Handler{
		tg:             opts.Telegram,
		sessions:       opts.Sessions,
		logger:         logger,
		requestTimeout: requestTimeout,
		videoTimeout:   videoTimeout,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

// SessionID is the registry key of a chat.
func SessionID(chatID int64) string {
	return fmt.Sprintf("tg:%d", chatID)
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.Message == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, msg)
	}

	if fileID, ok := imageFileID(msg); ok {
		if msg.MediaGroupID != "" && h.aggregator != nil {
			h.aggregator.Add(mediagroup.Item{
				ChatID:       chatID,
				MessageID:    msg.MessageID,
				MediaGroupID: msg.MediaGroupID,
				Caption:      msg.Caption,
				FileID:       fileID,
			})
			return nil
		}
		return h.processPhoto(ctx, chatID, fileID, msg.Caption)
	}

	if msg.Text != "" {
		return h.handleRemix(ctx, chatID, msg.Text)
	}

	return nil
}

// HandleMediaGroup starts a glamour shot from the first photo of an album.
func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	fileID := group.First()
	if fileID == "" {
		return
	}
	if len(group.FileIDs) > 1 {
		_ = h.tg.SendText(group.ChatID, "Only the first photo of an album is used.")
	}
	if err := h.processPhoto(ctx, group.ChatID, fileID, group.Caption); err != nil {
		h.logger.Error("media group processing failed", "err", err)
	}
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return h.tg.SendText(chatID,
			"📸 Glamour Studio\n\n"+
				"Send a portrait and I will turn it into an 80s glamour shot.\n"+
				"Add a caption to pick a backdrop ("+backdropList()+") and any extra wishes,\n"+
				"e.g. \"neon with a mullet\".\n\n"+
				"/help for all commands.",
		)
	case "help":
		return h.tg.SendText(chatID,
			"📸 Help\n\n"+
				"Photo: start a new glamour shot (caption = backdrop and wishes).\n"+
				"Text: remix the current shot, e.g. \"make the hair bigger\".\n"+
				"/video <motion> - animate the shot.\n"+
				"/key <api key> - select the API key used for video.\n"+
				"/download - get the result as a file.\n"+
				"/status - show where you are.\n"+
				"/reset - start over.",
		)
	case "reset":
		h.session(chatID).Reset()
		return h.tg.SendText(chatID, "✅ Cleared. Send a new photo.")
	case "status":
		return h.tg.SendText(chatID, statusText(h.session(chatID).Snapshot()))
	case "download":
		return h.handleDownload(chatID)
	case "video":
		return h.handleVideo(ctx, chatID, msg.CommandArguments())
	case "key":
		if err := h.tg.DeleteMessage(chatID, msg.MessageID); err != nil {
			h.logger.Warn("delete key message failed", "err", err)
		}
		return h.handleKey(ctx, chatID, msg.CommandArguments())
	default:
		return h.tg.SendText(chatID, "❌ Unknown command. Use /help.")
	}
}

func (h *Handler) processPhoto(ctx context.Context, chatID int64, fileID, caption string) error {
	sess := h.session(chatID)
	if busy(sess.Snapshot()) {
		return h.tg.SendText(chatID, busyText)
	}

	h.tg.SendTyping(chatID)

	reqCtx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	data, mimeType, err := h.tg.DownloadFile(reqCtx, fileID)
	if err != nil {
		h.logger.Error("photo download failed", "err", err)
		return h.tg.SendText(chatID, "❌ Could not download the photo.")
	}
	mimeType = media.NormalizeMimeType(mimeType, data)
	if len(data) == 0 || !media.IsImage(mimeType) {
		return h.replyError(chatID, studio.ErrInvalidImage)
	}

	// The current shot is only dropped once the new photo is usable.
	snap := sess.Snapshot()
	if busy(snap) {
		return h.tg.SendText(chatID, busyText)
	}
	if snap.State != studio.StateIdle {
		sess.Reset()
	}

	_ = h.tg.SendText(chatID, "✨ Teasing the hair and setting up the lasers...")

	opts := prompt.ParseCaption(caption)
	err = sess.SubmitImage(reqCtx, studio.ImageInput{
		Data:     data,
		MimeType: mimeType,
		Backdrop: opts.Backdrop,
		Note:     opts.Note,
	})
	if err != nil {
		return h.replyError(chatID, err)
	}

	snap = sess.Snapshot()
	if snap.State == studio.StateError {
		return h.tg.SendText(chatID, "❌ "+snap.Error+"\nSend another photo to try again.")
	}
	return h.tg.SendPhotoDataURL(chatID, snap.ImageURL,
		"Your 80s glamour shot! Reply with text to remix, /video <motion> to animate.")
}

func (h *Handler) handleRemix(ctx context.Context, chatID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sess := h.session(chatID)
	h.tg.SendTyping(chatID)

	reqCtx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	if err := sess.Remix(reqCtx, text); err != nil {
		return h.replyError(chatID, err)
	}

	snap := sess.Snapshot()
	if snap.EditError != "" {
		return h.tg.SendText(chatID, "❌ "+snap.EditError)
	}
	return h.tg.SendPhotoDataURL(chatID, snap.ImageURL, "Remixed: "+truncate(text, 200))
}

func (h *Handler) handleVideo(ctx context.Context, chatID int64, motion string) error {
	motion = strings.TrimSpace(motion)
	if motion == "" {
		return h.tg.SendText(chatID, "❌ Describe the motion.\nExample: /video she flips her hair and winks")
	}

	sess := h.session(chatID)
	snap := sess.Snapshot()
	if !snap.VideoDialogOpen || !snap.DialogHasKey {
		view, err := sess.OpenVideoDialog(ctx)
		if err != nil {
			return h.replyError(chatID, err)
		}
		if !view.HasKey {
			text := "🔑 Video needs an API key with video access. Send /key <api key>, then /video again."
			if view.MustReselectKey {
				text = "🔑 " + studio.AuthFailedMessage + "\nSend /key <api key>, then /video again."
			}
			return h.tg.SendText(chatID, text)
		}
	}

	h.tg.SendRecordingVideo(chatID)
	_ = h.tg.SendText(chatID, "🎬 Rolling the camera. This can take a few minutes...")

	reqCtx, cancel := context.WithTimeout(ctx, h.videoTimeout)
	defer cancel()

	if err := sess.GenerateVideo(reqCtx, motion); err != nil {
		return h.replyError(chatID, err)
	}

	snap = sess.Snapshot()
	switch {
	case snap.MustReselectKey && snap.VideoError != "":
		return h.tg.SendText(chatID, "🔑 "+snap.VideoError+"\nSend /key <api key>, then /video again.")
	case snap.VideoError != "":
		return h.tg.SendText(chatID, "❌ "+snap.VideoError)
	}
	return h.tg.SendVideoDataURL(chatID, snap.VideoURL, "Your glamour shot in motion! /download for the file, /reset to start over.")
}

func (h *Handler) handleKey(ctx context.Context, chatID int64, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return h.tg.SendText(chatID, "❌ Send the key after the command: /key <api key>")
	}

	sess := h.session(chatID)
	if !sess.Snapshot().VideoDialogOpen {
		if _, err := sess.OpenVideoDialog(ctx); err != nil {
			return h.replyError(chatID, err)
		}
	}

	view, err := sess.SelectKey(ctx, key)
	if err != nil {
		return h.replyError(chatID, err)
	}
	if !view.HasKey {
		return h.tg.SendText(chatID, "❌ The key was not accepted. Try another one.")
	}
	return h.tg.SendText(chatID, "✅ Key selected ("+credential.Mask(key)+"). Now send /video <motion>.")
}

func (h *Handler) handleDownload(chatID int64) error {
	asset, err := h.session(chatID).Download()
	if err != nil {
		return h.replyError(chatID, err)
	}
	return h.tg.SendAsset(chatID, asset)
}

func (h *Handler) replyError(chatID int64, err error) error {
	switch {
	case errors.Is(err, studio.ErrBusy):
		return h.tg.SendText(chatID, busyText)
	case errors.Is(err, studio.ErrNotReady):
		return h.tg.SendText(chatID, notReadyText(h.session(chatID).Snapshot()))
	case errors.Is(err, studio.ErrInvalidImage):
		return h.tg.SendText(chatID, "❌ That file is not an image. Send a photo.")
	case errors.Is(err, studio.ErrEmptyPrompt):
		return h.tg.SendText(chatID, "❌ The instruction is empty.")
	case errors.Is(err, studio.ErrKeyRequired):
		return h.tg.SendText(chatID, "🔑 Send /key <api key> first.")
	case errors.Is(err, credential.ErrInvalidKey):
		return h.tg.SendText(chatID, "❌ That does not look like an API key.")
	case errors.Is(err, studio.ErrReset):
		return nil
	}
	h.logger.Error("request failed", "chat_id", chatID, "err", err)
	return h.tg.SendText(chatID, "❌ "+studio.Message(err))
}

func (h *Handler) session(chatID int64) *studio.Session {
	return h.sessions.GetOrCreate(SessionID(chatID))
}

const busyText = "⏳ Still working on the last request, hang on."

func busy(snap studio.Snapshot) bool {
	return snap.State == studio.StateProcessing || snap.Regenerating || snap.GeneratingVideo
}

func notReadyText(snap studio.Snapshot) string {
	switch {
	case snap.VideoURL != "":
		return "🎬 This shot is already animated. /download it or /reset to start over."
	case snap.State == studio.StateError:
		return "❌ The last shot failed. Send another photo."
	case snap.State != studio.StateResult:
		return "📷 Send a photo first."
	}
	return "❌ Not available right now."
}

func statusText(snap studio.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", snap.State)
	// Each step adds a user and a model turn; the first step is the shot itself.
	fmt.Fprintf(&b, "Remixes: %d\n", max(snap.Turns/2-1, 0))
	if snap.VideoURL != "" {
		b.WriteString("Video: ready\n")
	}
	if snap.GeneratingVideo {
		b.WriteString("Video: rendering\n")
	}
	for _, msg := range []string{snap.Error, snap.EditError, snap.VideoError} {
		if msg != "" {
			b.WriteString("Last error: " + msg + "\n")
		}
	}
	if snap.MustReselectKey {
		b.WriteString("API key: select again with /key\n")
	}
	return strings.TrimSpace(b.String())
}

func backdropList() string {
	opts := prompt.Backdrops()
	keys := make([]string, 0, len(opts))
	for _, o := range opts {
		keys = append(keys, o.Key)
	}
	return strings.Join(keys, ", ")
}

func imageFileID(msg *tgbotapi.Message) (string, bool) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, true
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID, true
	}
	return "", false
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
