package studio

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"glamour-studio/internal/credential"
	"glamour-studio/internal/media"
)

type Options struct {
	ID       string
	Service  Service
	Keys     credential.Selector
	Logger   *slog.Logger
	Backdrop string
}

type ImageInput struct {
	Data     []byte
	MimeType string
	// Backdrop overrides the session default for this upload.
	Backdrop string
	Note     string
}

// Session is one user's glamour shot flow. All methods are safe for
// concurrent use; at most one remote request runs at a time.
type Session struct {
	id       string
	service  Service
	keys     credential.Selector
	logger   *slog.Logger
	backdrop string

	mu      sync.Mutex
	state   State
	history History
	image   string
	video   string

	errMsg   string
	editErr  string
	videoErr string

	regenerating    bool
	generatingVideo bool
	mustReselectKey bool
	videoDialogOpen bool
	dialogHasKey    bool
	previewOpen     bool

	epoch        uint64
	cancel       context.CancelFunc
	lastActivity time.Time
}

func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	keys := opts.Keys
	if keys == nil {
		keys = credential.NewStatic("")
	}

	return &Session{
		id:           opts.ID,
		service:      opts.Service,
		keys:         keys,
		logger:       logger.With("session", opts.ID),
		backdrop:     opts.Backdrop,
		state:        StateIdle,
		lastActivity: time.Now(),
	}
}

func (s *Session) ID() string {
	return s.id
}

// SubmitImage starts a new glamour shot from an uploaded photo. A remote
// failure is recorded in the session and moves it to StateError; the returned
// error only reports requests that were not accepted.
func (s *Session) SubmitImage(ctx context.Context, in ImageInput) error {
	if len(in.Data) == 0 {
		return ErrInvalidImage
	}
	mimeType := media.NormalizeMimeType(in.MimeType, in.Data)
	if !media.IsImage(mimeType) {
		return ErrInvalidImage
	}
	backdrop := strings.TrimSpace(in.Backdrop)
	if backdrop == "" {
		backdrop = s.backdrop
	}

	s.mu.Lock()
	if s.busyLocked() {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrNotReady
	}
	s.state = StateProcessing
	s.errMsg = ""
	s.image = ""
	s.history = nil
	epoch, reqCtx := s.beginLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("generation started", "mime", mimeType, "bytes", len(in.Data), "backdrop", backdrop)
	start := time.Now()

	out, err := s.service.Start(reqCtx, StartInput{Data: in.Data, MimeType: mimeType, Backdrop: backdrop, Note: strings.TrimSpace(in.Note)})
	if err == nil && out.ImageURL == "" {
		err = errNoImage
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finishLocked(epoch) {
		s.logger.Info("generation result discarded after reset")
		return ErrReset
	}

	if err != nil {
		s.logger.Error("generation failed", "err", err, "dur_ms", time.Since(start).Milliseconds())
		s.errMsg = generationFailedPrefix + Message(err)
		s.state = StateError
		return nil
	}

	s.image = out.ImageURL
	s.history = out.History
	s.state = StateResult
	s.logger.Info("generation done", "turns", len(out.History), "dur_ms", time.Since(start).Milliseconds())
	return nil
}

// Remix applies a follow-up instruction to the current image. A failure is
// recorded as the edit error and keeps the current result.
func (s *Session) Remix(ctx context.Context, instruction string) error {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return ErrEmptyPrompt
	}

	s.mu.Lock()
	if s.busyLocked() {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.state != StateResult || len(s.history) == 0 || s.video != "" {
		s.mu.Unlock()
		return ErrNotReady
	}
	s.regenerating = true
	s.editErr = ""
	history := s.history
	epoch, reqCtx := s.beginLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("remix started", "turns", len(history))

	out, err := s.service.Continue(reqCtx, history, instruction)
	if err == nil && out.ImageURL == "" {
		err = errNoImage
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finishLocked(epoch) {
		s.logger.Info("remix result discarded after reset")
		return ErrReset
	}
	s.regenerating = false

	if err != nil {
		s.logger.Error("remix failed", "err", err)
		s.editErr = remixFailedPrefix + Message(err)
		return nil
	}

	s.image = out.ImageURL
	s.history = out.History
	s.logger.Info("remix done", "turns", len(out.History))
	return nil
}

type DialogView struct {
	Open            bool `json:"open"`
	HasKey          bool `json:"has_key"`
	MustReselectKey bool `json:"must_reselect_key"`
}

// OpenVideoDialog shows the video prompt dialog and reports whether a key is
// selected. A pending reselection hides any earlier selection.
func (s *Session) OpenVideoDialog(ctx context.Context) (DialogView, error) {
	s.mu.Lock()
	if s.busyLocked() {
		s.mu.Unlock()
		return DialogView{}, ErrBusy
	}
	if s.state != StateResult || s.image == "" || s.video != "" {
		s.mu.Unlock()
		return DialogView{}, ErrNotReady
	}
	s.videoDialogOpen = true
	s.dialogHasKey = false
	reselect := s.mustReselectKey
	s.mu.Unlock()

	hasKey := false
	if !reselect {
		hasKey = s.checkKey(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videoDialogOpen {
		s.dialogHasKey = hasKey
	}
	return s.dialogViewLocked(), nil
}

// SelectKey stores a key for video synthesis and checks it was accepted.
func (s *Session) SelectKey(ctx context.Context, key string) (DialogView, error) {
	s.mu.Lock()
	if !s.videoDialogOpen {
		s.mu.Unlock()
		return DialogView{}, ErrNotReady
	}
	s.mu.Unlock()

	if err := s.keys.SelectKey(ctx, key); err != nil {
		s.logger.Warn("key selection failed", "err", err)
		return DialogView{}, err
	}
	hasKey := s.checkKey(ctx)
	s.logger.Info("key selected", "key", credential.Mask(s.keys.Key()), "confirmed", hasKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videoDialogOpen {
		s.dialogHasKey = hasKey
	}
	return s.dialogViewLocked(), nil
}

func (s *Session) CloseVideoDialog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoDialogOpen = false
	s.dialogHasKey = false
	s.touchLocked()
}

// GenerateVideo animates the current image. Key problems reopen the dialog
// and require a new key selection.
func (s *Session) GenerateVideo(ctx context.Context, motion string) error {
	motion = strings.TrimSpace(motion)
	if motion == "" {
		return ErrEmptyPrompt
	}

	s.mu.Lock()
	if s.busyLocked() {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.state != StateResult || s.image == "" || !s.videoDialogOpen {
		s.mu.Unlock()
		return ErrNotReady
	}
	if !s.dialogHasKey {
		s.mu.Unlock()
		return ErrKeyRequired
	}
	s.videoDialogOpen = false
	s.dialogHasKey = false
	s.generatingVideo = true
	s.videoErr = ""
	image := s.image
	epoch, reqCtx := s.beginLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("video started")
	start := time.Now()

	out, err := s.service.GenerateVideo(reqCtx, VideoInput{ImageURL: image, Prompt: motion, APIKey: s.keys.Key()})
	if err == nil && out.URL == "" {
		err = errNoVideo
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finishLocked(epoch) {
		s.logger.Info("video result discarded after reset")
		return ErrReset
	}
	s.generatingVideo = false

	if err != nil {
		s.logger.Error("video failed", "err", err, "dur_ms", time.Since(start).Milliseconds())
		if IsAuthFailure(err) {
			s.mustReselectKey = true
			s.videoErr = AuthFailedMessage
			s.videoDialogOpen = true
			s.dialogHasKey = false
			return nil
		}
		s.videoErr = videoFailedPrefix + Message(err)
		return nil
	}

	s.video = out.URL
	s.mustReselectKey = false
	s.logger.Info("video done", "dur_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *Session) OpenPreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateResult || s.image == "" {
		return ErrNotReady
	}
	s.previewOpen = true
	s.touchLocked()
	return nil
}

func (s *Session) ClosePreview() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previewOpen = false
	s.touchLocked()
}

// Download returns the video when one exists, otherwise the image.
func (s *Session) Download() (media.Asset, error) {
	s.mu.Lock()
	video, image := s.video, s.image
	s.touchLocked()
	s.mu.Unlock()

	switch {
	case video != "":
		return media.NewAsset(video, "video/mp4")
	case image != "":
		return media.NewAsset(image, "image/png")
	}
	return media.Asset{}, ErrNotReady
}

// Reset returns to StateIdle and clears everything the session produced.
// A request still in flight is cancelled and its result dropped.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.epoch++

	s.state = StateIdle
	s.history = nil
	s.image = ""
	s.video = ""
	s.errMsg = ""
	s.editErr = ""
	s.videoErr = ""
	s.regenerating = false
	s.generatingVideo = false
	s.mustReselectKey = false
	s.videoDialogOpen = false
	s.dialogHasKey = false
	s.previewOpen = false
	s.touchLocked()

	s.logger.Info("session reset")
}

type Snapshot struct {
	ID              string `json:"id"`
	State           State  `json:"state"`
	ImageURL        string `json:"image_url,omitempty"`
	VideoURL        string `json:"video_url,omitempty"`
	Turns           int    `json:"turns"`
	Error           string `json:"error,omitempty"`
	EditError       string `json:"edit_error,omitempty"`
	VideoError      string `json:"video_error,omitempty"`
	Regenerating    bool   `json:"regenerating"`
	GeneratingVideo bool   `json:"generating_video"`
	MustReselectKey bool   `json:"must_reselect_key"`
	VideoDialogOpen bool   `json:"video_dialog_open"`
	DialogHasKey    bool   `json:"dialog_has_key"`
	PreviewOpen     bool   `json:"preview_open"`
	CanRemix        bool   `json:"can_remix"`
	CanAnimate      bool   `json:"can_animate"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := s.state == StateResult && s.image != "" && !s.busyLocked()
	return Snapshot{
		ID:              s.id,
		State:           s.state,
		ImageURL:        s.image,
		VideoURL:        s.video,
		Turns:           len(s.history),
		Error:           s.errMsg,
		EditError:       s.editErr,
		VideoError:      s.videoErr,
		Regenerating:    s.regenerating,
		GeneratingVideo: s.generatingVideo,
		MustReselectKey: s.mustReselectKey,
		VideoDialogOpen: s.videoDialogOpen,
		DialogHasKey:    s.dialogHasKey,
		PreviewOpen:     s.previewOpen,
		CanRemix:        ready && s.video == "" && len(s.history) > 0,
		CanAnimate:      ready && s.video == "",
	}
}

// History returns the current conversation context.
func (s *Session) History() History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(History(nil), s.history...)
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Busy reports whether a generation, remix or video request is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busyLocked()
}

// Close cancels any request in flight.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.epoch++
}

func (s *Session) checkKey(ctx context.Context) bool {
	ok, err := s.keys.HasSelectedKey(ctx)
	if err != nil {
		s.logger.Warn("key check failed", "err", err)
		return false
	}
	return ok
}

func (s *Session) busyLocked() bool {
	return s.state == StateProcessing || s.regenerating || s.generatingVideo
}

func (s *Session) beginLocked(ctx context.Context) (uint64, context.Context) {
	reqCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.touchLocked()
	return s.epoch, reqCtx
}

// finishLocked releases the request context and reports whether the result
// still belongs to the current epoch.
func (s *Session) finishLocked(epoch uint64) bool {
	if s.epoch != epoch {
		return false
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.touchLocked()
	return true
}

func (s *Session) dialogViewLocked() DialogView {
	return DialogView{
		Open:            s.videoDialogOpen,
		HasKey:          s.dialogHasKey,
		MustReselectKey: s.mustReselectKey,
	}
}

func (s *Session) touchLocked() {
	s.lastActivity = time.Now()
}
