package studio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"glamour-studio/internal/credential"
	"glamour-studio/internal/gemini"
	"glamour-studio/internal/media"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func turn(text string) gemini.Content {
	return gemini.Content{Role: "user", Parts: []gemini.Part{{Text: text}}}
}

type fakeService struct {
	mu sync.Mutex

	startOut    Output
	startErr    error
	continueOut Output
	continueErr error
	videoOut    VideoOutput
	videoErr    error

	// block, when set, holds calls until it is closed or the context ends.
	block chan struct{}

	starts     []StartInput
	continues  []string
	videos     []VideoInput
	gotHistory History
}

func (f *fakeService) wait(ctx context.Context) error {
	if f.block == nil {
		return nil
	}
	select {
	case <-f.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeService) Start(ctx context.Context, in StartInput) (Output, error) {
	f.mu.Lock()
	f.starts = append(f.starts, in)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return Output{}, err
	}
	return f.startOut, f.startErr
}

func (f *fakeService) Continue(ctx context.Context, history History, instruction string) (Output, error) {
	f.mu.Lock()
	f.continues = append(f.continues, instruction)
	f.gotHistory = history
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return Output{}, err
	}
	return f.continueOut, f.continueErr
}

func (f *fakeService) GenerateVideo(ctx context.Context, in VideoInput) (VideoOutput, error) {
	f.mu.Lock()
	f.videos = append(f.videos, in)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return VideoOutput{}, err
	}
	return f.videoOut, f.videoErr
}

type fakeKeys struct {
	has      bool
	checkErr error
	selected string
	checks   int
}

func (k *fakeKeys) HasSelectedKey(context.Context) (bool, error) {
	k.checks++
	return k.has, k.checkErr
}

func (k *fakeKeys) SelectKey(_ context.Context, key string) error {
	if _, err := credential.Validate(key); err != nil {
		return err
	}
	k.selected = key
	k.has = true
	return nil
}

func (k *fakeKeys) Key() string { return k.selected }

func newResultSession(t *testing.T, svc *fakeService, keys credential.Selector) *Session {
	t.Helper()
	if svc.startOut.ImageURL == "" {
		svc.startOut = Output{ImageURL: "u1", History: History{turn("turn1")}}
	}
	s := NewSession(Options{ID: "s1", Service: svc, Keys: keys})
	if err := s.SubmitImage(context.Background(), ImageInput{Data: pngBytes, MimeType: "image/png"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.Snapshot().State != StateResult {
		t.Fatalf("want result state, got %s", s.Snapshot().State)
	}
	return s
}

func TestSubmitImageSuccess(t *testing.T) {
	svc := &fakeService{startOut: Output{ImageURL: "u1", History: History{turn("turn1")}}}
	s := NewSession(Options{ID: "s1", Service: svc, Backdrop: "neon"})

	if err := s.SubmitImage(context.Background(), ImageInput{Data: []byte("abc"), MimeType: "image/png", Note: " pearls "}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap := s.Snapshot()
	if snap.State != StateResult || snap.ImageURL != "u1" || snap.Turns != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(svc.starts) != 1 {
		t.Fatalf("want exactly one start call, got %d", len(svc.starts))
	}
	if svc.starts[0].MimeType != "image/png" || svc.starts[0].Backdrop != "neon" || svc.starts[0].Note != "pearls" {
		t.Errorf("unexpected start input %+v", svc.starts[0])
	}
	if !snap.CanRemix || !snap.CanAnimate {
		t.Error("want remix and animate available")
	}
}

func TestSubmitImageRejectsInvalidInput(t *testing.T) {
	svc := &fakeService{}
	s := NewSession(Options{Service: svc})

	if err := s.SubmitImage(context.Background(), ImageInput{}); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("want ErrInvalidImage, got %v", err)
	}
	if err := s.SubmitImage(context.Background(), ImageInput{Data: []byte("hello"), MimeType: "text/plain"}); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("want ErrInvalidImage for text, got %v", err)
	}
	if s.Snapshot().State != StateIdle || len(svc.starts) != 0 {
		t.Fatal("invalid input must not change state or call the service")
	}
}

func TestSubmitImageFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "message", err: errors.New("quota exceeded"), want: "GENERATION FAILED: quota exceeded"},
		{name: "empty message", err: errors.New(""), want: "GENERATION FAILED: An unknown error occurred."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(Options{Service: &fakeService{startErr: tt.err}})
			if err := s.SubmitImage(context.Background(), ImageInput{Data: pngBytes}); err != nil {
				t.Fatalf("submit: %v", err)
			}
			snap := s.Snapshot()
			if snap.State != StateError {
				t.Fatalf("want error state, got %s", snap.State)
			}
			if snap.Error != tt.want {
				t.Errorf("want %q, got %q", tt.want, snap.Error)
			}
			if !strings.HasPrefix(snap.Error, "GENERATION FAILED: ") {
				t.Error("missing prefix")
			}
		})
	}
}

func TestSubmitImageOnlyFromIdle(t *testing.T) {
	s := newResultSession(t, &fakeService{}, nil)
	if err := s.SubmitImage(context.Background(), ImageInput{Data: pngBytes}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("want ErrNotReady, got %v", err)
	}
}

func TestRemixSuccess(t *testing.T) {
	svc := &fakeService{continueOut: Output{ImageURL: "u2", History: History{turn("turn1"), turn("turn2")}}}
	s := newResultSession(t, svc, nil)

	if err := s.Remix(context.Background(), "  add sunglasses "); err != nil {
		t.Fatalf("remix: %v", err)
	}

	snap := s.Snapshot()
	if snap.ImageURL != "u2" || snap.Turns != 2 || snap.EditError != "" || snap.State != StateResult {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if svc.continues[0] != "add sunglasses" {
		t.Errorf("want trimmed instruction, got %q", svc.continues[0])
	}
	if len(svc.gotHistory) != 1 {
		t.Errorf("want prior history passed, got %d turns", len(svc.gotHistory))
	}
}

func TestRemixFailureKeepsResult(t *testing.T) {
	svc := &fakeService{continueErr: errors.New("safety block")}
	s := newResultSession(t, svc, nil)

	if err := s.Remix(context.Background(), "add sunglasses"); err != nil {
		t.Fatalf("remix: %v", err)
	}

	snap := s.Snapshot()
	if snap.State != StateResult || snap.ImageURL != "u1" || snap.Turns != 1 {
		t.Fatalf("result must be preserved, got %+v", snap)
	}
	if snap.EditError != "REMIX FAILED: safety block" {
		t.Errorf("unexpected edit error %q", snap.EditError)
	}

	svc.continueErr = nil
	svc.continueOut = Output{ImageURL: "u2", History: History{turn("a"), turn("b")}}
	if err := s.Remix(context.Background(), "try again"); err != nil {
		t.Fatalf("remix: %v", err)
	}
	if s.Snapshot().EditError != "" {
		t.Error("edit error must clear on the next attempt")
	}
}

func TestRemixPreconditions(t *testing.T) {
	s := NewSession(Options{Service: &fakeService{}})
	if err := s.Remix(context.Background(), "x"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("want ErrNotReady from idle, got %v", err)
	}

	s = newResultSession(t, &fakeService{}, nil)
	if err := s.Remix(context.Background(), "   "); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("want ErrEmptyPrompt, got %v", err)
	}
}

func TestRemixWhileBusy(t *testing.T) {
	svc := &fakeService{continueOut: Output{ImageURL: "u2", History: History{turn("a"), turn("b")}}}
	s := newResultSession(t, svc, nil)
	svc.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- s.Remix(context.Background(), "first") }()

	waitFor(t, func() bool { return s.Snapshot().Regenerating })

	if err := s.Remix(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
	if _, err := s.OpenVideoDialog(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy for video dialog, got %v", err)
	}

	close(svc.block)
	if err := <-done; err != nil {
		t.Fatalf("remix: %v", err)
	}
	if s.Snapshot().ImageURL != "u2" {
		t.Fatal("want remix applied")
	}
}

func TestVideoAuthFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "substring", err: errors.New("404 Requested entity was not found")},
		{name: "typed", err: &gemini.APIError{StatusCode: 404, Status: "NOT_FOUND", Message: "nope"}},
		{name: "wrapped entity", err: errors.New("veo: Requested entity was not found.")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := &fakeKeys{has: true, selected: "k"}
			svc := &fakeService{videoErr: tt.err}
			s := newResultSession(t, svc, keys)

			openDialog(t, s, true)
			if err := s.GenerateVideo(context.Background(), "wink"); err != nil {
				t.Fatalf("video: %v", err)
			}

			snap := s.Snapshot()
			if snap.VideoError != "Authorization failed. Please select a valid API key." {
				t.Errorf("unexpected video error %q", snap.VideoError)
			}
			if !snap.MustReselectKey || !snap.VideoDialogOpen {
				t.Errorf("want reselect flag and reopened dialog, got %+v", snap)
			}

			checks := keys.checks
			view, err := s.OpenVideoDialog(context.Background())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if view.HasKey || keys.checks != checks {
				t.Error("reselect must hide the earlier selection without querying")
			}
			if err := s.GenerateVideo(context.Background(), "wink"); !errors.Is(err, ErrKeyRequired) {
				t.Fatalf("want ErrKeyRequired, got %v", err)
			}
		})
	}
}

func TestVideoOtherFailure(t *testing.T) {
	keys := &fakeKeys{has: true, selected: "k"}
	svc := &fakeService{videoErr: errors.New("quota exceeded")}
	s := newResultSession(t, svc, keys)

	openDialog(t, s, true)
	if err := s.GenerateVideo(context.Background(), "wink"); err != nil {
		t.Fatalf("video: %v", err)
	}

	snap := s.Snapshot()
	if snap.VideoError != "VIDEO FAILED: quota exceeded" {
		t.Errorf("unexpected video error %q", snap.VideoError)
	}
	if snap.MustReselectKey || snap.VideoDialogOpen {
		t.Errorf("generic failure must not touch reselect or reopen dialog: %+v", snap)
	}
}

func TestVideoOtherFailureLeavesReselectFlag(t *testing.T) {
	keys := &fakeKeys{has: true, selected: "k"}
	svc := &fakeService{videoErr: errors.New("Requested entity was not found")}
	s := newResultSession(t, svc, keys)

	openDialog(t, s, true)
	_ = s.GenerateVideo(context.Background(), "wink")

	if _, err := s.SelectKey(context.Background(), "new-key"); err != nil {
		t.Fatalf("select: %v", err)
	}
	svc.videoErr = errors.New("quota exceeded")
	if err := s.GenerateVideo(context.Background(), "wink"); err != nil {
		t.Fatalf("video: %v", err)
	}
	if !s.Snapshot().MustReselectKey {
		t.Error("generic failure must leave reselect flag untouched")
	}
}

func TestVideoSuccess(t *testing.T) {
	keys := &fakeKeys{has: false}
	svc := &fakeService{videoOut: VideoOutput{URL: media.DataURL("video/mp4", []byte("movie"))}}
	s := newResultSession(t, svc, keys)

	view := openDialog(t, s, false)
	if view.HasKey {
		t.Fatal("want no key yet")
	}
	if err := s.GenerateVideo(context.Background(), "wink"); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("want ErrKeyRequired, got %v", err)
	}

	checks := keys.checks
	view, err := s.SelectKey(context.Background(), "user-key")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !view.HasKey || keys.checks != checks+1 {
		t.Fatal("selection must be confirmed by querying the selector")
	}

	if err := s.GenerateVideo(context.Background(), " wink "); err != nil {
		t.Fatalf("video: %v", err)
	}

	snap := s.Snapshot()
	if snap.VideoURL == "" || snap.MustReselectKey || snap.VideoDialogOpen || snap.GeneratingVideo {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.CanRemix || snap.CanAnimate {
		t.Error("video must hide remix and animate")
	}
	if svc.videos[0].ImageURL != "u1" || svc.videos[0].Prompt != "wink" || svc.videos[0].APIKey != "user-key" {
		t.Errorf("unexpected video input %+v", svc.videos[0])
	}
	if err := s.Remix(context.Background(), "more"); !errors.Is(err, ErrNotReady) {
		t.Errorf("want remix rejected with video, got %v", err)
	}

	asset, err := s.Download()
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if asset.Name != "glamour-shot-80s.mp4" || string(asset.Data) != "movie" {
		t.Errorf("unexpected asset %+v", asset)
	}
}

func TestSelectKeyErrors(t *testing.T) {
	s := newResultSession(t, &fakeService{}, &fakeKeys{})

	if _, err := s.SelectKey(context.Background(), "k"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("want ErrNotReady with closed dialog, got %v", err)
	}
	openDialog(t, s, false)
	if _, err := s.SelectKey(context.Background(), "bad key"); !errors.Is(err, credential.ErrInvalidKey) {
		t.Fatalf("want ErrInvalidKey, got %v", err)
	}
}

func TestKeyCheckErrorCountsAsNoKey(t *testing.T) {
	s := newResultSession(t, &fakeService{}, &fakeKeys{has: true, checkErr: errors.New("boom")})
	view := openDialog(t, s, false)
	if view.HasKey {
		t.Fatal("want no key on check error")
	}
}

func TestDownloadImage(t *testing.T) {
	svc := &fakeService{startOut: Output{ImageURL: media.DataURL("image/png", []byte("img")), History: History{turn("t")}}}
	s := newResultSession(t, svc, nil)

	asset, err := s.Download()
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if asset.Name != "glamour-shot-80s.png" || asset.MimeType != "image/png" {
		t.Errorf("unexpected asset %+v", asset)
	}

	s.Reset()
	if _, err := s.Download(); !errors.Is(err, ErrNotReady) {
		t.Errorf("want ErrNotReady after reset, got %v", err)
	}
}

func TestResetClearsEverything(t *testing.T) {
	keys := &fakeKeys{has: true, selected: "k"}
	svc := &fakeService{continueErr: errors.New("x"), videoErr: errors.New("404")}
	s := newResultSession(t, svc, keys)

	_ = s.Remix(context.Background(), "x")
	openDialog(t, s, true)
	_ = s.GenerateVideo(context.Background(), "wink")
	_ = s.OpenPreview()

	s.Reset()

	snap := s.Snapshot()
	want := Snapshot{ID: "s1", State: StateIdle}
	if snap != want {
		t.Fatalf("want cleared snapshot, got %+v", snap)
	}
	if len(s.History()) != 0 {
		t.Fatal("want empty history")
	}
}

func TestResetFromError(t *testing.T) {
	s := NewSession(Options{Service: &fakeService{startErr: errors.New("x")}})
	_ = s.SubmitImage(context.Background(), ImageInput{Data: pngBytes})
	s.Reset()
	if snap := s.Snapshot(); snap.State != StateIdle || snap.Error != "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestResetDiscardsInFlightResult(t *testing.T) {
	svc := &fakeService{
		startOut: Output{ImageURL: "late", History: History{turn("t")}},
		block:    make(chan struct{}),
	}
	s := NewSession(Options{Service: svc})

	done := make(chan error, 1)
	go func() { done <- s.SubmitImage(context.Background(), ImageInput{Data: pngBytes}) }()

	waitFor(t, func() bool { return s.Snapshot().State == StateProcessing })
	s.Reset()

	if err := <-done; !errors.Is(err, ErrReset) {
		t.Fatalf("want ErrReset, got %v", err)
	}
	if snap := s.Snapshot(); snap.State != StateIdle || snap.ImageURL != "" {
		t.Fatalf("late result must be discarded, got %+v", snap)
	}
}

func TestPreview(t *testing.T) {
	s := NewSession(Options{Service: &fakeService{}})
	if err := s.OpenPreview(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("want ErrNotReady, got %v", err)
	}

	s = newResultSession(t, &fakeService{}, nil)
	if err := s.OpenPreview(); err != nil {
		t.Fatalf("open preview: %v", err)
	}
	if !s.Snapshot().PreviewOpen {
		t.Fatal("want preview open")
	}
	s.ClosePreview()
	if s.Snapshot().PreviewOpen {
		t.Fatal("want preview closed")
	}
}

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: errors.New("quota exceeded"), want: false},
		{err: errors.New("status 404"), want: true},
		{err: errors.New("Requested entity was not found."), want: true},
		{err: &gemini.APIError{StatusCode: 403, Status: "403 Forbidden", Message: "denied"}, want: false},
		{err: &gemini.APIError{StatusCode: 500, Status: "NOT_FOUND", Message: "x"}, want: true},
	}
	for _, tt := range tests {
		if got := IsAuthFailure(tt.err); got != tt.want {
			t.Errorf("IsAuthFailure(%v): want %v, got %v", tt.err, tt.want, got)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateResult.String() != "result" || State(42).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
}

func openDialog(t *testing.T, s *Session, wantKey bool) DialogView {
	t.Helper()
	view, err := s.OpenVideoDialog(context.Background())
	if err != nil {
		t.Fatalf("open dialog: %v", err)
	}
	if !view.Open {
		t.Fatal("want dialog open")
	}
	if wantKey && !view.HasKey {
		t.Fatal("want key selected")
	}
	return view
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
