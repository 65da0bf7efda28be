package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"glamour-studio/internal/credential"
	"glamour-studio/internal/gemini"
	"glamour-studio/internal/media"
	"glamour-studio/internal/session"
	"glamour-studio/internal/studio"
)

type stubService struct {
	videoErr error
}

func (stubService) Start(_ context.Context, in studio.StartInput) (studio.Output, error) {
	return studio.Output{
		ImageURL: media.DataURL("image/png", []byte("glam")),
		History:  studio.History{{Role: "user", Parts: []gemini.Part{{Text: in.Backdrop}}}, {Role: "model"}},
	}, nil
}

func (stubService) Continue(_ context.Context, history studio.History, instruction string) (studio.Output, error) {
	out := append(studio.History(nil), history...)
	out = append(out, gemini.Content{Role: "user", Parts: []gemini.Part{{Text: instruction}}}, gemini.Content{Role: "model"})
	return studio.Output{ImageURL: media.DataURL("image/png", []byte("remixed")), History: out}, nil
}

func (s stubService) GenerateVideo(context.Context, studio.VideoInput) (studio.VideoOutput, error) {
	if s.videoErr != nil {
		return studio.VideoOutput{}, s.videoErr
	}
	return studio.VideoOutput{URL: media.DataURL("video/mp4", []byte("movie"))}, nil
}

func newTestServer(t *testing.T, svc studio.Service) *httptest.Server {
	t.Helper()
	store := session.NewStore(session.Options{New: func(id string) *studio.Session {
		return studio.NewSession(studio.Options{ID: id, Service: svc, Keys: credential.NewSession("")})
	}})
	srv := httptest.NewServer(New(Options{Sessions: store}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, wantStatus int, out any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, url, reader)
	req.Header.Set("content-type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: want status %d, got %d", method, url, wantStatus, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
}

type snapshot struct {
	ID              string `json:"id"`
	State           string `json:"state"`
	ImageURL        string `json:"image_url"`
	VideoURL        string `json:"video_url"`
	Turns           int    `json:"turns"`
	VideoError      string `json:"video_error"`
	MustReselectKey bool   `json:"must_reselect_key"`
	VideoDialogOpen bool   `json:"video_dialog_open"`
	PreviewOpen     bool   `json:"preview_open"`
}

type dialogReply struct {
	Dialog  studio.DialogView `json:"dialog"`
	Session snapshot          `json:"session"`
}

func upload(t *testing.T, url string, data []byte, contentType, backdrop string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="me.png"`)
	h.Set("Content-Type", contentType)
	part, _ := mw.CreatePart(h)
	_, _ = part.Write(data)
	_ = mw.WriteField("backdrop", backdrop)
	_ = mw.Close()

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func TestSessionRoundTrip(t *testing.T) {
	srv := newTestServer(t, stubService{})

	var created snapshot
	doJSON(t, http.MethodPost, srv.URL+"/api/sessions", nil, http.StatusCreated, &created)
	if created.State != "idle" || created.ID == "" {
		t.Fatalf("unexpected created session %+v", created)
	}
	base := srv.URL + "/api/sessions/" + created.ID

	resp := upload(t, base+"/image", []byte("\x89PNG\r\n\x1a\nrest"), "image/png", "smoke")
	var uploaded snapshot
	_ = json.NewDecoder(resp.Body).Decode(&uploaded)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || uploaded.State != "result" || uploaded.Turns != 2 {
		t.Fatalf("unexpected upload result %d %+v", resp.StatusCode, uploaded)
	}

	var remixed snapshot
	doJSON(t, http.MethodPost, base+"/remix", promptRequest{Prompt: "add sunglasses"}, http.StatusOK, &remixed)
	if remixed.Turns != 4 || remixed.ImageURL != media.DataURL("image/png", []byte("remixed")) {
		t.Fatalf("unexpected remix result %+v", remixed)
	}

	var opened, closed snapshot
	doJSON(t, http.MethodPost, base+"/preview", nil, http.StatusOK, &opened)
	if !opened.PreviewOpen {
		t.Fatal("want preview open")
	}
	doJSON(t, http.MethodDelete, base+"/preview", nil, http.StatusOK, &closed)
	if closed.PreviewOpen {
		t.Fatal("want preview closed")
	}

	dl, err := http.Get(base + "/download")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer dl.Body.Close()
	if cd := dl.Header.Get("content-disposition"); !strings.Contains(cd, "glamour-shot-80s.png") {
		t.Errorf("unexpected content disposition %q", cd)
	}

	var reset snapshot
	doJSON(t, http.MethodPost, base+"/reset", nil, http.StatusOK, &reset)
	if reset.State != "idle" || reset.Turns != 0 || reset.ImageURL != "" {
		t.Fatalf("unexpected reset result %+v", reset)
	}
}

func TestVideoFlow(t *testing.T) {
	srv := newTestServer(t, stubService{})

	var created snapshot
	doJSON(t, http.MethodPost, srv.URL+"/api/sessions", nil, http.StatusCreated, &created)
	base := srv.URL + "/api/sessions/" + created.ID
	upload(t, base+"/image", []byte("\x89PNG\r\n\x1a\nrest"), "image/png", "").Body.Close()

	var opened dialogReply
	doJSON(t, http.MethodPost, base+"/video/dialog", nil, http.StatusOK, &opened)
	if !opened.Dialog.Open || opened.Dialog.HasKey {
		t.Fatalf("unexpected dialog %+v", opened.Dialog)
	}

	doJSON(t, http.MethodPost, base+"/video", promptRequest{Prompt: "wink"}, http.StatusPreconditionRequired, nil)
	doJSON(t, http.MethodPost, base+"/video/key", keyRequest{APIKey: "bad key"}, http.StatusBadRequest, nil)
	var selected dialogReply
	doJSON(t, http.MethodPost, base+"/video/key", keyRequest{APIKey: "AIzaTest"}, http.StatusOK, &selected)
	if !selected.Dialog.HasKey {
		t.Fatal("want key confirmed")
	}

	var got snapshot
	doJSON(t, http.MethodPost, base+"/video", promptRequest{Prompt: "wink"}, http.StatusOK, &got)
	if got.VideoURL == "" || got.VideoDialogOpen {
		t.Fatalf("unexpected video result %+v", got)
	}

	doJSON(t, http.MethodPost, base+"/remix", promptRequest{Prompt: "more"}, http.StatusConflict, nil)

	dl, err := http.Get(base + "/download")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer dl.Body.Close()
	if dl.Header.Get("content-type") != "video/mp4" {
		t.Errorf("want video download, got %q", dl.Header.Get("content-type"))
	}
}

func TestVideoAuthFailureReopensDialog(t *testing.T) {
	srv := newTestServer(t, stubService{videoErr: errors.New("404 Requested entity was not found")})

	var created snapshot
	doJSON(t, http.MethodPost, srv.URL+"/api/sessions", nil, http.StatusCreated, &created)
	base := srv.URL + "/api/sessions/" + created.ID
	upload(t, base+"/image", []byte("\x89PNG\r\n\x1a\nrest"), "image/png", "").Body.Close()

	doJSON(t, http.MethodPost, base+"/video/dialog", nil, http.StatusOK, nil)
	doJSON(t, http.MethodPost, base+"/video/key", keyRequest{APIKey: "AIzaTest"}, http.StatusOK, nil)

	var got snapshot
	doJSON(t, http.MethodPost, base+"/video", promptRequest{Prompt: "wink"}, http.StatusOK, &got)
	if !got.MustReselectKey || !got.VideoDialogOpen || got.VideoError != studio.AuthFailedMessage {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestErrors(t *testing.T) {
	srv := newTestServer(t, stubService{})

	doJSON(t, http.MethodGet, srv.URL+"/api/sessions/missing", nil, http.StatusNotFound, nil)

	var created snapshot
	doJSON(t, http.MethodPost, srv.URL+"/api/sessions", nil, http.StatusCreated, &created)
	base := srv.URL + "/api/sessions/" + created.ID

	doJSON(t, http.MethodPost, base+"/remix", promptRequest{Prompt: "x"}, http.StatusConflict, nil)
	doJSON(t, http.MethodGet, base+"/download", nil, http.StatusConflict, nil)

	resp := upload(t, base+"/image", []byte("just text"), "text/plain", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400 for non-image upload, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, base+"/remix", strings.NewReader("{"))
	bad, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("remix: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400 for bad json, got %d", bad.StatusCode)
	}

	doJSON(t, http.MethodDelete, base, nil, http.StatusNoContent, nil)
	doJSON(t, http.MethodGet, base, nil, http.StatusNotFound, nil)
}

func TestStaticAndHealth(t *testing.T) {
	srv := newTestServer(t, stubService{})

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("content-type"), "text/html") {
		t.Fatalf("unexpected index response %d %q", resp.StatusCode, resp.Header.Get("content-type"))
	}
	for _, want := range []string{
		"APPLYING BLUE EYESHADOW...",
		"GETTING YOUR GLAMOUR SHOT READY...",
		"setInterval(tick, 1500)",
		"s.regenerating",
		`id="regenerating"`,
		`form.append('note'`,
	} {
		if !bytes.Contains(page, []byte(want)) {
			t.Fatalf("index page missing %q", want)
		}
	}

	var health map[string]any
	doJSON(t, http.MethodGet, srv.URL+"/healthz", nil, http.StatusOK, &health)
	if health["status"] != "ok" {
		t.Fatalf("unexpected health %+v", health)
	}
}
