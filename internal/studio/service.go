package studio

import (
	"context"
	"encoding/base64"

	"glamour-studio/internal/gemini"
	"glamour-studio/internal/media"
	"glamour-studio/internal/prompt"
)

// History is the conversation context of one session. It is replaced as a
// whole after every successful step.
type History = []gemini.Content

type StartInput struct {
	Data     []byte
	MimeType string
	Backdrop string
	Note     string
}

type Output struct {
	ImageURL string
	History  History
}

type VideoInput struct {
	ImageURL string
	Prompt   string
	APIKey   string
}

type VideoOutput struct {
	URL string
}

// Service performs the remote work behind a session.
type Service interface {
	Start(ctx context.Context, in StartInput) (Output, error)
	Continue(ctx context.Context, history History, instruction string) (Output, error)
	GenerateVideo(ctx context.Context, in VideoInput) (VideoOutput, error)
}

// GeminiService runs sessions against the Gemini API.
type GeminiService struct {
	client *gemini.Client
}

func NewGeminiService(client *gemini.Client) *GeminiService {
	return &GeminiService{client: client}
}

func (g *GeminiService) Start(ctx context.Context, in StartInput) (Output, error) {
	turn, err := g.client.StartSession(ctx, gemini.StartRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(in.Data),
		MimeType:    in.MimeType,
		Prompt:      prompt.BuildGlamour(prompt.Options{Backdrop: in.Backdrop, Note: in.Note}),
	})
	if err != nil {
		return Output{}, err
	}
	return Output{ImageURL: turn.ImageURL, History: turn.History}, nil
}

func (g *GeminiService) Continue(ctx context.Context, history History, instruction string) (Output, error) {
	turn, err := g.client.ContinueSession(ctx, history, prompt.Remix(instruction))
	if err != nil {
		return Output{}, err
	}
	return Output{ImageURL: turn.ImageURL, History: turn.History}, nil
}

func (g *GeminiService) GenerateVideo(ctx context.Context, in VideoInput) (VideoOutput, error) {
	video, err := g.client.GenerateVideo(ctx, gemini.VideoRequest{
		ImageURL: in.ImageURL,
		Prompt:   prompt.Video(in.Prompt),
		APIKey:   in.APIKey,
	})
	if err != nil {
		return VideoOutput{}, err
	}
	return VideoOutput{URL: media.DataURL(video.MimeType, video.Data)}, nil
}
