package studio

import (
	"errors"
	"strings"

	"glamour-studio/internal/gemini"
)

var (
	ErrBusy         = errors.New("a request is already in progress")
	ErrNotReady     = errors.New("action not available in the current state")
	ErrInvalidImage = errors.New("upload a valid image")
	ErrEmptyPrompt  = errors.New("prompt is empty")
	ErrKeyRequired  = errors.New("select an API key first")
	ErrReset        = errors.New("session was reset")
)

const (
	generationFailedPrefix = "GENERATION FAILED: "
	remixFailedPrefix      = "REMIX FAILED: "
	videoFailedPrefix      = "VIDEO FAILED: "

	AuthFailedMessage = "Authorization failed. Please select a valid API key."
	unknownError      = "An unknown error occurred."
)

// Message is the text shown for a failure.
func Message(err error) string {
	if err == nil {
		return unknownError
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return unknownError
	}
	return msg
}

// IsAuthFailure reports whether a video failure means the selected key cannot
// reach the video model and must be selected again.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) && apiErr.NotFound() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Requested entity was not found") || strings.Contains(msg, "404")
}

var (
	errNoImage = errors.New("no image was returned")
	errNoVideo = errors.New("no video was returned")
)
