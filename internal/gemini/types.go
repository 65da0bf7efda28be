package gemini

import (
	"fmt"
	"net/http"
	"strings"
)

// Content is one turn of a conversation as the API encodes it. Callers keep
// the slice returned in Turn.History and pass it back unchanged.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part keeps the thinking fields so a model turn can be sent back as it
// was received. Thought parts are drafts, not results.
type Part struct {
	Text             string `json:"text,omitempty"`
	InlineData       *Blob  `json:"inlineData,omitempty"`
	Thought          bool   `json:"thought,omitempty"`
	ThoughtSignature string `json:"thoughtSignature,omitempty"`
}

type Blob struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type StartRequest struct {
	ImageBase64 string
	MimeType    string
	Prompt      string
}

// Turn is the outcome of one image step: the produced image as a data URL
// and the full history including the new model turn.
type Turn struct {
	ImageURL string
	History  []Content
}

type VideoRequest struct {
	ImageURL string
	Prompt   string
	// APIKey overrides the client key for this request.
	APIKey string
}

type Video struct {
	MimeType string
	Data     []byte
}

// APIError is a non-2xx answer or a failed long-running operation.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("gemini API %s: %s", status, e.Message)
}

// NotFound reports the answer Veo gives for keys without access to the model.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound ||
		strings.Contains(e.Status, "NOT_FOUND") ||
		strings.Contains(e.Message, "Requested entity was not found")
}
