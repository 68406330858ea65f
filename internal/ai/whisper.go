// Package ai holds the HTTP clients for the speech-to-text sidecar and
// the chat-completion model used for summaries.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrTranscriptionFailed = errors.New("transcription failed")

const defaultWhisperTimeout = 10 * time.Minute

// WhisperClient talks to the faster-whisper sidecar:
// POST /transcribe {file, language} -> {transcription}.
// The sidecar reads the file path directly, so it must share a
// filesystem with this process.
type WhisperClient struct {
	baseURL    string
	language   string
	httpClient *http.Client
}

// WhisperOption customizes the whisper client.
type WhisperOption func(*WhisperClient)

// WithWhisperHTTPClient overrides the default HTTP client.
func WithWhisperHTTPClient(client *http.Client) WhisperOption {
	return func(c *WhisperClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewWhisperClient(baseURL, language string, opts ...WhisperOption) *WhisperClient {
	c := &WhisperClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		language:   language,
		httpClient: &http.Client{Timeout: defaultWhisperTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type transcribeRequest struct {
	File     string `json:"file"`
	Language string `json:"language,omitempty"`
}

type transcribeResponse struct {
	Transcription string `json:"transcription"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Transcribe sends filePath to the backend and returns the plain text.
func (c *WhisperClient) Transcribe(ctx context.Context, filePath string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("%w: whisper url not configured", ErrTranscriptionFailed)
	}
	body, err := json.Marshal(transcribeRequest{File: filePath, Language: c.language})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrTranscriptionFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		_ = json.Unmarshal(raw, &er)
		if er.Detail == "" {
			er.Detail = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("%w: backend %d: %s", ErrTranscriptionFailed, resp.StatusCode, er.Detail)
	}
	var tr transcribeResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", fmt.Errorf("%w: bad response: %v", ErrTranscriptionFailed, err)
	}
	return tr.Transcription, nil
}
