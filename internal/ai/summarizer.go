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

const (
	defaultLLMModel   = "deepseek-chat"
	defaultLLMTimeout = 2 * time.Minute
)

// Summarizer wraps an OpenAI-style chat completion endpoint and turns
// transcripts into summaries or scoped excerpts.
type Summarizer struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// SummarizerOption customizes the summarizer client.
type SummarizerOption func(*Summarizer)

// WithSummarizerHTTPClient overrides the default HTTP client.
func WithSummarizerHTTPClient(client *http.Client) SummarizerOption {
	return func(s *Summarizer) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithModel overrides the default model name.
func WithModel(model string) SummarizerOption {
	return func(s *Summarizer) {
		if strings.TrimSpace(model) != "" {
			s.model = model
		}
	}
}

func NewSummarizer(baseURL, apiKey string, opts ...SummarizerOption) *Summarizer {
	s := &Summarizer{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:      defaultLLMModel,
		httpClient: &http.Client{Timeout: defaultLLMTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize condenses a transcript. A non-empty instruction narrows the
// summary to the excerpt the requester described.
func (s *Summarizer) Summarize(ctx context.Context, transcript, instruction string) (string, error) {
	system := "You summarize video transcripts. Reply with a concise summary in the transcript's language."
	user := transcript
	if strings.TrimSpace(instruction) != "" {
		user = fmt.Sprintf("Focus only on this part: %s\n\nTranscript:\n%s", instruction, transcript)
	}
	return s.chat(ctx, system, user)
}

// Excerpt trims a transcript down to the part the requester described.
func (s *Summarizer) Excerpt(ctx context.Context, transcript, instruction string) (string, error) {
	system := "You extract the requested portion of a video transcript verbatim. Reply with the excerpt only."
	user := fmt.Sprintf("Wanted part: %s\n\nTranscript:\n%s", instruction, transcript)
	return s.chat(ctx, system, user)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Summarizer) chat(ctx context.Context, system, user string) (string, error) {
	if s.baseURL == "" {
		return "", errors.New("llm: base url not configured")
	}
	if s.apiKey == "" {
		return "", errors.New("llm: api key required")
	}
	body, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}
	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", fmt.Errorf("llm: bad response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if cr.Error != nil && cr.Error.Message != "" {
			msg = cr.Error.Message
		}
		return "", fmt.Errorf("llm: status %d: %s", resp.StatusCode, msg)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("llm: empty response")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}
