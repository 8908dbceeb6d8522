package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// OpenAIGenerator streams from an OpenAI-compatible chat completions
// endpoint.
type OpenAIGenerator struct {
	BaseURL string
	APIKey  string

	// Model overrides the conversation model when set.
	Model  string
	Client *http.Client
}

func (*OpenAIGenerator) Name() string { return "openai" }

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openaiChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *OpenAIGenerator) Open(ctx context.Context, req GenerateRequest) (FragmentStream, error) {
	model := req.Model
	if g.Model != "" {
		model = g.Model
	}

	wire := openaiRequest{Model: model, Stream: true}
	if req.SystemPrompt != "" {
		wire.Messages = append(wire.Messages, openaiMessage{Role: string(RoleSystem), Content: req.SystemPrompt})
	}
	for _, t := range req.History {
		wire.Messages = append(wire.Messages, openaiMessage{Role: string(t.Role), Content: t.Content})
	}
	wire.Messages = append(wire.Messages, openaiMessage{Role: string(RoleUser), Content: req.Text})

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if g.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return &openaiStream{body: resp.Body, lines: bufio.NewReaderSize(resp.Body, 64<<10)}, nil
}

type openaiStream struct {
	body      io.ReadCloser
	lines     *bufio.Reader
	closeOnce sync.Once
	done      bool
}

// Next reads data lines until one carries content. Cancellation is observed
// through the request context, which aborts the body read.
func (s *openaiStream) Next(ctx context.Context) (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		data, err := s.nextData()
		if err != nil {
			return "", err
		}
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk openaiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("openai: parse chunk: %w", err)
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			return "", fmt.Errorf("openai: stream error: %s: %s", chunk.Error.Type, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if c := chunk.Choices[0].Delta.Content; c != "" {
			return c, nil
		}
	}
}

// nextData returns the payload of the next SSE event, joining multiple
// data lines with newlines. Comments and other fields are skipped.
func (s *openaiStream) nextData() (string, error) {
	var (
		data    []string
		hasData bool
	)
	for {
		line, err := s.lines.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				if hasData {
					return strings.Join(data, "\n"), nil
				}
				return "", io.ErrUnexpectedEOF
			}
			return "", fmt.Errorf("openai: read stream: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasData {
				return strings.Join(data, "\n"), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field == "data" {
			data = append(data, strings.TrimPrefix(value, " "))
			hasData = true
		}
	}
}

func (s *openaiStream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.body.Close() })
	return err
}
