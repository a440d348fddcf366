package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/citydata-labs/urbanclerk/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Embedder converts text into a fixed-dimension vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChatModel generates a streamed reply for a conversation transcript
type ChatModel interface {
	ChatStream(ctx context.Context, messages []model.Message) (ChatStream, error)
}

// ChatStream is a finite, non-restartable sequence of reply fragments.
// Recv returns io.EOF after the final fragment. Close releases the
// underlying connection and is safe to call at any point.
type ChatStream interface {
	Recv() (string, error)
	Close() error
}

// OllamaClient talks to a local Ollama server over its REST API. It serves
// both the embedding and the chat generation side.
type OllamaClient struct {
	baseURL        string
	embeddingModel string
	chatModel      string
	httpClient     *http.Client
}

type OllamaOption func(*OllamaClient)

func WithEmbeddingModel(m string) OllamaOption {
	return func(c *OllamaClient) {
		c.embeddingModel = m
	}
}

func WithChatModel(m string) OllamaOption {
	return func(c *OllamaClient) {
		c.chatModel = m
	}
}

func WithHTTPClient(hc *http.Client) OllamaOption {
	return func(c *OllamaClient) {
		c.httpClient = hc
	}
}

func NewOllama(baseURL string, opts ...OllamaOption) *OllamaClient {
	c := &OllamaClient{
		baseURL:        baseURL,
		embeddingModel: "nomic-embed-text",
		chatModel:      "llama3.2",
		httpClient: &http.Client{
			// Generation can run for minutes on CPU-only hosts
			Timeout: 300 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model: c.embeddingModel,
		Input: text,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal embed request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embed request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call embedding API")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, goerr.New("embedding API returned non-OK status",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, goerr.Wrap(err, "failed to decode embed response")
	}

	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, goerr.New("embedding API returned no vectors", goerr.V("model", c.embeddingModel))
	}

	return out.Embeddings[0], nil
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []model.Message `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  chatOptions     `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (c *OllamaClient) ChatStream(ctx context.Context, messages []model.Message) (ChatStream, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.chatModel,
		Messages: messages,
		Stream:   true,
		// Temperature is pinned to 0 so repeated questions get
		// reproducible answers
		Options: chatOptions{Temperature: 0},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal chat request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chat request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call chat API")
	}

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, goerr.New("chat API returned non-OK status",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(msg)))
	}

	return &ollamaStream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
	}, nil
}

// ollamaStream reads the NDJSON chat response line by line. Each line
// carries one content fragment; the line with done=true ends the stream.
type ollamaStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *ollamaStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", goerr.Wrap(err, "malformed chat stream line", goerr.V("line", string(line)))
		}

		if chunk.Done {
			s.done = true
			if chunk.Message.Content == "" {
				return "", io.EOF
			}
			return chunk.Message.Content, nil
		}

		return chunk.Message.Content, nil
	}

	if err := s.scanner.Err(); err != nil {
		return "", goerr.Wrap(err, "chat stream interrupted")
	}

	// The server closed the connection without a done marker. Treat a
	// clean EOF as end of stream.
	s.done = true
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	return s.body.Close()
}
