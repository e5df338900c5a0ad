package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"docchat/src/core/docchat"
	"docchat/src/infrastructure/log"
)

const (
	DefaultURL = "http://localhost:11434/api"
)

// EmbeddingRequest represents the request structure for embeddings
type EmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// EmbeddingResponse represents the response structure from embeddings
type EmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// GenerateRequest represents the request structure for model generation
type GenerateRequest struct {
	Model   string                 `json:"model"`
	System  string                 `json:"system"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// GenerateResponse represents one line of the streamed generation response
type GenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Client represents an Ollama API client
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new Ollama API client
func NewClient(baseURL string, c *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}

	return &Client{
		httpClient: c,
		baseURL:    baseURL,
	}
}

// GetEmbedding generates an embedding vector for the given text using the specified model
func (c *Client) GetEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	reqBody := EmbeddingRequest{
		Model:  model,
		Prompt: text,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/embeddings", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, providerError("embedding", 0, true, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("embedding", resp)
	}

	var result EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, providerError("embedding", 0, true, fmt.Sprintf("error decoding response: %v", err))
	}
	if len(result.Embedding) == 0 {
		return nil, providerError("embedding", 0, false, "provider returned an empty embedding")
	}

	// Convert float64 to float32
	embedding32 := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		embedding32[i] = float32(v)
	}

	return embedding32, nil
}

// GenerateStream performs streamed generation, invoking onFragment for
// every response fragment as it arrives. Cancelling ctx aborts the upstream
// call; an error from onFragment aborts the stream and is returned as-is.
func (c *Client) GenerateStream(ctx context.Context, model, system, prompt string, onFragment func(string) error) error {
	reqBody := GenerateRequest{
		Model:  model,
		System: system,
		Prompt: prompt,
		Stream: true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/generate", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error(err, "failed to make request to ollama")
		return providerError("generation", 0, true, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("generation", resp)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return providerError("generation", 0, true, fmt.Sprintf("error reading response: %v", err))
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var response GenerateResponse
		if err := json.Unmarshal(line, &response); err != nil {
			log.Error(err, "failed to unmarshal response line", "line", string(line))
			return providerError("generation", 0, false, fmt.Sprintf("error unmarshaling response: %v", err))
		}

		if response.Error != "" {
			return providerError("generation", 0, false, response.Error)
		}

		if response.Response != "" {
			if err := onFragment(response.Response); err != nil {
				return err
			}
		}

		if response.Done {
			return nil
		}
	}
}

func providerError(op string, status int, retryable bool, msg string) *docchat.ProviderError {
	return &docchat.ProviderError{
		Op:         op,
		StatusCode: status,
		Retryable:  retryable,
		Message:    msg,
	}
}

func statusError(op string, resp *http.Response) *docchat.ProviderError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return providerError(op, resp.StatusCode, true, "rate limited: "+msg)
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return providerError(op, resp.StatusCode, false, "input too large: "+msg)
	case resp.StatusCode >= 500:
		return providerError(op, resp.StatusCode, true, "provider unavailable: "+msg)
	default:
		return providerError(op, resp.StatusCode, false, msg)
	}
}
