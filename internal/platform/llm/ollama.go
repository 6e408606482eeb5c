package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig configures the native Ollama client.
type OllamaConfig struct {
	BaseURL      string
	KeepAlive    string
	MaxIdleConns int
}

// Ollama calls the /api/tags and /api/generate endpoints.
type Ollama struct {
	baseURL   string
	keepAlive string
	client    *http.Client
}

func NewOllama(cfg OllamaConfig) *Ollama {
	idle := cfg.MaxIdleConns
	if idle <= 0 {
		idle = 10
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = idle
	transport.MaxIdleConnsPerHost = idle
	transport.IdleConnTimeout = 90 * time.Second

	return &Ollama{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keepAlive: cfg.KeepAlive,
		// Deadlines come from the caller's context.
		client: &http.Client{Transport: transport},
	}
}

func (o *Ollama) Name() string { return "Ollama" }

type ollamaTagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

type ollamaOptions struct {
	NumPredict    int     `json:"num_predict,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	NumCtx        int     `json:"num_ctx,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	TopK          int     `json:"top_k,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	NumThread     int     `json:"num_thread,omitempty"`
}

type ollamaGenerateRequest struct {
	Model     string        `json:"model"`
	Prompt    string        `json:"prompt"`
	System    string        `json:"system,omitempty"`
	Stream    bool          `json:"stream"`
	Format    string        `json:"format,omitempty"`
	KeepAlive string        `json:"keep_alive,omitempty"`
	Options   ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (o *Ollama) Models(ctx context.Context) (models []string, err error) {
	start := time.Now()
	defer func() { observe("ollama", "models", start, err) }()

	var tags ollamaTagsResponse
	if err := o.do(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, err
	}
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		models = append(models, name)
	}
	return models, nil
}

func (o *Ollama) Generate(ctx context.Context, req GenerateRequest) (text string, err error) {
	start := time.Now()
	defer func() { observe("ollama", "generate", start, err) }()

	body := ollamaGenerateRequest{
		Model:     req.Model,
		Prompt:    req.Prompt,
		System:    req.System,
		KeepAlive: o.keepAlive,
		Options: ollamaOptions{
			NumPredict:    req.Options.NumPredict,
			Temperature:   req.Options.Temperature,
			NumCtx:        req.Options.NumCtx,
			TopP:          req.Options.TopP,
			TopK:          req.Options.TopK,
			RepeatPenalty: req.Options.RepeatPenalty,
			NumThread:     req.Options.NumThread,
		},
	}
	if req.JSON {
		body.Format = "json"
	}

	var out ollamaGenerateResponse
	if err := o.do(ctx, http.MethodPost, "/api/generate", body, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

func (o *Ollama) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ollama %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode ollama %s response: %w", path, err)
	}
	return nil
}
