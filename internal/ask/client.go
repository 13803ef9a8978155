// Package ask provides the client for the external question-answering
// service that deployed agents proxy chat questions to.
package ask

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

const defaultTimeout = 30 * time.Second

// Config holds Ask Gateway client configuration.
type Config struct {
	// BaseURL is the gateway's base URL, e.g. "http://localhost:3000".
	BaseURL string

	// Token is an optional bearer credential.
	Token string

	// Timeout bounds each ask call.
	Timeout time.Duration
}

// Client is a stateless HTTP client for the Ask Gateway.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates an Ask Gateway client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("ask: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// SourceMetadata carries optional display information for a source.
type SourceMetadata struct {
	Title string `json:"title"`
}

// Source is a citation attached to an answer.
type Source struct {
	Source    string         `json:"source"`
	SourceURL string         `json:"sourceUrl"`
	Metadata  SourceMetadata `json:"sourceMetadata"`
}

// Title returns the display title for the source, falling back to the
// source name when no metadata title is present.
func (s Source) Title() string {
	if s.Metadata.Title != "" {
		return s.Metadata.Title
	}
	return s.Source
}

// Answer is the gateway's response to a question.
type Answer struct {
	Reply   string   `json:"reply"`
	Sources []Source `json:"sources"`
}

type askRequest struct {
	AgentID  string `json:"agentId"`
	Question string `json:"question"`
}

// Ask sends a question on behalf of an agent and returns the answer.
// Network failures, timeouts, and non-2xx responses are all reported as
// a uniform error; callers must not surface it to end chat users.
func (c *Client) Ask(ctx context.Context, agentID, question string) (*Answer, error) {
	body, err := json.Marshal(askRequest{AgentID: agentID, Question: question})
	if err != nil {
		return nil, fmt.Errorf("ask: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ask", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ask: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ask: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a snippet for the log line without trusting the payload.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ask: gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var answer Answer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("ask: decode response: %w", err)
	}
	return &answer, nil
}
