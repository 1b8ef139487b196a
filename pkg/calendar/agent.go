package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ai-assistant-be/pkg/llm"
)

// Identity names the meeting organizer on whose behalf a command runs.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Result is the sub-agent's opaque outcome for one command.
type Result struct {
	Success      bool                   `json:"success"`
	Message      string                 `json:"message"`
	Participants []string               `json:"participants"`
	Debug        map[string]interface{} `json:"debug,omitempty"`
}

// Agent is the calendar-booking sub-agent, consumed as a black-box
// command processor when classification yields CALENDAR.
type Agent interface {
	Process(ctx context.Context, command string, organizer Identity, accessLevel int, history []llm.Message) (*Result, error)
}

// HTTPAgent talks to the calendar agent service over HTTP.
type HTTPAgent struct {
	BaseURL string
	Client  *http.Client
}

var _ Agent = &HTTPAgent{}

func NewHTTPAgent(baseURL string) *HTTPAgent {
	return &HTTPAgent{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type processRequest struct {
	Command     string        `json:"command"`
	Organizer   Identity      `json:"organizer"`
	AccessLevel int           `json:"access_level"`
	History     []historyTurn `json:"history,omitempty"`
}

type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (a *HTTPAgent) Process(ctx context.Context, command string, organizer Identity, accessLevel int, history []llm.Message) (*Result, error) {
	payload := processRequest{
		Command:     command,
		Organizer:   organizer,
		AccessLevel: accessLevel,
	}
	for _, m := range history {
		payload.History = append(payload.History, historyTurn{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal calendar request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.BaseURL+"/v1/process", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("create calendar request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar agent request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read calendar response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar agent error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal calendar response: %w", err)
	}

	return &result, nil
}
