package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ewalk/calbot/internal/logging"
	"github.com/ewalk/calbot/internal/types"
)

// LLM resolves intents by asking a local Ollama-compatible model to emit
// structured tool calls. Every failure of the reasoning service (transport,
// non-200, unusable output) is reported as ErrResolutionUnavailable so the
// chain can switch to the rule-based fallback.
type LLM struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewLLM creates an LLM resolver
func NewLLM(baseURL, model string) *LLM {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:7b"
	}
	return &LLM{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// llmTurn is the JSON shape the model is instructed to produce
type llmTurn struct {
	Reply   string `json:"reply"`
	Actions []struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"actions"`
}

// Resolve asks the model for a structured turn
func (l *LLM) Resolve(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(generateRequest{
		Model:  l.model,
		Prompt: buildPrompt(req),
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", types.ErrResolutionUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", l.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", types.ErrResolutionUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrResolutionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", types.ErrResolutionUnavailable,
			resp.StatusCode, logging.Truncate(string(respBody), 200))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", types.ErrResolutionUnavailable, err)
	}

	return parseTurn(gen.Response)
}

// parseTurn extracts the structured turn from the model output. Models
// sometimes wrap the JSON in prose; the outermost braces are taken as the
// object. Output with no parseable object becomes a plain reply.
func parseTurn(raw string) (*Result, error) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		if raw == "" {
			return nil, fmt.Errorf("%w: empty model output", types.ErrResolutionUnavailable)
		}
		return &Result{Reply: raw}, nil
	}

	var turn llmTurn
	if err := json.Unmarshal([]byte(raw[start:end+1]), &turn); err != nil {
		logging.Debug("resolver", "Unparseable model output: %s", logging.Truncate(raw, 200))
		return &Result{Reply: raw}, nil
	}

	res := &Result{Reply: turn.Reply}
	for _, a := range turn.Actions {
		res.Actions = append(res.Actions, types.Action{Name: a.Name, Args: a.Args})
	}
	return res, nil
}

// buildPrompt anchors the model on the current time and lists the tool
// catalogue. Relative dates in the user message resolve against Now.
func buildPrompt(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are a calendar assistant. Current time: %s (%s, %s).

Convert the user's message into calendar actions. Respond with ONLY a JSON
object of this shape:
{"reply": "<short conversational reply>", "actions": [{"name": "<tool>", "args": {...}}]}

Available tools and their args:
- create_event: title, startDateTime, endDateTime (ISO-8601, e.g. 2026-03-02T14:00), optional description, location, attendees (emails), reminderMinutes
- list_events: startDate, endDate (YYYY-MM-DD), optional query
- update_event: eventId plus any of title, startDateTime, endDateTime, location
- delete_event: eventId or searchTitle, optional timeRange (today|tomorrow|this_week|this_month|all)
- search_events: query, optional timeRange
- suggest_slots: date (YYYY-MM-DD), durationMinutes, optional preferredTimes (["14:00"])

Rules:
- Resolve relative dates ("tomorrow", "next Tuesday") against the current time above.
- If no end time is given, assume one hour.
- If the message needs no calendar operation, return an empty actions list with a helpful reply.
`,
		req.Now.Format(time.RFC3339), req.Now.Weekday(), req.Location)

	if len(req.RecentEvents) > 0 {
		b.WriteString("\nThe user's upcoming events (for reference resolution):\n")
		for _, ev := range req.RecentEvents {
			fmt.Fprintf(&b, "- %s: %q (id %s)\n", ev.Start.Format("Mon Jan 2 15:04"), ev.Title, ev.RemoteID)
		}
	}

	fmt.Fprintf(&b, "\nUser message: %s\n", req.Text)
	return b.String()
}
