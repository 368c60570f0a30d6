package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ewalk/calbot/internal/types"
)

func newTestLLM(t *testing.T, handler http.HandlerFunc) *LLM {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewLLM(srv.URL, "test-model")
}

func modelOutput(t *testing.T, w http.ResponseWriter, output string) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(map[string]any{"response": output, "done": true}); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestLLM_StructuredTurn(t *testing.T) {
	var gotPrompt string
	l := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotPrompt = req.Prompt
		modelOutput(t, w, `{"reply":"Booked it.","actions":[{"name":"create_event","args":{"title":"Lunch","startDateTime":"2026-03-03T12:00","endDateTime":"2026-03-03T13:00"}}]}`)
	})

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	res, err := l.Resolve(context.Background(), Request{
		Text: "lunch tomorrow at noon", Now: now, Location: time.UTC,
		RecentEvents: []types.CalendarEvent{
			{RemoteID: "ev-1", Title: "Standup", Start: now.Add(time.Hour)},
		},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Reply != "Booked it." {
		t.Errorf("reply = %q", res.Reply)
	}
	if len(res.Actions) != 1 || res.Actions[0].Name != "create_event" {
		t.Fatalf("actions = %+v", res.Actions)
	}
	if res.Actions[0].Args["title"] != "Lunch" {
		t.Errorf("args = %+v", res.Actions[0].Args)
	}

	// The prompt anchors relative dates and carries recent events
	for _, want := range []string{"2026-03-02T10:00:00Z", "lunch tomorrow at noon", "Standup", "ev-1"} {
		if !strings.Contains(gotPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestLLM_ProseWrappedJSON(t *testing.T) {
	l := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		modelOutput(t, w, "Sure, here you go:\n{\"reply\":\"Done\",\"actions\":[]}\nLet me know!")
	})

	res, err := l.Resolve(context.Background(), Request{Text: "hi", Now: time.Now()})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Reply != "Done" || len(res.Actions) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestLLM_PlainTextBecomesReply(t *testing.T) {
	l := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		modelOutput(t, w, "I'm just a calendar assistant.")
	})

	res, err := l.Resolve(context.Background(), Request{Text: "tell me a joke", Now: time.Now()})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Reply == "" || len(res.Actions) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestLLM_ServerErrorIsUnavailable(t *testing.T) {
	l := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	})

	_, err := l.Resolve(context.Background(), Request{Text: "hi", Now: time.Now()})
	if !errors.Is(err, types.ErrResolutionUnavailable) {
		t.Fatalf("expected ErrResolutionUnavailable, got %v", err)
	}
}

func TestLLM_ConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listening anymore
	l := NewLLM(srv.URL, "test-model")

	_, err := l.Resolve(context.Background(), Request{Text: "hi", Now: time.Now()})
	if !errors.Is(err, types.ErrResolutionUnavailable) {
		t.Fatalf("expected ErrResolutionUnavailable, got %v", err)
	}
}

func TestChain_FallbackHandlesWholeTurn(t *testing.T) {
	l := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	chain := NewChain(l, NewFallback())

	res, err := chain.Resolve(context.Background(), Request{
		Text: "schedule meeting tomorrow 2pm", Now: testNow, Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.Actions) != 1 || res.Actions[0].Name != "create_event" {
		t.Fatalf("fallback did not produce the action: %+v", res.Actions)
	}
}

func TestChain_PrimaryWinsWhenHealthy(t *testing.T) {
	l := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		modelOutput(t, w, `{"reply":"From the model","actions":[]}`)
	})
	chain := NewChain(l, NewFallback())

	res, err := chain.Resolve(context.Background(), Request{Text: "hello", Now: testNow})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Reply != "From the model" {
		t.Errorf("reply = %q", res.Reply)
	}
}
