// calbot-mcp exposes the calendar action catalogue as MCP tools over
// stdio, backed by the same validate/authorize/execute path the chat
// pipeline uses. The acting user is fixed by CALBOT_IDENTITY and must
// have completed the OAuth flow through the chat bot first.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ewalk/calbot/internal/auth"
	"github.com/ewalk/calbot/internal/executor"
	"github.com/ewalk/calbot/internal/gcal"
	"github.com/ewalk/calbot/internal/store"
	"github.com/ewalk/calbot/internal/synth"
	"github.com/ewalk/calbot/internal/types"
	"github.com/ewalk/calbot/internal/validate"
)

type app struct {
	store    *store.Store
	exec     *executor.Executor
	gate     *auth.Gate
	identity string
	loc      *time.Location
}

func main() {
	_ = godotenv.Load()

	statePath := os.Getenv("STATE_PATH")
	if statePath == "" {
		statePath = "state"
	}
	identity := os.Getenv("CALBOT_IDENTITY")
	if identity == "" {
		fmt.Fprintln(os.Stderr, "CALBOT_IDENTITY environment variable required")
		os.Exit(1)
	}

	db, err := store.Open(statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	provider := auth.NewProvider(auth.ProviderConfig{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
	})
	authMgr := auth.NewManager(provider, db)

	loc := time.Local
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	a := &app{
		store:    db,
		exec:     executor.NewExecutor(gcal.NewClient(gcal.Config{}), authMgr, db),
		gate:     auth.NewGate(),
		identity: identity,
		loc:      loc,
	}

	s := server.NewMCPServer(
		"calbot-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(createEventTool(), a.handle("create_event"))
	s.AddTool(listEventsTool(), a.handle("list_events"))
	s.AddTool(updateEventTool(), a.handle("update_event"))
	s.AddTool(deleteEventTool(), a.handle("delete_event"))
	s.AddTool(searchEventsTool(), a.handle("search_events"))
	s.AddTool(suggestSlotsTool(), a.handle("suggest_slots"))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

// handle runs one tool call through validate → authorize → execute
func (a *app) handle(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)

		user, err := a.store.UserByIdentity(ctx, a.identity)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to look up user: %v", err)), nil
		}
		if user == nil {
			return mcp.NewToolResultError(fmt.Sprintf("no user for identity %s; connect the calendar through the chat bot first", a.identity)), nil
		}

		va, err := validate.Action(types.Action{Name: name, Args: args}, a.loc)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := a.gate.Check(user, va.Kind); err != nil {
			return mcp.NewToolResultError("calendar not connected; say \"login\" to the chat bot first"), nil
		}

		result := a.exec.Execute(ctx, user, va)
		if result.Err != nil {
			return mcp.NewToolResultError(result.Err.Error()), nil
		}
		return mcp.NewToolResultText(synth.FormatResults([]*types.ActionResult{result})), nil
	}
}

func createEventTool() mcp.Tool {
	return mcp.NewTool("create_event",
		mcp.WithDescription("Create a calendar event. Times are ISO-8601 datetimes in the configured timezone."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Event title")),
		mcp.WithString("startDateTime", mcp.Required(), mcp.Description("Start, e.g. 2026-03-02T14:00")),
		mcp.WithString("endDateTime", mcp.Required(), mcp.Description("End, must be after start")),
		mcp.WithString("description", mcp.Description("Event description")),
		mcp.WithString("location", mcp.Description("Event location")),
		mcp.WithString("attendees", mcp.Description("Comma-separated attendee email addresses")),
		mcp.WithNumber("reminderMinutes", mcp.Description("Popup reminder, minutes before start")),
	)
}

func listEventsTool() mcp.Tool {
	return mcp.NewTool("list_events",
		mcp.WithDescription("List events in a date window, optionally filtered by a substring."),
		mcp.WithString("startDate", mcp.Required(), mcp.Description("Window start (YYYY-MM-DD)")),
		mcp.WithString("endDate", mcp.Required(), mcp.Description("Window end, exclusive (YYYY-MM-DD)")),
		mcp.WithString("query", mcp.Description("Substring filter on title, description, location")),
	)
}

func updateEventTool() mcp.Tool {
	return mcp.NewTool("update_event",
		mcp.WithDescription("Update fields of an existing event. Only the provided fields change."),
		mcp.WithString("eventId", mcp.Required(), mcp.Description("Remote event ID")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("startDateTime", mcp.Description("New start")),
		mcp.WithString("endDateTime", mcp.Description("New end")),
		mcp.WithString("location", mcp.Description("New location")),
	)
}

func deleteEventTool() mcp.Tool {
	return mcp.NewTool("delete_event",
		mcp.WithDescription("Delete an event by ID or by title search. An ambiguous title search deletes nothing and lists the candidates."),
		mcp.WithString("eventId", mcp.Description("Remote event ID")),
		mcp.WithString("searchTitle", mcp.Description("Title substring to search for")),
		mcp.WithString("timeRange", mcp.Description("today, tomorrow, this_week, this_month, or all")),
	)
}

func searchEventsTool() mcp.Tool {
	return mcp.NewTool("search_events",
		mcp.WithDescription("Search events by substring across title, description, and location."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		mcp.WithString("timeRange", mcp.Description("today, tomorrow, this_week, this_month, or all")),
	)
}

func suggestSlotsTool() mcp.Tool {
	return mcp.NewTool("suggest_slots",
		mcp.WithDescription("Suggest free slots of a given length on a day, within working hours."),
		mcp.WithString("date", mcp.Required(), mcp.Description("Day to search (YYYY-MM-DD)")),
		mcp.WithNumber("durationMinutes", mcp.Required(), mcp.Description("Slot length in minutes")),
		mcp.WithString("preferredTimes", mcp.Description("Comma-separated HH:MM times to rank first")),
	)
}
