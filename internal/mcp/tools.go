package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/intent"
	"github.com/ttrpg-tools/crossfire/internal/combat/session"
)

// SessionCreateInput is the MCP tool input for opening a combat session.
type SessionCreateInput struct {
	Name       string   `json:"name,omitempty" jsonschema:"optional free-form name for the session"`
	PlaneOrder []string `json:"plane_order,omitempty" jsonschema:"optional plane resolution order (physical, astral, matrix)"`
}

// SessionCreateResult is the MCP tool output for opening a combat session.
type SessionCreateResult struct {
	SessionID  string   `json:"session_id" jsonschema:"session identifier"`
	Name       string   `json:"name" jsonschema:"session name"`
	Status     string   `json:"status" jsonschema:"session status (setup, active, ended)"`
	PlaneOrder []string `json:"plane_order" jsonschema:"plane resolution order"`
	LastSeq    uint64   `json:"last_seq" jsonschema:"sequence number of the last applied event"`
	EventsURI  string   `json:"events_uri" jsonschema:"resource URI of the session journal"`
}

// SessionCreateTool defines the MCP tool schema for opening a session.
func SessionCreateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "session_create",
		Description: "Opens a combat session in setup status and returns its identifier and journal resource URI.",
	}
}

// SessionCreateHandler executes a session create request.
func SessionCreateHandler(client *Client, notify ResourceUpdateNotifier) mcp.ToolHandlerFor[SessionCreateInput, SessionCreateResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SessionCreateInput) (*mcp.CallToolResult, SessionCreateResult, error) {
		delta, err := client.CreateSession(ctx, input.Name, input.PlaneOrder)
		if err != nil {
			return nil, SessionCreateResult{}, fmt.Errorf("session create failed: %w", err)
		}

		snap := delta.Snapshot
		result := SessionCreateResult{
			SessionID:  snap.SessionID,
			Name:       snap.Name,
			Status:     snap.Status,
			PlaneOrder: snap.PlaneOrder,
			LastSeq:    delta.LastSeq,
			EventsURI:  eventsResourceURI(snap.SessionID),
		}
		notifyEventsResource(ctx, notify, snap.SessionID)
		return nil, result, nil
	}
}

// SessionStateInput is the MCP tool input for reading session state.
type SessionStateInput struct {
	SessionID string `json:"session_id" jsonschema:"session identifier"`
}

// SessionStateResult is the MCP tool output for reading session state.
type SessionStateResult struct {
	State session.Snapshot `json:"state" jsonschema:"current session state snapshot"`
}

// SessionStateTool defines the MCP tool schema for reading session state.
func SessionStateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "session_state",
		Description: "Reads the current state of a combat session: plane order, round, active plane, current actor, roster, initiative, and action budgets.",
	}
}

// SessionStateHandler executes a session state request.
func SessionStateHandler(client *Client) mcp.ToolHandlerFor[SessionStateInput, SessionStateResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SessionStateInput) (*mcp.CallToolResult, SessionStateResult, error) {
		if strings.TrimSpace(input.SessionID) == "" {
			return nil, SessionStateResult{}, fmt.Errorf("session_id is required")
		}
		snap, err := client.SessionState(ctx, input.SessionID)
		if err != nil {
			return nil, SessionStateResult{}, fmt.Errorf("session state failed: %w", err)
		}
		return nil, SessionStateResult{State: *snap}, nil
	}
}

// ParticipantAddInput is the MCP tool input for enrolling a combatant.
type ParticipantAddInput struct {
	SessionID     string          `json:"session_id" jsonschema:"session identifier"`
	Name          string          `json:"name" jsonschema:"participant name"`
	Kind          string          `json:"kind" jsonschema:"participant kind (player, npc, drone, persona)"`
	ParticipantID string          `json:"participant_id,omitempty" jsonschema:"optional caller-chosen participant identifier"`
	Score         int             `json:"score,omitempty" jsonschema:"initiative score attribute"`
	Dice          int             `json:"dice,omitempty" jsonschema:"initiative dice attribute"`
	Presence      map[string]bool `json:"presence,omitempty" jsonschema:"plane presence flags keyed by plane name"`
	ActorID       string          `json:"actor_id,omitempty" jsonschema:"game master identifier submitting the enrollment"`
}

// ParticipantAddResult is the MCP tool output for enrolling a combatant.
type ParticipantAddResult struct {
	SessionID     string `json:"session_id" jsonschema:"session identifier"`
	ParticipantID string `json:"participant_id" jsonschema:"identifier of the enrolled participant"`
	Name          string `json:"name" jsonschema:"participant name"`
	Kind          string `json:"kind" jsonschema:"participant kind"`
	LastSeq       uint64 `json:"last_seq" jsonschema:"sequence number of the last applied event"`
}

// ParticipantAddTool defines the MCP tool schema for enrolling a combatant.
func ParticipantAddTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "participant_add",
		Description: "Enrolls a combatant on the session roster, mid-combat included. Joining an active combat places the participant at the end of the current round.",
	}
}

// ParticipantAddHandler executes a participant add request.
func ParticipantAddHandler(client *Client, notify ResourceUpdateNotifier) mcp.ToolHandlerFor[ParticipantAddInput, ParticipantAddResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ParticipantAddInput) (*mcp.CallToolResult, ParticipantAddResult, error) {
		if strings.TrimSpace(input.SessionID) == "" {
			return nil, ParticipantAddResult{}, fmt.Errorf("session_id is required")
		}
		if strings.TrimSpace(input.Name) == "" {
			return nil, ParticipantAddResult{}, fmt.Errorf("name is required")
		}

		payload, err := json.Marshal(intent.ParticipantAddPayload{
			ParticipantID: input.ParticipantID,
			Name:          input.Name,
			Kind:          input.Kind,
			Score:         input.Score,
			Dice:          input.Dice,
			Presence:      input.Presence,
		})
		if err != nil {
			return nil, ParticipantAddResult{}, fmt.Errorf("encode participant payload: %w", err)
		}

		submission := IntentSubmission{
			Kind:    string(intent.KindParticipantAdd),
			Payload: payload,
		}
		if actorID := strings.TrimSpace(input.ActorID); actorID != "" {
			submission.ActorType = string(intent.ActorTypeGM)
			submission.ActorID = actorID
		}

		delta, err := client.SubmitIntent(ctx, input.SessionID, submission)
		if err != nil {
			return nil, ParticipantAddResult{}, fmt.Errorf("participant add failed: %w", err)
		}

		result := ParticipantAddResult{
			SessionID:     delta.Snapshot.SessionID,
			ParticipantID: input.ParticipantID,
			LastSeq:       delta.LastSeq,
		}
		for _, evt := range delta.Events {
			if evt.Type == string(event.TypeParticipantAdded) {
				result.ParticipantID = evt.EntityID
			}
		}
		for _, p := range delta.Snapshot.Participants {
			if p.ID == result.ParticipantID {
				result.Name = p.Name
				result.Kind = p.Kind
			}
		}
		notifyEventsResource(ctx, notify, delta.Snapshot.SessionID)
		return nil, result, nil
	}
}

// IntentSubmitInput is the MCP tool input for submitting a combat intent.
type IntentSubmitInput struct {
	SessionID string         `json:"session_id" jsonschema:"session identifier"`
	Kind      string         `json:"kind" jsonschema:"intent kind, e.g. initiative.roll, combat.begin, action.spend, turn.end"`
	ActorType string         `json:"actor_type,omitempty" jsonschema:"actor type (system, participant, gm); defaults to system"`
	ActorID   string         `json:"actor_id,omitempty" jsonschema:"actor identifier, required when actor_type is participant or gm"`
	Token     string         `json:"token,omitempty" jsonschema:"idempotency token; resubmitting the same token and content returns the original result"`
	Payload   map[string]any `json:"payload,omitempty" jsonschema:"intent payload object, shape depends on kind"`
}

// AppliedEvent is one journal event produced by an accepted intent.
type AppliedEvent struct {
	Seq        uint64 `json:"seq" jsonschema:"journal sequence number"`
	Type       string `json:"type" jsonschema:"event type"`
	EntityType string `json:"entity_type,omitempty" jsonschema:"entity type the event touched"`
	EntityID   string `json:"entity_id,omitempty" jsonschema:"entity identifier the event touched"`
}

// IntentSubmitResult is the MCP tool output for submitting a combat intent.
type IntentSubmitResult struct {
	LastSeq uint64           `json:"last_seq" jsonschema:"sequence number of the last applied event"`
	Events  []AppliedEvent   `json:"events" jsonschema:"events produced by this intent"`
	State   session.Snapshot `json:"state" jsonschema:"session state after the intent applied"`
}

// IntentSubmitTool defines the MCP tool schema for submitting an intent.
func IntentSubmitTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "intent_submit",
		Description: "Submits a combat intent (initiative rolls, combat begin, action spends, turn ends, conditions, presence) and returns the events it produced with the resulting state. Rejections carry a stable code and a human-readable reason.",
	}
}

// IntentSubmitHandler executes an intent submission.
func IntentSubmitHandler(client *Client, notify ResourceUpdateNotifier) mcp.ToolHandlerFor[IntentSubmitInput, IntentSubmitResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input IntentSubmitInput) (*mcp.CallToolResult, IntentSubmitResult, error) {
		if strings.TrimSpace(input.SessionID) == "" {
			return nil, IntentSubmitResult{}, fmt.Errorf("session_id is required")
		}
		if strings.TrimSpace(input.Kind) == "" {
			return nil, IntentSubmitResult{}, fmt.Errorf("kind is required")
		}

		var payload json.RawMessage
		if input.Payload != nil {
			data, err := json.Marshal(input.Payload)
			if err != nil {
				return nil, IntentSubmitResult{}, fmt.Errorf("encode intent payload: %w", err)
			}
			payload = data
		}

		delta, err := client.SubmitIntent(ctx, input.SessionID, IntentSubmission{
			Kind:      input.Kind,
			ActorType: input.ActorType,
			ActorID:   input.ActorID,
			Token:     input.Token,
			Payload:   payload,
		})
		if err != nil {
			return nil, IntentSubmitResult{}, fmt.Errorf("intent submit failed: %w", err)
		}

		result := IntentSubmitResult{
			LastSeq: delta.LastSeq,
			State:   delta.Snapshot,
		}
		for _, evt := range delta.Events {
			result.Events = append(result.Events, AppliedEvent{
				Seq:        evt.Seq,
				Type:       evt.Type,
				EntityType: evt.EntityType,
				EntityID:   evt.EntityID,
			})
		}
		notifyEventsResource(ctx, notify, delta.Snapshot.SessionID)
		return nil, result, nil
	}
}

// EventsListInput is the MCP tool input for reading a journal page.
type EventsListInput struct {
	SessionID string `json:"session_id" jsonschema:"session identifier"`
	AfterSeq  uint64 `json:"after_seq,omitempty" jsonschema:"return events with sequence numbers greater than this"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of events to return (default 50, max 200)"`
}

// EventsListResult is the MCP tool output for reading a journal page.
type EventsListResult struct {
	SessionID string        `json:"session_id" jsonschema:"session identifier"`
	Events    []EventRecord `json:"events" jsonschema:"journal entries in sequence order"`
}

// EventsListTool defines the MCP tool schema for reading the journal.
func EventsListTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "events_list",
		Description: "Reads a page of the session journal in sequence order, including payloads and integrity hashes.",
	}
}

// EventsListHandler executes a journal page request.
func EventsListHandler(client *Client) mcp.ToolHandlerFor[EventsListInput, EventsListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input EventsListInput) (*mcp.CallToolResult, EventsListResult, error) {
		if strings.TrimSpace(input.SessionID) == "" {
			return nil, EventsListResult{}, fmt.Errorf("session_id is required")
		}
		events, err := client.ListEvents(ctx, input.SessionID, input.AfterSeq, input.Limit)
		if err != nil {
			return nil, EventsListResult{}, fmt.Errorf("event list failed: %w", err)
		}
		return nil, EventsListResult{SessionID: input.SessionID, Events: events}, nil
	}
}
