package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ResourceUpdateNotifier receives resource URIs whose content changed.
type ResourceUpdateNotifier func(ctx context.Context, uri string)

const eventsResourceSuffix = "events"

// EventsResourceTemplate defines the MCP resource template for session
// journals.
func EventsResourceTemplate() *mcp.ResourceTemplate {
	return &mcp.ResourceTemplate{
		Name:        "session_events",
		Title:       "Combat journal",
		Description: "Readable journal page for a combat session. URI format: combat://{session_id}/events",
		MIMEType:    "application/json",
		URITemplate: "combat://{session_id}/events",
	}
}

// EventsResourceHandler returns a readable journal page resource.
func EventsResourceHandler(client *Client) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if client == nil {
			return nil, fmt.Errorf("combat client is not configured")
		}

		if req == nil || req.Params == nil || req.Params.URI == "" {
			return nil, fmt.Errorf("session ID is required; use URI format combat://{session_id}/events")
		}
		uri := req.Params.URI

		sessionID, err := parseSessionIDFromResourceURI(uri, eventsResourceSuffix)
		if err != nil {
			return nil, fmt.Errorf("parse session ID from URI: %w", err)
		}

		events, err := client.ListEvents(ctx, sessionID, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("event list failed: %w", err)
		}

		payload := EventsListResult{SessionID: sessionID, Events: events}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal event list: %w", err)
		}

		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      uri,
					MIMEType: "application/json",
					Text:     string(data),
				},
			},
		}, nil
	}
}

// parseSessionIDFromResourceURI extracts the session ID from a URI of the
// form combat://{session_id}/{resourceType}. It parses URIs of the expected
// format but requires an actual session ID.
func parseSessionIDFromResourceURI(uri, resourceType string) (string, error) {
	prefix := "combat://"
	suffix := "/" + resourceType

	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("URI must start with %q", prefix)
	}
	if !strings.HasSuffix(uri, suffix) {
		return "", fmt.Errorf("URI must end with %q", suffix)
	}

	sessionID := strings.TrimPrefix(uri, prefix)
	sessionID = strings.TrimSuffix(sessionID, suffix)
	sessionID = strings.TrimSpace(sessionID)

	if sessionID == "" {
		return "", fmt.Errorf("session ID is required in URI")
	}

	if sessionID == "_" {
		return "", fmt.Errorf("session ID placeholder '_' is not a valid session ID")
	}

	return sessionID, nil
}

// eventsResourceURI builds the journal resource URI for a session.
func eventsResourceURI(sessionID string) string {
	return "combat://" + sessionID + "/" + eventsResourceSuffix
}

// notifyEventsResource reports the session journal resource as updated.
func notifyEventsResource(ctx context.Context, notify ResourceUpdateNotifier, sessionID string) {
	if notify == nil || strings.TrimSpace(sessionID) == "" {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	notify(ctx, eventsResourceURI(sessionID))
}
