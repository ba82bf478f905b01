package journal

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/event"
)

// Memory stores event streams in memory, one hash chain per session. It is
// safe for concurrent use and backs tests and ephemeral sessions.
type Memory struct {
	mu       sync.Mutex
	registry *event.Registry
	streams  map[string][]event.Event
}

// NewMemory creates an in-memory journal validating against the registry.
func NewMemory(registry *event.Registry) *Memory {
	return &Memory{
		registry: registry,
		streams:  make(map[string][]event.Event),
	}
}

// Append validates the event, assigns the next sequence, seals the hash
// chain, and stores the result.
func (m *Memory) Append(ctx context.Context, evt event.Event) (event.Event, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return event.Event{}, err
		}
	}
	if m == nil {
		return event.Event{}, ErrStoreRequired
	}
	if m.registry == nil {
		return event.Event{}, stderrors.New("event registry is required")
	}

	validated, err := m.registry.ValidateForAppend(evt)
	if err != nil {
		return event.Event{}, err
	}
	evt = validated
	evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[evt.SessionID]
	evt.Seq = uint64(len(stream)) + 1

	hash, err := event.EventHash(evt)
	if err != nil {
		return event.Event{}, err
	}
	evt.Hash = hash

	prevHash := ""
	if len(stream) > 0 {
		prevHash = stream[len(stream)-1].ChainHash
	}
	chainHash, err := event.ChainHash(evt, prevHash)
	if err != nil {
		return event.Event{}, err
	}
	evt.PrevHash = prevHash
	evt.ChainHash = chainHash

	m.streams[evt.SessionID] = append(stream, cloneEvent(evt))
	return evt, nil
}

// ListEvents returns events after the given sequence in ascending order.
func (m *Memory) ListEvents(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if m == nil {
		return nil, ErrStoreRequired
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[sessionID]
	if afterSeq >= uint64(len(stream)) {
		return nil, nil
	}
	tail := stream[afterSeq:]
	if len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]event.Event, 0, len(tail))
	for _, evt := range tail {
		out = append(out, cloneEvent(evt))
	}
	return out, nil
}

// LatestSeq returns the highest assigned sequence, zero for an empty stream.
func (m *Memory) LatestSeq(ctx context.Context, sessionID string) (uint64, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
	if m == nil {
		return 0, ErrStoreRequired
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, ErrSessionIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.streams[sessionID])), nil
}

// Sessions lists every session id holding at least one event, sorted.
func (m *Memory) Sessions(ctx context.Context) ([]string, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if m == nil {
		return nil, ErrStoreRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func cloneEvent(evt event.Event) event.Event {
	out := evt
	if evt.PayloadJSON != nil {
		out.PayloadJSON = append([]byte(nil), evt.PayloadJSON...)
	}
	return out
}
