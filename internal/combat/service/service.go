// Package service coordinates combat sessions across their whole lifecycle.
//
// It creates sessions, lazily reopens them from the latest snapshot plus the
// journal tail, routes submissions to each session's runtime, and writes new
// snapshots on a cadence so the next reopen stays cheap. Session metadata is
// mirrored into a record store for listing; the journal stays the system of
// record.
package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/intent"
	"github.com/ttrpg-tools/crossfire/internal/combat/journal"
	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
	"github.com/ttrpg-tools/crossfire/internal/combat/runtime"
	"github.com/ttrpg-tools/crossfire/internal/combat/session"
	"github.com/ttrpg-tools/crossfire/internal/combat/storage"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
	"github.com/ttrpg-tools/crossfire/internal/platform/id"
	"github.com/ttrpg-tools/crossfire/internal/random"
)

const (
	defaultSnapshotEvery = 32
	defaultActorID       = "gm"
)

// ErrJournalRequired indicates a missing journal store.
var ErrJournalRequired = stderrors.New("journal store is required")

// Config assembles the dependencies of the combat service.
type Config struct {
	// Journal receives committed events and feeds replays.
	Journal journal.Store
	// Sessions mirrors session metadata for listing; nil uses memory.
	Sessions storage.SessionStore
	// Snapshots persists replay checkpoints; nil uses memory.
	Snapshots storage.SnapshotStore
	// Tokens persists idempotency records; nil uses memory.
	Tokens storage.IdempotencyStore
	// Intents validates submissions; nil uses the default registry.
	Intents *intent.Registry
	// PlaneOrder is the default resolution order for new sessions that do
	// not configure their own.
	PlaneOrder []plane.Plane
	// QueueSize bounds each session's submission queue.
	QueueSize int
	// SnapshotEvery is the number of committed events between snapshots;
	// zero uses the default.
	SnapshotEvery int
	// Now stamps decisions and records; nil uses time.Now.
	Now func() time.Time
	// NewID assigns session and participant identifiers; nil uses id.NewID.
	NewID func() (string, error)
	// NewSeed draws initiative seeds; nil uses random.NewTieBreak.
	NewSeed func() (int64, error)
	// Observe receives every answered submission across all sessions; nil
	// disables lifecycle reporting.
	Observe func(ctx context.Context, obs runtime.Observation)
}

// Service owns every open combat session runtime.
type Service struct {
	journal       journal.Store
	sessions      storage.SessionStore
	snapshots     storage.SnapshotStore
	tokens        storage.IdempotencyStore
	intents       *intent.Registry
	planeOrder    []plane.Plane
	queueSize     int
	snapshotEvery uint64
	now           func() time.Time
	newID         func() (string, error)
	newSeed       func() (int64, error)
	observe       func(ctx context.Context, obs runtime.Observation)

	mu     sync.Mutex
	open   map[string]*openSession
	closed bool
}

// openSession tracks one session runtime. The ready channel closes once the
// reopen finished, with either the runtime or the error filled in.
type openSession struct {
	ready   chan struct{}
	runtime *runtime.Runtime
	err     error

	mu          sync.Mutex
	snapshotSeq uint64
}

// New builds the service. The journal is required; every other store
// defaults to a shared in-memory implementation.
func New(cfg Config) (*Service, error) {
	if cfg.Journal == nil {
		return nil, ErrJournalRequired
	}
	if cfg.Sessions == nil || cfg.Snapshots == nil || cfg.Tokens == nil {
		memory := storage.NewMemory()
		if cfg.Sessions == nil {
			cfg.Sessions = memory
		}
		if cfg.Snapshots == nil {
			cfg.Snapshots = memory
		}
		if cfg.Tokens == nil {
			cfg.Tokens = memory
		}
	}
	snapshotEvery := cfg.SnapshotEvery
	if snapshotEvery <= 0 {
		snapshotEvery = defaultSnapshotEvery
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = id.NewID
	}
	newSeed := cfg.NewSeed
	if newSeed == nil {
		newSeed = random.NewTieBreak
	}
	return &Service{
		journal:       cfg.Journal,
		sessions:      cfg.Sessions,
		snapshots:     cfg.Snapshots,
		tokens:        cfg.Tokens,
		intents:       cfg.Intents,
		planeOrder:    append([]plane.Plane(nil), cfg.PlaneOrder...),
		queueSize:     cfg.QueueSize,
		snapshotEvery: uint64(snapshotEvery),
		now:           now,
		newID:         newID,
		newSeed:       newSeed,
		observe:       cfg.Observe,
		open:          make(map[string]*openSession),
	}, nil
}

// CreateParams configures a new combat session.
type CreateParams struct {
	// Name labels the encounter.
	Name string
	// PlaneOrder overrides the service default resolution order.
	PlaneOrder []string
	// ActorID attributes the opening intent; empty uses the GM default.
	ActorID string
	// Token carries the client idempotency token, if any.
	Token string
}

// CreateSession allocates a session id, starts its runtime, and applies the
// opening intent. The returned delta carries the new session's id in its
// snapshot.
func (s *Service) CreateSession(ctx context.Context, params CreateParams) (session.StateDelta, error) {
	sessionID, err := s.newID()
	if err != nil {
		return session.StateDelta{}, errors.Wrap(errors.CodeInternal, "assign session id", err)
	}

	entry := &openSession{ready: make(chan struct{})}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return session.StateDelta{}, s.closedErr()
	}
	s.open[sessionID] = entry
	s.mu.Unlock()

	rt, err := s.startRuntime(sessionID, nil, 0)
	if err != nil {
		entry.err = err
		close(entry.ready)
		s.evict(sessionID, entry)
		return session.StateDelta{}, err
	}
	entry.runtime = rt
	close(entry.ready)

	order := params.PlaneOrder
	if len(order) == 0 {
		for _, pl := range s.planeOrder {
			order = append(order, pl.String())
		}
	}
	payload, err := json.Marshal(intent.SessionStartPayload{Name: params.Name, PlaneOrder: order})
	if err != nil {
		s.evict(sessionID, entry)
		rt.Close()
		return session.StateDelta{}, errors.Wrap(errors.CodeInternal, "encode session start", err)
	}
	delta, err := s.submitTo(ctx, entry, intent.Intent{
		SessionID:   sessionID,
		Kind:        intent.KindSessionStart,
		ActorType:   intent.ActorTypeGM,
		ActorID:     actorOrDefault(params.ActorID),
		Token:       params.Token,
		PayloadJSON: payload,
	})
	if err != nil {
		// Nothing was journaled; release the id entirely.
		s.evict(sessionID, entry)
		rt.Close()
		return session.StateDelta{}, err
	}
	return delta, nil
}

// Submit routes an intent to its session, reopening the session from the
// journal when it is not live in this process.
func (s *Service) Submit(ctx context.Context, it intent.Intent) (session.StateDelta, error) {
	sessionID := strings.TrimSpace(it.SessionID)
	if sessionID == "" {
		return session.StateDelta{}, errors.New(errors.CodeIntentInvalid, "session id is required")
	}
	entry, err := s.session(ctx, sessionID)
	if err != nil {
		return session.StateDelta{}, err
	}
	return s.submitTo(ctx, entry, it)
}

// Cancel withdraws a queued submission by its token. Only sessions live in
// this process can hold queued submissions, so an unopened session always
// reports false.
func (s *Service) Cancel(sessionID, token string) bool {
	s.mu.Lock()
	entry, ok := s.open[strings.TrimSpace(sessionID)]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-entry.ready:
	default:
		return false
	}
	if entry.err != nil || entry.runtime == nil {
		return false
	}
	return entry.runtime.Cancel(token)
}

// Watch subscribes to the session's committed deltas.
func (s *Service) Watch(ctx context.Context, sessionID string) (<-chan session.StateDelta, func(), error) {
	entry, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, stop := entry.runtime.Watch()
	return ch, stop, nil
}

// Snapshot returns the session's latest committed state view.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (session.Snapshot, error) {
	entry, err := s.session(ctx, sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	return entry.runtime.Snapshot()
}

// Events reads a page of the session's journal.
func (s *Service) Events(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]event.Event, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New(errors.CodeIntentInvalid, "session id is required")
	}
	latest, err := s.journal.LatestSeq(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if latest == 0 {
		return nil, sessionNotFound(sessionID)
	}
	return s.journal.ListEvents(ctx, sessionID, afterSeq, limit)
}

// List returns session records ordered by most recent update.
func (s *Service) List(ctx context.Context, limit int) ([]storage.SessionRecord, error) {
	return s.sessions.ListSessions(ctx, limit)
}

// EndSession applies the closing intent, checkpoints the final state, and
// releases the session's runtime.
func (s *Service) EndSession(ctx context.Context, sessionID, actorID, reason string) (session.StateDelta, error) {
	entry, err := s.session(ctx, sessionID)
	if err != nil {
		return session.StateDelta{}, err
	}
	payload, err := json.Marshal(intent.SessionEndPayload{Reason: reason})
	if err != nil {
		return session.StateDelta{}, errors.Wrap(errors.CodeInternal, "encode session end", err)
	}
	delta, err := s.submitTo(ctx, entry, intent.Intent{
		SessionID:   sessionID,
		Kind:        intent.KindSessionEnd,
		ActorType:   intent.ActorTypeGM,
		ActorID:     actorOrDefault(actorID),
		PayloadJSON: payload,
	})
	if err != nil {
		return session.StateDelta{}, err
	}
	s.takeSnapshot(entry)
	s.evict(sessionID, entry)
	entry.runtime.Close()
	return delta, nil
}

// Close snapshots and stops every open session. Queued submissions are
// answered with an unavailable error by their runtimes.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := make([]*openSession, 0, len(s.open))
	for _, entry := range s.open {
		entries = append(entries, entry)
	}
	s.open = make(map[string]*openSession)
	s.mu.Unlock()

	for _, entry := range entries {
		<-entry.ready
		if entry.runtime == nil {
			continue
		}
		s.takeSnapshot(entry)
		entry.runtime.Close()
	}
}

// session returns the live entry for the session, reopening it from the
// latest snapshot plus the journal tail on first touch. Concurrent callers
// share one reopen.
func (s *Service) session(ctx context.Context, sessionID string) (*openSession, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, s.closedErr()
	}
	if entry, ok := s.open[sessionID]; ok {
		s.mu.Unlock()
		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if entry.err != nil {
			return nil, entry.err
		}
		return entry, nil
	}
	entry := &openSession{ready: make(chan struct{})}
	s.open[sessionID] = entry
	s.mu.Unlock()

	rt, snapshotSeq, err := s.reopen(ctx, sessionID)
	if err != nil {
		entry.err = err
		close(entry.ready)
		s.evict(sessionID, entry)
		return nil, err
	}
	entry.runtime = rt
	entry.snapshotSeq = snapshotSeq
	close(entry.ready)
	return entry, nil
}

// reopen rebuilds the session from its latest usable snapshot and the
// journal tail after it. A snapshot that fails to decode or verify is
// discarded in favor of a full replay; the journal is the system of record.
func (s *Service) reopen(ctx context.Context, sessionID string) (*runtime.Runtime, uint64, error) {
	state := session.NewState()
	var afterSeq uint64

	snap, err := s.snapshots.LatestSnapshot(ctx, sessionID)
	switch {
	case err == nil:
		restored, derr := session.UnmarshalState(snap.State)
		if derr == nil && snap.Checksum != "" {
			sum, cerr := session.Checksum(restored)
			if cerr != nil {
				derr = cerr
			} else if sum != snap.Checksum {
				derr = fmt.Errorf("state checksum %s does not match stored %s", sum, snap.Checksum)
			}
		}
		if derr != nil {
			log.Printf("session %s: discard snapshot at seq %d: %v", sessionID, snap.Seq, derr)
		} else {
			state = restored
			afterSeq = snap.Seq
		}
	case stderrors.Is(err, storage.ErrNotFound):
	default:
		return nil, 0, err
	}

	result, err := journal.Replay(ctx, s.journal, sessionID, state, nil, journal.Options{AfterSeq: afterSeq})
	if err != nil {
		return nil, 0, err
	}
	if result.LastSeq == 0 {
		return nil, 0, sessionNotFound(sessionID)
	}
	rt, err := s.startRuntime(sessionID, &result.State, result.LastSeq)
	if err != nil {
		return nil, 0, err
	}
	return rt, afterSeq, nil
}

func (s *Service) startRuntime(sessionID string, state *session.State, lastSeq uint64) (*runtime.Runtime, error) {
	return runtime.New(runtime.Config{
		SessionID: sessionID,
		Journal:   s.journal,
		Intents:   s.intents,
		State:     state,
		LastSeq:   lastSeq,
		Tokens:    s.tokens,
		QueueSize: s.queueSize,
		Now:       s.now,
		NewID:     s.newID,
		NewSeed:   s.newSeed,
		Observe:   s.observe,
	})
}

// submitTo applies the intent and, on success, refreshes the session record
// and checkpoints state if the cadence came due.
func (s *Service) submitTo(ctx context.Context, entry *openSession, it intent.Intent) (session.StateDelta, error) {
	delta, err := entry.runtime.Submit(ctx, it)
	if err != nil {
		return session.StateDelta{}, err
	}
	s.persistRecord(delta.Snapshot)
	s.maybeSnapshot(entry, delta.LastSeq)
	return delta, nil
}

// persistRecord mirrors the committed snapshot into the session record
// store. The record is a listing convenience; failures are logged, not
// surfaced, because the journal already holds the truth.
func (s *Service) persistRecord(snap session.Snapshot) {
	if snap.SessionID == "" {
		return
	}
	ctx := context.Background()
	now := s.now().UTC()
	rec := storage.SessionRecord{
		ID:        snap.SessionID,
		Name:      snap.Name,
		Status:    session.Status(snap.Status),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if order, err := plane.ValidateOrder(snap.PlaneOrder); err == nil {
		rec.PlaneOrder = order
	}
	if existing, err := s.sessions.GetSession(ctx, snap.SessionID); err == nil {
		rec.CreatedAt = existing.CreatedAt
	}
	if err := s.sessions.PutSession(ctx, rec); err != nil {
		log.Printf("session %s: persist session record: %v", snap.SessionID, err)
	}
}

// maybeSnapshot claims the cadence slot and checkpoints the session when
// enough events landed since the last snapshot.
func (s *Service) maybeSnapshot(entry *openSession, lastSeq uint64) {
	entry.mu.Lock()
	due := lastSeq >= entry.snapshotSeq+s.snapshotEvery
	if due {
		entry.snapshotSeq = lastSeq
	}
	entry.mu.Unlock()
	if due {
		s.takeSnapshot(entry)
	}
}

// takeSnapshot persists the runtime's current checkpoint. Best effort: a
// failed write costs a longer replay on the next reopen, nothing more.
func (s *Service) takeSnapshot(entry *openSession) {
	state, seq := entry.runtime.Checkpoint()
	if seq == 0 {
		return
	}
	sum, err := session.Checksum(state)
	if err != nil {
		log.Printf("session %s: checksum snapshot state: %v", entry.runtime.SessionID(), err)
		return
	}
	data, err := session.MarshalState(state)
	if err != nil {
		log.Printf("session %s: encode snapshot state: %v", entry.runtime.SessionID(), err)
		return
	}
	err = s.snapshots.PutSnapshot(context.Background(), storage.SnapshotRecord{
		SessionID: entry.runtime.SessionID(),
		Seq:       seq,
		State:     data,
		Checksum:  sum,
		TakenAt:   s.now().UTC(),
	})
	if err != nil {
		log.Printf("session %s: persist snapshot at seq %d: %v", entry.runtime.SessionID(), seq, err)
	}
}

// evict removes the entry if it is still the registered one for the id.
func (s *Service) evict(sessionID string, entry *openSession) {
	s.mu.Lock()
	if current, ok := s.open[sessionID]; ok && current == entry {
		delete(s.open, sessionID)
	}
	s.mu.Unlock()
}

func (s *Service) closedErr() error {
	return errors.New(errors.CodeUnavailable, "combat service is closed")
}

func actorOrDefault(actorID string) string {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return defaultActorID
	}
	return actorID
}

func sessionNotFound(sessionID string) error {
	return errors.WithMetadata(errors.CodeNotFound, "session not found", map[string]string{
		"SessionID": sessionID,
	})
}
