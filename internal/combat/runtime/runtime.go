// Package runtime hosts the live write path of one combat session.
//
// A single goroutine per session owns the replayed state and applies intents
// strictly in arrival order. Transport handlers enqueue a submission and
// block on its reply; validation and apply form the only critical section,
// so a client deliberating over its next move never holds up anyone else's
// submission. Queued submissions can be withdrawn before they reach the
// loop head, and idempotency tokens make retries safe.
package runtime

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/intent"
	"github.com/ttrpg-tools/crossfire/internal/combat/journal"
	"github.com/ttrpg-tools/crossfire/internal/combat/session"
	"github.com/ttrpg-tools/crossfire/internal/combat/storage"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
	"github.com/ttrpg-tools/crossfire/internal/platform/id"
	"github.com/ttrpg-tools/crossfire/internal/random"
)

const (
	defaultQueueSize        = 64
	defaultIdempotencyLimit = 4000
	defaultWatchBuffer      = 16
)

var (
	// ErrSessionIDRequired indicates a missing session id.
	ErrSessionIDRequired = stderrors.New("session id is required")
	// ErrJournalRequired indicates a missing journal store.
	ErrJournalRequired = stderrors.New("journal store is required")
)

// Config assembles the dependencies of one session runtime.
type Config struct {
	// SessionID is the combat session this runtime owns.
	SessionID string
	// Journal receives committed events.
	Journal journal.Store
	// Intents validates submissions; nil uses the default registry.
	Intents *intent.Registry
	// State is the replayed resume point; nil starts from an empty session.
	State *session.State
	// LastSeq is the journal position State was replayed to.
	LastSeq uint64
	// Tokens persists idempotency records so token replay survives a
	// reopen; nil keeps tokens in memory only.
	Tokens storage.IdempotencyStore
	// QueueSize bounds the submission queue; zero uses the default.
	QueueSize int
	// IdempotencyLimit bounds the token cache; zero uses the default.
	IdempotencyLimit int
	// WatchBuffer is the per-watcher delta channel capacity.
	WatchBuffer int
	// Now stamps decisions; nil uses time.Now.
	Now func() time.Time
	// NewID assigns participant identifiers; nil uses id.NewID.
	NewID func() (string, error)
	// NewSeed draws initiative seeds; nil uses random.NewTieBreak.
	NewSeed func() (int64, error)
	// Observe receives a record for every answered submission; nil disables
	// lifecycle reporting.
	Observe func(ctx context.Context, obs Observation)
}

// Runtime is the single writer of one combat session.
type Runtime struct {
	sessionID string
	intents   *intent.Registry
	journal   journal.Store
	tokens    storage.IdempotencyStore
	now       func() time.Time
	newID     func() (string, error)
	newSeed   func() (int64, error)
	observe   func(ctx context.Context, obs Observation)

	idempotencyLimit int
	watchBuffer      int

	submissions chan submission
	done        chan struct{}
	stopped     chan struct{}
	closeOnce   sync.Once

	mu        sync.Mutex
	view      session.State
	lastSeq   uint64
	pending   map[string]int
	withdrawn map[string]struct{}
	watchers  map[chan session.StateDelta]struct{}
	failure   error
}

type submission struct {
	ctx        context.Context
	intent     intent.Intent
	enqueuedAt time.Time
	reply      chan outcome
}

type outcome struct {
	delta    session.StateDelta
	err      error
	replayed bool
}

// Observation describes one answered submission for lifecycle reporting.
// EnqueuedAt and DecidedAt come from the same runtime clock, so their
// difference is the time the submission waited behind earlier arrivals.
type Observation struct {
	SessionID  string
	Kind       intent.Kind
	ActorType  intent.ActorType
	ActorID    string
	Token      string
	EnqueuedAt time.Time
	DecidedAt  time.Time
	// Replayed marks an idempotency token hit answered with the stored
	// result of the first apply.
	Replayed bool
	// Seq and Events describe the committed delta; zero when rejected.
	Seq    uint64
	Events int
	// Err is the rejection; nil when the submission was applied or replayed.
	Err error
}

type idempotencyRecord struct {
	fingerprint string
	delta       session.StateDelta
}

// New starts the runtime goroutine for one session.
func New(cfg Config) (*Runtime, error) {
	sessionID := strings.TrimSpace(cfg.SessionID)
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	if cfg.Journal == nil {
		return nil, ErrJournalRequired
	}
	registry := cfg.Intents
	if registry == nil {
		registry = intent.DefaultRegistry()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	idempotencyLimit := cfg.IdempotencyLimit
	if idempotencyLimit <= 0 {
		idempotencyLimit = defaultIdempotencyLimit
	}
	watchBuffer := cfg.WatchBuffer
	if watchBuffer <= 0 {
		watchBuffer = defaultWatchBuffer
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

	state := session.NewState()
	if cfg.State != nil {
		state = cfg.State.Clone()
	}

	r := &Runtime{
		sessionID:        sessionID,
		intents:          registry,
		journal:          cfg.Journal,
		tokens:           cfg.Tokens,
		now:              now,
		newID:            newID,
		newSeed:          newSeed,
		observe:          cfg.Observe,
		idempotencyLimit: idempotencyLimit,
		watchBuffer:      watchBuffer,
		submissions:      make(chan submission, queueSize),
		done:             make(chan struct{}),
		stopped:          make(chan struct{}),
		view:             state.Clone(),
		lastSeq:          cfg.LastSeq,
		pending:          make(map[string]int),
		withdrawn:        make(map[string]struct{}),
		watchers:         make(map[chan session.StateDelta]struct{}),
	}
	go r.loop(state)
	return r, nil
}

// SessionID returns the session this runtime owns.
func (r *Runtime) SessionID() string {
	return r.sessionID
}

// Submit enqueues an intent and blocks until it is applied, rejected, or the
// caller's context ends. An intent without a session id inherits the
// runtime's session.
func (r *Runtime) Submit(ctx context.Context, it intent.Intent) (session.StateDelta, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	it.SessionID = strings.TrimSpace(it.SessionID)
	if it.SessionID == "" {
		it.SessionID = r.sessionID
	}
	if it.SessionID != r.sessionID {
		return session.StateDelta{}, errors.WithMetadata(errors.CodeNotFound, "intent targets another session", map[string]string{
			"SessionID": it.SessionID,
		})
	}

	sub := submission{
		ctx:        ctx,
		intent:     it,
		enqueuedAt: r.now().UTC(),
		reply:      make(chan outcome, 1),
	}
	token := strings.TrimSpace(it.Token)
	if token != "" {
		r.trackPending(token, 1)
	}

	select {
	case r.submissions <- sub:
	case <-r.done:
		if token != "" {
			r.trackPending(token, -1)
		}
		return session.StateDelta{}, r.closedErr()
	case <-ctx.Done():
		if token != "" {
			r.trackPending(token, -1)
		}
		return session.StateDelta{}, ctx.Err()
	}

	select {
	case out := <-sub.reply:
		return out.delta, out.err
	case <-ctx.Done():
		return session.StateDelta{}, ctx.Err()
	}
}

// Cancel withdraws a queued submission by its idempotency token before the
// loop applies it. It reports whether a matching submission was pending;
// submissions already applied are never rolled back.
func (r *Runtime) Cancel(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[token] == 0 {
		return false
	}
	r.withdrawn[token] = struct{}{}
	return true
}

// Watch subscribes to committed deltas. Slow watchers lose deltas instead of
// stalling the loop; a watcher that missed one resyncs from Snapshot. The
// returned stop function unsubscribes and closes the channel.
func (r *Runtime) Watch() (<-chan session.StateDelta, func()) {
	ch := make(chan session.StateDelta, r.watchBuffer)
	r.mu.Lock()
	r.watchers[ch] = struct{}{}
	r.mu.Unlock()
	stop := func() {
		r.mu.Lock()
		if _, ok := r.watchers[ch]; ok {
			delete(r.watchers, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, stop
}

// Snapshot returns the latest committed view of session state.
func (r *Runtime) Snapshot() (session.Snapshot, error) {
	r.mu.Lock()
	state := r.view.Clone()
	r.mu.Unlock()
	snap := state.Snapshot()
	sum, err := session.Checksum(state)
	if err != nil {
		return session.Snapshot{}, err
	}
	snap.Checksum = sum
	return snap, nil
}

// State returns a clone of the latest committed state.
func (r *Runtime) State() session.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Clone()
}

// Checkpoint returns the latest committed state together with its journal
// position as one consistent pair, for snapshot writers.
func (r *Runtime) Checkpoint() (session.State, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Clone(), r.lastSeq
}

// LastSeq returns the journal position of the latest committed event.
func (r *Runtime) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}

// Close stops the loop, answers queued submissions with an unavailable
// error, and closes every watcher channel. It is safe to call twice.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	<-r.stopped
	r.mu.Lock()
	for watcher := range r.watchers {
		close(watcher)
	}
	r.watchers = make(map[chan session.StateDelta]struct{})
	r.mu.Unlock()
}

func (r *Runtime) loop(state session.State) {
	defer close(r.stopped)
	idempotencyBy := make(map[string]idempotencyRecord)
	var idempotencyOrder []string
	for {
		select {
		case <-r.done:
			r.drain()
			return
		case sub := <-r.submissions:
			state = r.process(state, idempotencyBy, &idempotencyOrder, sub)
		}
	}
}

// drain answers submissions still queued at close time so no submitter
// stays blocked.
func (r *Runtime) drain() {
	for {
		select {
		case sub := <-r.submissions:
			if token := strings.TrimSpace(sub.intent.Token); token != "" {
				r.trackPending(token, -1)
			}
			r.answer(sub, outcome{err: r.closedErr()})
		default:
			return
		}
	}
}

// answer reports the finished submission to the lifecycle observer and then
// unblocks the submitter.
func (r *Runtime) answer(sub submission, out outcome) {
	if r.observe != nil {
		r.observe(sub.ctx, Observation{
			SessionID:  r.sessionID,
			Kind:       sub.intent.Kind,
			ActorType:  sub.intent.ActorType,
			ActorID:    sub.intent.ActorID,
			Token:      strings.TrimSpace(sub.intent.Token),
			EnqueuedAt: sub.enqueuedAt,
			DecidedAt:  r.now().UTC(),
			Replayed:   out.replayed,
			Seq:        out.delta.LastSeq,
			Events:     len(out.delta.Events),
			Err:        out.err,
		})
	}
	sub.reply <- out
}

func (r *Runtime) process(state session.State, idempotencyBy map[string]idempotencyRecord, idempotencyOrder *[]string, sub submission) session.State {
	token := strings.TrimSpace(sub.intent.Token)
	if token != "" {
		r.trackPending(token, -1)
		if r.consumeWithdrawn(token) {
			r.answer(sub, outcome{err: errors.WithMetadata(errors.CodeIntentWithdrawn, "intent was withdrawn before it was applied", map[string]string{
				"Token": token,
			})})
			return state
		}
	}
	if err := sub.ctx.Err(); err != nil {
		// The submitter is gone; skip without applying.
		r.answer(sub, outcome{err: err})
		return state
	}

	validated, err := r.intents.ValidateForDecision(sub.intent)
	if err != nil {
		r.answer(sub, outcome{err: errors.Wrap(errors.CodeIntentInvalid, err.Error(), err)})
		return state
	}

	var fingerprint string
	if token != "" {
		fingerprint, err = intent.Fingerprint(validated)
		if err != nil {
			r.answer(sub, outcome{err: errors.Wrap(errors.CodeInternal, "fingerprint intent", err)})
			return state
		}
		if record, ok := idempotencyBy[token]; ok {
			if record.fingerprint == fingerprint {
				r.answer(sub, outcome{delta: record.delta, replayed: true})
				return state
			}
			r.answer(sub, outcome{err: errors.WithMetadata(errors.CodeConflict, "token was already used with a different payload", map[string]string{
				"Token": token,
			})})
			return state
		}
		if replied := r.replayStoredToken(sub, token, fingerprint); replied {
			return state
		}
	}

	enriched, err := r.enrich(state, validated)
	if err != nil {
		r.answer(sub, outcome{err: err})
		return state
	}

	decision := session.Decide(state, enriched, r.now)
	if !decision.Accepted() {
		r.answer(sub, outcome{err: decision.Err()})
		return state
	}

	next := state
	events := decision.Events
	for i := range events {
		folded, err := session.Fold(next, events[i])
		if err != nil {
			r.answer(sub, outcome{err: errors.Wrap(errors.CodeInternal, "apply decided event", err)})
			return state
		}
		next = folded
		sum, err := session.Checksum(next)
		if err != nil {
			r.answer(sub, outcome{err: errors.Wrap(errors.CodeInternal, "checksum state", err)})
			return state
		}
		events[i].StateChecksum = sum
	}

	// The commit is detached from the submitter's context: once the decision
	// is made the events land regardless of the caller hanging up.
	stored := make([]event.Event, 0, len(events))
	for _, evt := range events {
		appended, err := r.journal.Append(context.Background(), evt)
		if err != nil {
			// State and journal can no longer be trusted to agree; stop the
			// loop so the session is reopened by replay.
			r.fail(errors.Wrap(errors.CodeUnavailable, "append event", err))
			r.answer(sub, outcome{err: errors.Wrap(errors.CodeUnavailable, "append event", err)})
			return state
		}
		stored = append(stored, appended)
	}

	delta := session.StateDelta{
		LastSeq: stored[len(stored)-1].Seq,
		Events:  session.Summaries(stored),
	}
	snap := next.Snapshot()
	snap.Checksum = stored[len(stored)-1].StateChecksum
	delta.Snapshot = snap

	if token != "" {
		idempotencyBy[token] = idempotencyRecord{fingerprint: fingerprint, delta: delta}
		*idempotencyOrder = append(*idempotencyOrder, token)
		if len(*idempotencyOrder) > r.idempotencyLimit {
			evict := (*idempotencyOrder)[0]
			*idempotencyOrder = (*idempotencyOrder)[1:]
			delete(idempotencyBy, evict)
		}
		r.storeToken(token, fingerprint, delta)
	}

	r.publish(next, delta)
	r.answer(sub, outcome{delta: delta})
	return next
}

// replayStoredToken consults the durable token store after a memory cache
// miss. It reports whether the submission was answered: a matching record
// replays the original result, a mismatched fingerprint conflicts, and a
// lookup failure refuses the submission rather than risk a double apply.
func (r *Runtime) replayStoredToken(sub submission, token, fingerprint string) bool {
	if r.tokens == nil {
		return false
	}
	rec, err := r.tokens.GetIdempotency(context.Background(), r.sessionID, token)
	if stderrors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err != nil {
		r.answer(sub, outcome{err: errors.Wrap(errors.CodeUnavailable, "look up idempotency token", err)})
		return true
	}
	if rec.Fingerprint != fingerprint {
		r.answer(sub, outcome{err: errors.WithMetadata(errors.CodeConflict, "token was already used with a different payload", map[string]string{
			"Token": token,
		})})
		return true
	}
	var delta session.StateDelta
	if err := json.Unmarshal(rec.Delta, &delta); err != nil {
		r.answer(sub, outcome{err: errors.Wrap(errors.CodeInternal, "decode stored token result", err)})
		return true
	}
	r.answer(sub, outcome{delta: delta, replayed: true})
	return true
}

// storeToken persists a committed result for replay after a reopen. The
// events already landed, so a persistence failure only narrows the replay
// window to this process and is not worth failing the submission over.
func (r *Runtime) storeToken(token, fingerprint string, delta session.StateDelta) {
	if r.tokens == nil {
		return
	}
	payload, err := json.Marshal(delta)
	if err == nil {
		err = r.tokens.PutIdempotency(context.Background(), storage.IdempotencyRecord{
			SessionID:   r.sessionID,
			Token:       token,
			Fingerprint: fingerprint,
			Delta:       payload,
			CreatedAt:   r.now().UTC(),
		})
	}
	if err != nil {
		log.Printf("session %s: persist idempotency token: %v", r.sessionID, err)
	}
}

// publish records the committed state for readers and fans the delta out to
// watchers. Sends never block; a full watcher channel drops the delta.
func (r *Runtime) publish(state session.State, delta session.StateDelta) {
	r.mu.Lock()
	r.view = state.Clone()
	r.lastSeq = delta.LastSeq
	for watcher := range r.watchers {
		select {
		case watcher <- delta:
		default:
		}
	}
	r.mu.Unlock()
}

func (r *Runtime) trackPending(token string, delta int) {
	r.mu.Lock()
	next := r.pending[token] + delta
	if next <= 0 {
		delete(r.pending, token)
	} else {
		r.pending[token] = next
	}
	r.mu.Unlock()
}

func (r *Runtime) consumeWithdrawn(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.withdrawn[token]; !ok {
		return false
	}
	delete(r.withdrawn, token)
	return true
}

func (r *Runtime) fail(err error) {
	r.mu.Lock()
	if r.failure == nil {
		r.failure = err
	}
	r.mu.Unlock()
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *Runtime) closedErr() error {
	r.mu.Lock()
	failure := r.failure
	r.mu.Unlock()
	if failure != nil {
		return failure
	}
	return errors.New(errors.CodeUnavailable, "session runtime is closed")
}
