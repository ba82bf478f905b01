package journal

import (
	"context"
	"strconv"

	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/session"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
)

// Applier folds one committed event into the running state.
type Applier func(state session.State, evt event.Event) (session.State, error)

// Options configures a replay pass.
type Options struct {
	// AfterSeq skips events at or below this sequence, for resuming from a
	// snapshot.
	AfterSeq uint64
	// UntilSeq stops after applying this sequence; zero replays to the end.
	UntilSeq uint64
	// PageSize bounds each journal read.
	PageSize int
}

// Result captures a replay outcome.
type Result struct {
	State   session.State
	LastSeq uint64
	Applied int
}

// Replay pages through the session's stream in order and applies each event.
// Sequences must be gapless; a gap aborts with the partial result.
func Replay(ctx context.Context, store Store, sessionID string, state session.State, apply Applier, options Options) (Result, error) {
	if store == nil {
		return Result{}, ErrStoreRequired
	}
	if sessionID == "" {
		return Result{}, ErrSessionIDRequired
	}
	if apply == nil {
		apply = session.Fold
	}
	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	result := Result{State: state, LastSeq: options.AfterSeq}
	for {
		events, err := store.ListEvents(ctx, sessionID, result.LastSeq, pageSize)
		if err != nil {
			return result, err
		}
		if len(events) == 0 {
			return result, nil
		}
		for _, evt := range events {
			if options.UntilSeq > 0 && evt.Seq > options.UntilSeq {
				return result, nil
			}
			if evt.Seq != result.LastSeq+1 {
				return result, corrupt(evt.Seq, "sequence gap", map[string]string{
					"Expected": strconv.FormatUint(result.LastSeq+1, 10),
				})
			}
			next, err := apply(result.State, evt)
			if err != nil {
				return result, err
			}
			result.State = next
			result.LastSeq = evt.Seq
			result.Applied++
		}
	}
}

// Rebuild replays the whole stream from an empty state, verifying the state
// checksum recorded on every event. A mismatch means the stream and the fold
// logic disagree about history and the session must not come back online.
func Rebuild(ctx context.Context, store Store, sessionID string) (Result, error) {
	return Replay(ctx, store, sessionID, session.NewState(), VerifiedFold, Options{})
}

// VerifiedFold folds the event and cross-checks the resulting state against
// the checksum the event was committed with.
func VerifiedFold(state session.State, evt event.Event) (session.State, error) {
	next, err := session.Fold(state, evt)
	if err != nil {
		return state, err
	}
	if evt.StateChecksum != "" {
		sum, err := session.Checksum(next)
		if err != nil {
			return state, err
		}
		if sum != evt.StateChecksum {
			return state, errors.WithMetadata(errors.CodeChecksumMismatch, "state checksum mismatch", map[string]string{
				"Seq":      strconv.FormatUint(evt.Seq, 10),
				"Type":     string(evt.Type),
				"Expected": evt.StateChecksum,
				"Computed": sum,
			})
		}
	}
	return next, nil
}
