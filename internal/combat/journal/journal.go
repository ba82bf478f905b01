// Package journal persists the append-only event stream backing each combat
// session and rebuilds state from it.
//
// Every appended event is sealed into a per-session hash chain. Verification
// walks the chain and recomputes every link, so a flipped bit or a spliced
// stream surfaces as a typed error instead of silently corrupt state.
package journal

import (
	stderrors "errors"
	"strconv"

	"context"

	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
)

const defaultPageSize = 200

var (
	// ErrStoreRequired indicates a missing journal store.
	ErrStoreRequired = stderrors.New("journal store is required")
	// ErrSessionIDRequired indicates a missing session id.
	ErrSessionIDRequired = stderrors.New("session id is required")
)

// Store is the append-only event journal.
//
// Append validates the event, assigns the next sequence number, and seals it
// into the session's hash chain. ListEvents returns events with sequence
// greater than afterSeq in ascending order, at most limit at a time.
type Store interface {
	Append(ctx context.Context, evt event.Event) (event.Event, error)
	ListEvents(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]event.Event, error)
	LatestSeq(ctx context.Context, sessionID string) (uint64, error)
}

// VerifyChain recomputes every hash link in the session's stream and reports
// the first broken one. A nil return means the stream is intact.
func VerifyChain(ctx context.Context, store Store, sessionID string) error {
	if store == nil {
		return ErrStoreRequired
	}
	if sessionID == "" {
		return ErrSessionIDRequired
	}

	var lastSeq uint64
	prevChainHash := ""
	for {
		events, err := store.ListEvents(ctx, sessionID, lastSeq, defaultPageSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, evt := range events {
			if evt.Seq != lastSeq+1 {
				return corrupt(evt.Seq, "sequence gap", map[string]string{
					"Expected": strconv.FormatUint(lastSeq+1, 10),
				})
			}
			if evt.Seq == 1 && evt.PrevHash != "" {
				return corrupt(evt.Seq, "first event prev hash must be empty", nil)
			}
			if evt.Seq > 1 && evt.PrevHash != prevChainHash {
				return corrupt(evt.Seq, "prev hash mismatch", nil)
			}

			hash, err := event.EventHash(evt)
			if err != nil {
				return err
			}
			if hash != evt.Hash {
				return corrupt(evt.Seq, "event hash mismatch", nil)
			}

			chainHash, err := event.ChainHash(evt, prevChainHash)
			if err != nil {
				return err
			}
			if chainHash != evt.ChainHash {
				return corrupt(evt.Seq, "chain hash mismatch", nil)
			}

			prevChainHash = evt.ChainHash
			lastSeq = evt.Seq
		}
	}
}

func corrupt(seq uint64, message string, extra map[string]string) error {
	metadata := map[string]string{"Seq": strconv.FormatUint(seq, 10)}
	for k, v := range extra {
		metadata[k] = v
	}
	return errors.WithMetadata(errors.CodeJournalCorrupt, message, metadata)
}
