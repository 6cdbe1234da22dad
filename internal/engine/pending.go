package engine

import (
	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/models"
)

type OpKind string

const (
	OpCreateQuestion OpKind = "create_question"
	OpToggleUpvote   OpKind = "toggle_upvote"
	OpCreatePoll     OpKind = "create_poll"
	OpCastPollVote   OpKind = "cast_poll_vote"
)

// PendingOp tracks one in-flight mutation between its optimistic apply and
// its confirmation or rollback.
type PendingOp struct {
	Token     int64
	ItemID    string
	Kind      OpKind
	SessionID string

	discarded bool
	// inverse undoes the optimistic delta of this operation, including any
	// coalesced toggles applied on top of it.
	inverse func()
	// queuedFlips counts upvote toggles that arrived while this operation
	// was in flight. Only the net direction is dispatched on resolution.
	queuedFlips int
	// upvoted is the direction this toggle moved the question to.
	upvoted bool
}

type slotKey struct {
	itemID string
	kind   OpKind
}

// Registry enforces at most one in-flight operation per (itemID, kind) and
// owns token lifecycle. Not safe for concurrent use; the session loop
// serializes all access.
type Registry struct {
	nextToken int64
	byToken   map[int64]*PendingOp
	bySlot    map[slotKey]*PendingOp
}

func NewRegistry() *Registry {
	return &Registry{
		byToken: make(map[int64]*PendingOp),
		bySlot:  make(map[slotKey]*PendingOp),
	}
}

// Acquire reserves the (itemID, kind) slot. models.ErrOperationPending
// signals the caller to coalesce instead of issuing a second request.
func (r *Registry) Acquire(itemID string, kind OpKind, sessionID string) (*PendingOp, error) {
	key := slotKey{itemID: itemID, kind: kind}
	if _, busy := r.bySlot[key]; busy {
		return nil, models.ErrOperationPending
	}
	r.nextToken++
	op := &PendingOp{
		Token:     r.nextToken,
		ItemID:    itemID,
		Kind:      kind,
		SessionID: sessionID,
	}
	r.byToken[op.Token] = op
	r.bySlot[key] = op
	return op, nil
}

// Pending returns the in-flight operation holding the (itemID, kind) slot,
// nil if the slot is free.
func (r *Registry) Pending(itemID string, kind OpKind) *PendingOp {
	return r.bySlot[slotKey{itemID: itemID, kind: kind}]
}

// Lookup resolves a token. It returns nil for unknown tokens and for tokens
// whose owning session was discarded, so late callbacks become no-ops.
func (r *Registry) Lookup(token int64) *PendingOp {
	op, ok := r.byToken[token]
	if !ok || op.discarded {
		return nil
	}
	return op
}

func (r *Registry) Release(token int64) {
	op, ok := r.byToken[token]
	if !ok {
		return
	}
	delete(r.byToken, token)
	delete(r.bySlot, slotKey{itemID: op.ItemID, kind: op.Kind})
}

// DiscardSession invalidates every token owned by the session. The slots are
// freed immediately so a later session can mutate the same items.
func (r *Registry) DiscardSession(sessionID string) {
	for _, op := range r.byToken {
		if op.SessionID != sessionID {
			continue
		}
		op.discarded = true
		delete(r.bySlot, slotKey{itemID: op.ItemID, kind: op.Kind})
	}
}
