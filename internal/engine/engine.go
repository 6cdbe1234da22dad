package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/models"
)

// Engine owns the canonical in-memory snapshot of one event. It applies
// optimistic deltas synchronously, merges gateway confirmations and push
// updates, and rolls back on failure. All methods must be called from the
// single goroutine that serializes the session; the Engine itself performs
// no locking and no I/O.
type Engine struct {
	log       *zap.Logger
	actor     models.Actor
	sessionID string
	event     *models.Event
	reg       *Registry
	tracker   *Tracker
}

func New(actor models.Actor, event *models.Event, log *zap.Logger) *Engine {
	if event.Questions == nil {
		event.Questions = make(map[string]*models.Question)
	}
	if event.Polls == nil {
		event.Polls = make(map[string]*models.Poll)
	}
	tracker := NewTracker(actor.ID)
	tracker.Seed(event)
	return &Engine{
		log:       log,
		actor:     actor,
		sessionID: uuid.New().String(),
		event:     event,
		reg:       NewRegistry(),
		tracker:   tracker,
	}
}

func (e *Engine) SessionID() string {
	return e.sessionID
}

// Snapshot returns a deep copy the presentation layer may keep and read
// freely.
func (e *Engine) Snapshot() *models.Event {
	return e.event.Clone()
}

func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// ApplyOptimistic mutates the snapshot immediately and returns the pending
// operation to dispatch to the gateway. A (nil, nil) result means the intent
// was coalesced into an already in-flight operation and nothing more must be
// sent. It never blocks.
func (e *Engine) ApplyOptimistic(intent models.Intent) (*PendingOp, error) {
	switch it := intent.(type) {
	case models.CreateQuestionIntent:
		return e.optimisticCreateQuestion(it)
	case models.ToggleUpvoteIntent:
		return e.optimisticToggleUpvote(it)
	case models.CreatePollIntent:
		return e.optimisticCreatePoll(it)
	case models.CastPollVoteIntent:
		return e.optimisticCastPollVote(it)
	default:
		return nil, fmt.Errorf("engine: unsupported intent %q", intent.Kind())
	}
}

func (e *Engine) optimisticCreateQuestion(it models.CreateQuestionIntent) (*PendingOp, error) {
	tempID := "local-" + uuid.New().String()
	op, err := e.reg.Acquire(tempID, OpCreateQuestion, e.sessionID)
	if err != nil {
		return nil, fmt.Errorf("engine: acquire slot for new question: %w", err)
	}
	e.event.Questions[tempID] = &models.Question{
		ID:        tempID,
		Content:   it.Content,
		Author:    models.Author{ID: e.actor.ID, Name: e.actor.Name},
		CreatedAt: time.Now(),
	}
	op.inverse = func() {
		delete(e.event.Questions, tempID)
	}
	e.log.Debug("optimistic question inserted",
		zap.String("temp_id", tempID),
		zap.String("session_id", e.sessionID))
	return op, nil
}

func (e *Engine) optimisticCreatePoll(it models.CreatePollIntent) (*PendingOp, error) {
	tempID := "local-" + uuid.New().String()
	op, err := e.reg.Acquire(tempID, OpCreatePoll, e.sessionID)
	if err != nil {
		return nil, fmt.Errorf("engine: acquire slot for new poll: %w", err)
	}
	options := make([]models.PollOption, len(it.Options))
	for i, key := range it.Options {
		options[i] = models.PollOption{Key: key}
	}
	e.event.Polls[tempID] = &models.Poll{
		ID:           tempID,
		QuestionText: it.QuestionText,
		Options:      options,
	}
	op.inverse = func() {
		delete(e.event.Polls, tempID)
	}
	e.log.Debug("optimistic poll inserted",
		zap.String("temp_id", tempID),
		zap.String("session_id", e.sessionID))
	return op, nil
}

func (e *Engine) optimisticToggleUpvote(it models.ToggleUpvoteIntent) (*PendingOp, error) {
	q, ok := e.event.Questions[it.QuestionID]
	if !ok {
		return nil, models.ErrQuestionNotFound
	}
	if inflight := e.reg.Pending(it.QuestionID, OpToggleUpvote); inflight != nil {
		// Coalesce: flip the local state, queue the flip on the in-flight
		// operation, dispatch nothing. The net direction is resolved when
		// the operation confirms or fails.
		voted := e.tracker.ToggleQuestion(it.QuestionID)
		applyUpvoteDelta(q, voted)
		inflight.queuedFlips++
		e.log.Debug("upvote toggle coalesced",
			zap.String("question_id", it.QuestionID),
			zap.Int("queued_flips", inflight.queuedFlips))
		return nil, nil
	}
	op, err := e.reg.Acquire(it.QuestionID, OpToggleUpvote, e.sessionID)
	if err != nil {
		return nil, fmt.Errorf("engine: acquire slot for upvote: %w", err)
	}
	voted := e.tracker.ToggleQuestion(it.QuestionID)
	applyUpvoteDelta(q, voted)
	op.upvoted = voted
	op.inverse = e.toggleInverse(op)
	return op, nil
}

func (e *Engine) optimisticCastPollVote(it models.CastPollVoteIntent) (*PendingOp, error) {
	p, ok := e.event.Polls[it.PollID]
	if !ok {
		return nil, models.ErrPollNotFound
	}
	if e.tracker.HasVotedPoll(it.PollID) {
		return nil, models.ErrAlreadyVoted
	}
	opt := p.Option(it.OptionKey)
	if opt == nil {
		return nil, models.ErrUnknownOptionKey
	}
	op, err := e.reg.Acquire(it.PollID, OpCastPollVote, e.sessionID)
	if err != nil {
		return nil, models.ErrAlreadyVoted
	}
	opt.Votes++
	p.TotalVotes++
	p.MyVote = it.OptionKey
	e.tracker.MarkPollVoted(it.PollID)
	optionKey := it.OptionKey
	op.inverse = func() {
		cur, ok := e.event.Polls[op.ItemID]
		if ok {
			if o := cur.Option(optionKey); o != nil && o.Votes > 0 {
				o.Votes--
			}
			if cur.TotalVotes > 0 {
				cur.TotalVotes--
			}
			cur.MyVote = ""
		}
		e.tracker.ClearPollVote(op.ItemID)
	}
	return op, nil
}

// ConfirmQuestion merges the authoritative question returned for the given
// token. For creations the temporary id is swapped for the canonical one.
// The returned operation, when non-nil, is the single follow-up toggle that
// must be dispatched because the user flipped the upvote again while the
// confirmed call was in flight.
func (e *Engine) ConfirmQuestion(token int64, q models.Question) *PendingOp {
	op := e.reg.Lookup(token)
	if op == nil {
		e.log.Debug("dropping stale question confirmation", zap.Int64("token", token))
		return nil
	}
	// release before any follow-up so the slot can be re-acquired
	e.reg.Release(token)

	switch op.Kind {
	case OpCreateQuestion:
		delete(e.event.Questions, op.ItemID)
		e.upsertQuestion(q)
		e.log.Debug("question id remapped",
			zap.String("temp_id", op.ItemID),
			zap.String("canonical_id", q.ID))
		return nil
	case OpToggleUpvote:
		cur, ok := e.event.Questions[op.ItemID]
		if !ok {
			return nil
		}
		desired := e.tracker.HasVotedQuestion(op.ItemID)
		cur.Content = q.Content
		cur.Author = q.Author
		cur.Upvotes = q.Upvotes
		if !q.CreatedAt.IsZero() {
			cur.CreatedAt = q.CreatedAt
		}
		cur.UpvotedByMe = op.upvoted
		if op.queuedFlips%2 == 0 || desired == op.upvoted {
			return nil
		}
		// Net direction differs from the confirmed state: re-apply the
		// desired optimistic state and hand back exactly one follow-up call.
		follow, err := e.reg.Acquire(op.ItemID, OpToggleUpvote, op.SessionID)
		if err != nil {
			e.log.Warn("upvote slot busy during follow-up", zap.String("question_id", op.ItemID))
			return nil
		}
		applyUpvoteDelta(cur, desired)
		follow.upvoted = desired
		follow.inverse = e.toggleInverse(follow)
		return follow
	default:
		e.log.Warn("question confirmation for unexpected operation",
			zap.String("kind", string(op.Kind)))
		return nil
	}
}

// ConfirmPoll merges the authoritative poll returned for the given token.
func (e *Engine) ConfirmPoll(token int64, p models.Poll) {
	op := e.reg.Lookup(token)
	if op == nil {
		e.log.Debug("dropping stale poll confirmation", zap.Int64("token", token))
		return
	}
	defer e.reg.Release(token)

	switch op.Kind {
	case OpCreatePoll:
		delete(e.event.Polls, op.ItemID)
		if cur, ok := e.event.Polls[p.ID]; ok {
			// a push for the canonical id beat the confirmation
			e.mergePollShared(cur, p)
		} else {
			np := p.Clone()
			e.event.Polls[p.ID] = np
		}
		e.log.Debug("poll id remapped",
			zap.String("temp_id", op.ItemID),
			zap.String("canonical_id", p.ID))
	case OpCastPollVote:
		cur, ok := e.event.Polls[op.ItemID]
		if !ok {
			return
		}
		e.mergePollShared(cur, p)
	default:
		e.log.Warn("poll confirmation for unexpected operation",
			zap.String("kind", string(op.Kind)))
	}
}

// Fail rolls back the optimistic delta of the given token. The cause decides
// how: concurrent deletion drops the item, a duplicate-vote conflict keeps
// the poll marked voted, anything else restores the pre-intent state.
func (e *Engine) Fail(token int64, cause error) {
	op := e.reg.Lookup(token)
	if op == nil {
		e.log.Debug("dropping stale failure", zap.Int64("token", token))
		return
	}
	defer e.reg.Release(token)

	switch {
	case errors.Is(cause, models.ErrQuestionNotFound) && op.Kind == OpToggleUpvote:
		delete(e.event.Questions, op.ItemID)
		e.tracker.ForgetQuestion(op.ItemID)
	case errors.Is(cause, models.ErrPollNotFound) && op.Kind == OpCastPollVote:
		delete(e.event.Polls, op.ItemID)
		e.tracker.ForgetPoll(op.ItemID)
	case errors.Is(cause, models.ErrDuplicateVote) && op.Kind == OpCastPollVote:
		if op.inverse != nil {
			op.inverse()
		}
		// the server says this actor already voted, so the local set keeps
		// the poll terminal even though the optimistic cast was undone
		e.tracker.MarkPollVoted(op.ItemID)
	default:
		if op.inverse != nil {
			op.inverse()
		}
	}
	e.log.Debug("operation rolled back",
		zap.String("item_id", op.ItemID),
		zap.String("kind", string(op.Kind)),
		zap.Error(cause))
}

// ApplyQuestionUpdate merges one push notification. It is idempotent:
// applying the same update twice yields the same snapshot.
func (e *Engine) ApplyQuestionUpdate(u models.QuestionUpdate) {
	if u.Deleted {
		delete(e.event.Questions, u.Question.ID)
		e.tracker.ForgetQuestion(u.Question.ID)
		return
	}
	e.upsertQuestion(u.Question)
}

// ApplyPollUpdate merges one push notification about a poll.
func (e *Engine) ApplyPollUpdate(u models.PollUpdate) {
	if u.Deleted {
		delete(e.event.Polls, u.Poll.ID)
		e.tracker.ForgetPoll(u.Poll.ID)
		return
	}
	if cur, ok := e.event.Polls[u.Poll.ID]; ok {
		e.mergePollShared(cur, u.Poll)
		return
	}
	np := u.Poll.Clone()
	np.MyVote = ""
	e.event.Polls[u.Poll.ID] = np
}

// DiscardSession marks every pending operation owned by the session as
// discarded; late confirmations and failures for those tokens are no-ops.
func (e *Engine) DiscardSession(sessionID string) {
	e.reg.DiscardSession(sessionID)
}

// upsertQuestion overwrites the shared fields of an existing entry or
// inserts a new one. The actor-scoped flag is preserved on overwrite and
// derived from the local voted set on insert.
func (e *Engine) upsertQuestion(q models.Question) {
	if cur, ok := e.event.Questions[q.ID]; ok {
		cur.Content = q.Content
		cur.Author = q.Author
		cur.Upvotes = q.Upvotes
		if !q.CreatedAt.IsZero() {
			cur.CreatedAt = q.CreatedAt
		}
		return
	}
	nq := q
	nq.UpvotedByMe = e.tracker.HasVotedQuestion(q.ID)
	e.event.Questions[q.ID] = &nq
}

// mergePollShared overwrites the shared poll fields, keeping the
// actor-scoped vote marker.
func (e *Engine) mergePollShared(dst *models.Poll, src models.Poll) {
	dst.QuestionText = src.QuestionText
	dst.Options = make([]models.PollOption, len(src.Options))
	copy(dst.Options, src.Options)
	dst.TotalVotes = src.TotalVotes
}

// toggleInverse builds the rollback for an upvote toggle, accounting for
// flips coalesced on top of it: only a net flip is undone.
func (e *Engine) toggleInverse(op *PendingOp) func() {
	return func() {
		if (1+op.queuedFlips)%2 == 0 {
			return
		}
		q, ok := e.event.Questions[op.ItemID]
		if !ok {
			return
		}
		voted := e.tracker.ToggleQuestion(op.ItemID)
		applyUpvoteDelta(q, voted)
	}
}

func applyUpvoteDelta(q *models.Question, voted bool) {
	if voted {
		q.Upvotes++
	} else if q.Upvotes > 0 {
		q.Upvotes--
	}
	q.UpvotedByMe = voted
}
