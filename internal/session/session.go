package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/engine"
	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/gateway"
	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/models"
)

// Session runs one viewer's connection to one event. A single goroutine
// serializes user intents, gateway results and push updates, so the engine
// never sees concurrent mutation; the presentation layer reads a published
// immutable snapshot and listens on a change-notification channel.
type Session struct {
	log   *zap.Logger
	gw    gateway.Gateway
	actor models.Actor

	eventID string
	eng     *engine.Engine
	qsub    *gateway.QuestionSubscription
	psub    *gateway.PollSubscription
	cancel  context.CancelFunc

	intents  chan models.Intent
	results  chan result
	outcomes chan models.Outcome

	mu        sync.RWMutex
	published *models.Event
	subs      map[int]chan struct{}
	nextSub   int

	started   bool
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type result struct {
	token    int64
	kind     models.IntentKind
	itemID   string
	question *models.Question
	poll     *models.Poll
	err      error
}

func New(gw gateway.Gateway, actor models.Actor, log *zap.Logger) *Session {
	return &Session{
		log:      log,
		gw:       gw,
		actor:    actor,
		intents:  make(chan models.Intent, 16),
		results:  make(chan result, 16),
		outcomes: make(chan models.Outcome, 32),
		subs:     make(map[int]chan struct{}),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start fetches the event snapshot, opens both push subscriptions and runs
// the reconciliation loop until ctx ends or Close is called.
func (s *Session) Start(ctx context.Context, eventID string) error {
	ev, err := s.gw.FetchEvent(ctx, eventID, s.actor.ID)
	if err != nil {
		return fmt.Errorf("session: fetch event %s: %w", eventID, err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	qsub, err := s.gw.SubscribeQuestionUpdates(loopCtx, eventID)
	if err != nil {
		cancel()
		return fmt.Errorf("session: subscribe question updates: %w", err)
	}
	psub, err := s.gw.SubscribePollUpdates(loopCtx, eventID)
	if err != nil {
		qsub.Close()
		cancel()
		return fmt.Errorf("session: subscribe poll updates: %w", err)
	}

	s.eventID = eventID
	s.eng = engine.New(s.actor, ev, s.log)
	s.qsub = qsub
	s.psub = psub
	s.cancel = cancel
	s.started = true
	s.publish()
	s.log.Info("session started",
		zap.String("event_id", eventID),
		zap.String("session_id", s.eng.SessionID()),
		zap.String("actor_id", s.actor.ID))

	go s.run(loopCtx)
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer func() {
		// teardown happens here regardless of the exit path, so the push
		// subscriptions are released exactly once and late results for this
		// session become no-ops
		s.eng.DiscardSession(s.eng.SessionID())
		s.qsub.Close()
		s.psub.Close()
		s.cancel()
		s.log.Info("session stopped", zap.String("event_id", s.eventID))
		close(s.done)
	}()

	qc := s.qsub.C
	pc := s.psub.C
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case intent := <-s.intents:
			s.handleIntent(ctx, intent)
		case r := <-s.results:
			s.handleResult(ctx, r)
		case u, ok := <-qc:
			if !ok {
				qc = nil
				continue
			}
			s.eng.ApplyQuestionUpdate(u)
			s.publish()
		case u, ok := <-pc:
			if !ok {
				pc = nil
				continue
			}
			s.eng.ApplyPollUpdate(u)
			s.publish()
		}
	}
}

// IssueIntent submits a user intent. Validation failures are reported
// synchronously and cause no local mutation and no network call; everything
// else is fire-and-forget, with the result delivered on Outcomes.
func (s *Session) IssueIntent(intent models.Intent) error {
	if err := intent.Validate(); err != nil {
		return err
	}
	select {
	case <-s.closed:
		return models.ErrSessionClosed
	default:
	}
	select {
	case <-s.closed:
		return models.ErrSessionClosed
	case s.intents <- intent:
		return nil
	}
}

func (s *Session) handleIntent(ctx context.Context, intent models.Intent) {
	op, err := s.eng.ApplyOptimistic(intent)
	if err != nil {
		s.emit(models.Outcome{Kind: intent.Kind(), Err: err})
		return
	}
	s.publish()
	if op == nil {
		// coalesced into the in-flight operation for the same item
		return
	}
	s.dispatch(ctx, intent, op)
}

func (s *Session) dispatch(ctx context.Context, intent models.Intent, op *engine.PendingOp) {
	go func() {
		r := result{token: op.Token, kind: intent.Kind(), itemID: op.ItemID}
		switch it := intent.(type) {
		case models.CreateQuestionIntent:
			r.question, r.err = s.gw.CreateQuestion(ctx, s.eventID, it.Content, s.actor)
		case models.ToggleUpvoteIntent:
			r.question, r.err = s.gw.CastUpvote(ctx, s.eventID, it.QuestionID, s.actor.ID)
		case models.CreatePollIntent:
			r.poll, r.err = s.gw.CreatePoll(ctx, s.eventID, it.QuestionText, it.Options)
		case models.CastPollVoteIntent:
			r.poll, r.err = s.gw.CastPollVote(ctx, s.eventID, it.PollID, it.OptionKey, s.actor.ID)
		default:
			r.err = fmt.Errorf("session: unsupported intent %q", intent.Kind())
		}
		select {
		case s.results <- r:
		case <-ctx.Done():
		case <-s.closed:
		}
	}()
}

func (s *Session) handleResult(ctx context.Context, r result) {
	if r.err != nil {
		s.eng.Fail(r.token, r.err)
		s.publish()
		s.emit(models.Outcome{Kind: r.kind, ItemID: r.itemID, Err: r.err})
		return
	}
	switch {
	case r.question != nil:
		follow := s.eng.ConfirmQuestion(r.token, *r.question)
		s.publish()
		s.emit(models.Outcome{Kind: r.kind, ItemID: r.question.ID})
		if follow != nil {
			s.dispatch(ctx, models.ToggleUpvoteIntent{QuestionID: follow.ItemID}, follow)
		}
	case r.poll != nil:
		s.eng.ConfirmPoll(r.token, *r.poll)
		s.publish()
		s.emit(models.Outcome{Kind: r.kind, ItemID: r.poll.ID})
	default:
		s.log.Error("result carries neither payload nor error",
			zap.Int64("token", r.token),
			zap.String("kind", string(r.kind)))
	}
}

// Snapshot returns the last published deep copy of the event.
func (s *Session) Snapshot() *models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published
}

// Subscribe registers a coalesced snapshot-changed notification channel.
func (s *Session) Subscribe() (int, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[s.nextSub] = ch
	return s.nextSub, ch
}

func (s *Session) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Outcomes delivers one typed result per dispatched intent.
func (s *Session) Outcomes() <-chan models.Outcome {
	return s.outcomes
}

// Close tears the session down: subscriptions are released and every pending
// operation of this session is discarded, so a late confirmation can never
// touch a snapshot it no longer owns. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.started {
			<-s.done
		}
	})
}

func (s *Session) publish() {
	snap := s.eng.Snapshot()
	s.mu.Lock()
	s.published = snap
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Session) emit(out models.Outcome) {
	if out.Err != nil {
		s.log.Warn("intent failed",
			zap.String("kind", string(out.Kind)),
			zap.String("item_id", out.ItemID),
			zap.Error(out.Err))
	}
	select {
	case s.outcomes <- out:
	default:
		s.log.Debug("outcome dropped, no listener", zap.String("kind", string(out.Kind)))
	}
}
