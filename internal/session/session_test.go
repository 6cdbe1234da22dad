package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/gateway"
	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/models"
	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/session"
)

type fakeGateway struct {
	mu sync.Mutex

	events map[string]*models.Event

	createQuestionFunc func(eventID, content string, author models.Actor) (*models.Question, error)
	castUpvoteFunc     func(eventID, questionID, actorID string) (*models.Question, error)
	createPollFunc     func(eventID, questionText string, options []string) (*models.Poll, error)
	castPollVoteFunc   func(eventID, pollID, optionKey, actorID string) (*models.Poll, error)

	upvoteCalls int
	voteCalls   int
	qch         chan models.QuestionUpdate
	pch         chan models.PollUpdate
	qstops      int
	pstops      int
}

func newFakeGateway(events ...*models.Event) *fakeGateway {
	f := &fakeGateway{
		events: make(map[string]*models.Event),
		qch:    make(chan models.QuestionUpdate),
		pch:    make(chan models.PollUpdate),
	}
	for _, ev := range events {
		f.events[ev.ID] = ev
	}
	return f
}

func (f *fakeGateway) FetchEvent(_ context.Context, eventID, _ string) (*models.Event, error) {
	ev, ok := f.events[eventID]
	if !ok {
		return nil, models.ErrEventNotFound
	}
	return ev.Clone(), nil
}

func (f *fakeGateway) CreateQuestion(_ context.Context, eventID, content string, author models.Actor) (*models.Question, error) {
	if f.createQuestionFunc != nil {
		return f.createQuestionFunc(eventID, content, author)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) CastUpvote(_ context.Context, eventID, questionID, actorID string) (*models.Question, error) {
	f.mu.Lock()
	f.upvoteCalls++
	f.mu.Unlock()
	if f.castUpvoteFunc != nil {
		return f.castUpvoteFunc(eventID, questionID, actorID)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) CreatePoll(_ context.Context, eventID, questionText string, options []string) (*models.Poll, error) {
	if f.createPollFunc != nil {
		return f.createPollFunc(eventID, questionText, options)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) CastPollVote(_ context.Context, eventID, pollID, optionKey, actorID string) (*models.Poll, error) {
	f.mu.Lock()
	f.voteCalls++
	f.mu.Unlock()
	if f.castPollVoteFunc != nil {
		return f.castPollVoteFunc(eventID, pollID, optionKey, actorID)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) SubscribeQuestionUpdates(context.Context, string) (*gateway.QuestionSubscription, error) {
	return gateway.NewQuestionSubscription(f.qch, func() {
		f.mu.Lock()
		f.qstops++
		f.mu.Unlock()
	}), nil
}

func (f *fakeGateway) SubscribePollUpdates(context.Context, string) (*gateway.PollSubscription, error) {
	return gateway.NewPollSubscription(f.pch, func() {
		f.mu.Lock()
		f.pstops++
		f.mu.Unlock()
	}), nil
}

func (f *fakeGateway) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upvoteCalls, f.voteCalls
}

func demoEvent(id string) *models.Event {
	return &models.Event{
		ID: id,
		Questions: map[string]*models.Question{
			"q1": {
				ID: "q1", Content: "first?",
				Author:    models.Author{ID: "seed", Name: "Organizer"},
				Upvotes:   5,
				CreatedAt: time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC),
			},
		},
		Polls: map[string]*models.Poll{
			"p1": {
				ID: "p1", QuestionText: "which?",
				Options:    []models.PollOption{{Key: "A", Votes: 3}, {Key: "B", Votes: 2}},
				TotalVotes: 5,
			},
		},
	}
}

var testActor = models.Actor{ID: "actor-1", Name: "Guest", Kind: models.ActorGuest}

func startSession(t *testing.T, f *fakeGateway, eventID string) *session.Session {
	t.Helper()
	s := session.New(f, testActor, zap.NewNop())
	require.NoError(t, s.Start(context.Background(), eventID))
	t.Cleanup(s.Close)
	return s
}

func nextOutcome(t *testing.T, s *session.Session) models.Outcome {
	t.Helper()
	select {
	case out := <-s.Outcomes():
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an outcome")
		return models.Outcome{}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestUpvoteAppliedBeforeConfirmation(t *testing.T) {
	f := newFakeGateway(demoEvent("e1"))
	gate := make(chan struct{})
	f.castUpvoteFunc = func(_, questionID, _ string) (*models.Question, error) {
		<-gate
		return &models.Question{
			ID: questionID, Content: "first?",
			Author:  models.Author{ID: "seed", Name: "Organizer"},
			Upvotes: 6,
		}, nil
	}
	s := startSession(t, f, "e1")

	require.NoError(t, s.IssueIntent(models.ToggleUpvoteIntent{QuestionID: "q1"}))
	eventually(t, func() bool {
		q := s.Snapshot().Questions["q1"]
		return q.Upvotes == 6 && q.UpvotedByMe
	}, "optimistic delta visible before the gateway responds")

	close(gate)
	out := nextOutcome(t, s)
	assert.NoError(t, out.Err)
	assert.Equal(t, models.IntentToggleUpvote, out.Kind)

	q := s.Snapshot().Questions["q1"]
	assert.Equal(t, 6, q.Upvotes)
	assert.True(t, q.UpvotedByMe)
}

func TestValidationRejectsBeforeAnyCall(t *testing.T) {
	f := newFakeGateway(demoEvent("e1"))
	s := startSession(t, f, "e1")

	assert.ErrorIs(t, s.IssueIntent(models.CreateQuestionIntent{}), models.ErrQuestionIsEmpty)
	assert.ErrorIs(t, s.IssueIntent(models.CreatePollIntent{QuestionText: "x", Options: []string{"only"}}), models.ErrNotEnoughOptions)
	assert.ErrorIs(t, s.IssueIntent(models.CreatePollIntent{QuestionText: "x", Options: []string{"a", ""}}), models.ErrOptionIsEmpty)

	upvotes, votes := f.calls()
	assert.Zero(t, upvotes)
	assert.Zero(t, votes)
	assert.Equal(t, 5, s.Snapshot().Questions["q1"].Upvotes, "no optimistic delta for rejected intents")
}

func TestDoubleToggleCoalescesToOneFollowUp(t *testing.T) {
	f := newFakeGateway(demoEvent("e1"))
	gate := make(chan struct{})
	f.castUpvoteFunc = func(_, questionID, _ string) (*models.Question, error) {
		f.mu.Lock()
		call := f.upvoteCalls
		f.mu.Unlock()
		if call == 1 {
			<-gate
			return &models.Question{ID: questionID, Content: "first?", Author: models.Author{ID: "seed", Name: "Organizer"}, Upvotes: 6}, nil
		}
		return &models.Question{ID: questionID, Content: "first?", Author: models.Author{ID: "seed", Name: "Organizer"}, Upvotes: 5}, nil
	}
	s := startSession(t, f, "e1")

	require.NoError(t, s.IssueIntent(models.ToggleUpvoteIntent{QuestionID: "q1"}))
	eventually(t, func() bool { return s.Snapshot().Questions["q1"].Upvotes == 6 }, "first toggle applied")

	require.NoError(t, s.IssueIntent(models.ToggleUpvoteIntent{QuestionID: "q1"}))
	eventually(t, func() bool {
		q := s.Snapshot().Questions["q1"]
		return q.Upvotes == 5 && !q.UpvotedByMe
	}, "second toggle restores the pre-toggle values")

	upvotes, _ := f.calls()
	assert.Equal(t, 1, upvotes, "the second toggle is coalesced, not dispatched")

	close(gate)
	eventually(t, func() bool {
		calls, _ := f.calls()
		return calls == 2
	}, "exactly one follow-up call carries the net direction")

	eventually(t, func() bool {
		q := s.Snapshot().Questions["q1"]
		return q.Upvotes == 5 && !q.UpvotedByMe
	}, "final state equals the pre-toggle state")
}

func TestPushUpdatesMergedIntoSnapshot(t *testing.T) {
	f := newFakeGateway(demoEvent("e1"))
	s := startSession(t, f, "e1")

	f.qch <- models.QuestionUpdate{Question: models.Question{
		ID: "q2", Content: "second?", Author: models.Author{ID: "other", Name: "Viewer"}, Upvotes: 1,
	}}
	eventually(t, func() bool {
		_, ok := s.Snapshot().Questions["q2"]
		return ok
	}, "pushed question inserted")

	f.pch <- models.PollUpdate{Poll: models.Poll{
		ID: "p1", QuestionText: "which?",
		Options:    []models.PollOption{{Key: "A", Votes: 7}, {Key: "B", Votes: 2}},
		TotalVotes: 9,
	}}
	eventually(t, func() bool {
		return s.Snapshot().Polls["p1"].TotalVotes == 9
	}, "pushed poll counts merged")

	f.qch <- models.QuestionUpdate{Question: models.Question{ID: "q2"}, Deleted: true}
	eventually(t, func() bool {
		_, ok := s.Snapshot().Questions["q2"]
		return !ok
	}, "tombstone removes the question")
}

func TestDuplicateVoteConflictCorrectsLocalState(t *testing.T) {
	f := newFakeGateway(demoEvent("e1"))
	f.castPollVoteFunc = func(string, string, string, string) (*models.Poll, error) {
		return nil, models.ErrDuplicateVote
	}
	s := startSession(t, f, "e1")

	require.NoError(t, s.IssueIntent(models.CastPollVoteIntent{PollID: "p1", OptionKey: "B"}))
	out := nextOutcome(t, s)
	assert.ErrorIs(t, out.Err, models.ErrDuplicateVote)

	p := s.Snapshot().Polls["p1"]
	assert.Equal(t, 2, p.Option("B").Votes)
	assert.Equal(t, 5, p.TotalVotes)
	assert.Equal(t, "", p.MyVote)

	// local state is corrected to voted: the next cast never reaches the wire
	require.NoError(t, s.IssueIntent(models.CastPollVoteIntent{PollID: "p1", OptionKey: "A"}))
	out = nextOutcome(t, s)
	assert.ErrorIs(t, out.Err, models.ErrAlreadyVoted)
	_, votes := f.calls()
	assert.Equal(t, 1, votes)
}

func TestCreateQuestionTemporaryIDRemapped(t *testing.T) {
	f := newFakeGateway(demoEvent("e1"))
	f.createQuestionFunc = func(_, content string, author models.Actor) (*models.Question, error) {
		return &models.Question{
			ID: "srv-42", Content: content,
			Author:    models.Author{ID: author.ID, Name: author.Name},
			CreatedAt: time.Now(),
		}, nil
	}
	s := startSession(t, f, "e1")

	require.NoError(t, s.IssueIntent(models.CreateQuestionIntent{Content: "when is lunch?"}))
	out := nextOutcome(t, s)
	require.NoError(t, out.Err)
	assert.Equal(t, "srv-42", out.ItemID)

	snap := s.Snapshot()
	require.Contains(t, snap.Questions, "srv-42")
	for id := range snap.Questions {
		assert.False(t, strings.HasPrefix(id, "local-"), "temporary id must be remapped")
	}
}

func TestLateConfirmationCannotTouchNextSession(t *testing.T) {
	f := newFakeGateway(demoEvent("e1"), demoEvent("e2"))
	gate := make(chan struct{})
	f.castUpvoteFunc = func(_, questionID, _ string) (*models.Question, error) {
		<-gate
		return &models.Question{ID: questionID, Content: "first?", Author: models.Author{ID: "seed", Name: "Organizer"}, Upvotes: 6}, nil
	}

	prev := session.New(f, testActor, zap.NewNop())
	require.NoError(t, prev.Start(context.Background(), "e1"))
	require.NoError(t, prev.IssueIntent(models.ToggleUpvoteIntent{QuestionID: "q1"}))
	require.Eventually(t, func() bool {
		return prev.Snapshot().Questions["q1"].Upvotes == 6
	}, 2*time.Second, 5*time.Millisecond)
	prev.Close()

	next := startSession(t, f, "e2")
	before := next.Snapshot()

	// the old session's round trip resolves only now
	close(gate)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, before, next.Snapshot(), "late confirmation for a closed session is inert")
	assert.Equal(t, 5, next.Snapshot().Questions["q1"].Upvotes)
}

func TestCloseTearsDownSubscriptionsOnce(t *testing.T) {
	f := newFakeGateway(demoEvent("e1"))
	s := session.New(f, testActor, zap.NewNop())
	require.NoError(t, s.Start(context.Background(), "e1"))

	s.Close()
	s.Close()

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.qstops)
	assert.Equal(t, 1, f.pstops)

	assert.ErrorIs(t, s.IssueIntent(models.ToggleUpvoteIntent{QuestionID: "q1"}), models.ErrSessionClosed)
}

func TestSnapshotChangeNotifications(t *testing.T) {
	f := newFakeGateway(demoEvent("e1"))
	s := startSession(t, f, "e1")

	id, changes := s.Subscribe()
	defer s.Unsubscribe(id)

	f.qch <- models.QuestionUpdate{Question: models.Question{ID: "q3", Content: "third?"}}
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification after a push update")
	}
	assert.Contains(t, s.Snapshot().Questions, "q3")
}
