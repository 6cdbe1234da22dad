package gateway

import (
	"context"
	"sync"

	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/models"
)

// Gateway executes reads and writes against the source of truth and exposes
// the per-event push streams. Implementations decode every response into a
// typed value or a sentinel error from internal/models before it reaches the
// engine; retry and backoff are the implementation's business, the engine
// only reacts to eventual success or failure.
type Gateway interface {
	FetchEvent(ctx context.Context, eventID, actorID string) (*models.Event, error)
	CreateQuestion(ctx context.Context, eventID, content string, author models.Actor) (*models.Question, error)
	CastUpvote(ctx context.Context, eventID, questionID, actorID string) (*models.Question, error)
	CreatePoll(ctx context.Context, eventID, questionText string, options []string) (*models.Poll, error)
	CastPollVote(ctx context.Context, eventID, pollID, optionKey, actorID string) (*models.Poll, error)
	SubscribeQuestionUpdates(ctx context.Context, eventID string) (*QuestionSubscription, error)
	SubscribePollUpdates(ctx context.Context, eventID string) (*PollSubscription, error)
}

// QuestionSubscription delivers question push updates on C until closed.
// Close is safe to call more than once and from any goroutine.
type QuestionSubscription struct {
	C    <-chan models.QuestionUpdate
	stop func()
	once sync.Once
}

func NewQuestionSubscription(c <-chan models.QuestionUpdate, stop func()) *QuestionSubscription {
	return &QuestionSubscription{C: c, stop: stop}
}

func (s *QuestionSubscription) Close() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// PollSubscription delivers poll push updates on C until closed.
type PollSubscription struct {
	C    <-chan models.PollUpdate
	stop func()
	once sync.Once
}

func NewPollSubscription(c <-chan models.PollUpdate, stop func()) *PollSubscription {
	return &PollSubscription{C: c, stop: stop}
}

func (s *PollSubscription) Close() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}
