package engine

import (
	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/models"
)

// Tracker records which questions and polls the current actor has already
// acted on. Question votes are toggleable; a poll vote is terminal for the
// lifetime of the session.
type Tracker struct {
	actorID   string
	questions map[string]struct{}
	polls     map[string]struct{}
}

func NewTracker(actorID string) *Tracker {
	return &Tracker{
		actorID:   actorID,
		questions: make(map[string]struct{}),
		polls:     make(map[string]struct{}),
	}
}

// Seed loads the actor-scoped flags delivered with the event snapshot.
func (t *Tracker) Seed(ev *models.Event) {
	for id, q := range ev.Questions {
		if q.UpvotedByMe {
			t.questions[id] = struct{}{}
		}
	}
	for id, p := range ev.Polls {
		if p.MyVote != "" {
			t.polls[id] = struct{}{}
		}
	}
}

func (t *Tracker) HasVotedQuestion(questionID string) bool {
	_, ok := t.questions[questionID]
	return ok
}

func (t *Tracker) HasVotedPoll(pollID string) bool {
	_, ok := t.polls[pollID]
	return ok
}

// ToggleQuestion flips the membership of questionID and returns the new
// state. A toggle is its own inverse.
func (t *Tracker) ToggleQuestion(questionID string) bool {
	if t.HasVotedQuestion(questionID) {
		delete(t.questions, questionID)
		return false
	}
	t.questions[questionID] = struct{}{}
	return true
}

func (t *Tracker) MarkPollVoted(pollID string) {
	t.polls[pollID] = struct{}{}
}

func (t *Tracker) ClearPollVote(pollID string) {
	delete(t.polls, pollID)
}

func (t *Tracker) ForgetQuestion(questionID string) {
	delete(t.questions, questionID)
}

func (t *Tracker) ForgetPoll(pollID string) {
	delete(t.polls, pollID)
}
