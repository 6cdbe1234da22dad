package models

import (
	"errors"
	"time"
)

var (
	ErrQuestionIsEmpty  = errors.New("question content is empty")
	ErrOptionIsEmpty    = errors.New("option is empty")
	ErrNotEnoughOptions = errors.New("the number of options should be at least 2")
	ErrAlreadyVoted     = errors.New("your vote already written")
	ErrDuplicateVote    = errors.New("vote already recorded by the server")
	ErrQuestionNotFound = errors.New("question is not found")
	ErrPollNotFound     = errors.New("poll is not found")
	ErrEventNotFound    = errors.New("event is not found")
	ErrOperationPending = errors.New("another operation for this item is pending")
	ErrSessionClosed    = errors.New("session is closed")
	ErrUnknownOptionKey = errors.New("option is not found")
)

type ActorKind string

const (
	ActorGuest         ActorKind = "guest"
	ActorAuthenticated ActorKind = "authenticated"
)

type Actor struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Kind ActorKind `json:"kind"`
}

type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Question struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Author      Author    `json:"author"`
	Upvotes     int       `json:"upvotes"`
	CreatedAt   time.Time `json:"created_at"`
	UpvotedByMe bool      `json:"is_upvoted_by_me"`
}

type PollOption struct {
	Key   string `json:"key"`
	Votes int    `json:"votes"`
}

type Poll struct {
	ID           string       `json:"id"`
	QuestionText string       `json:"question_text"`
	Options      []PollOption `json:"options"`
	TotalVotes   int          `json:"total_votes"`
	// MyVote holds the option key the current actor voted for, empty if none.
	MyVote string `json:"my_vote"`
}

type Event struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Questions   map[string]*Question `json:"questions"`
	Polls       map[string]*Poll     `json:"polls"`
}

// Option returns the poll option with the given key, nil if absent.
func (p *Poll) Option(key string) *PollOption {
	for i := range p.Options {
		if p.Options[i].Key == key {
			return &p.Options[i]
		}
	}
	return nil
}

func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Options = make([]PollOption, len(p.Options))
	copy(cp.Options, p.Options)
	return &cp
}

func (q *Question) Clone() *Question {
	if q == nil {
		return nil
	}
	cq := *q
	return &cq
}

// Clone deep-copies the event so readers never share memory with the
// engine's working snapshot.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	ce := &Event{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		Questions:   make(map[string]*Question, len(e.Questions)),
		Polls:       make(map[string]*Poll, len(e.Polls)),
	}
	for id, q := range e.Questions {
		ce.Questions[id] = q.Clone()
	}
	for id, p := range e.Polls {
		ce.Polls[id] = p.Clone()
	}
	return ce
}
