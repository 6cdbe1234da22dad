package models

// IntentKind names the user-initiated mutations the engine understands.
type IntentKind string

const (
	IntentCreateQuestion IntentKind = "create_question"
	IntentToggleUpvote   IntentKind = "toggle_upvote"
	IntentCreatePoll     IntentKind = "create_poll"
	IntentCastPollVote   IntentKind = "cast_poll_vote"
)

type Intent interface {
	Kind() IntentKind
	// Validate runs before any optimistic apply; a non-nil error means no
	// local mutation and no network call happen at all.
	Validate() error
}

type CreateQuestionIntent struct {
	Content string
}

func (CreateQuestionIntent) Kind() IntentKind { return IntentCreateQuestion }

func (i CreateQuestionIntent) Validate() error {
	if len(i.Content) < 1 {
		return ErrQuestionIsEmpty
	}
	return nil
}

type ToggleUpvoteIntent struct {
	QuestionID string
}

func (ToggleUpvoteIntent) Kind() IntentKind { return IntentToggleUpvote }

func (i ToggleUpvoteIntent) Validate() error {
	if i.QuestionID == "" {
		return ErrQuestionNotFound
	}
	return nil
}

type CreatePollIntent struct {
	QuestionText string
	Options      []string
}

func (CreatePollIntent) Kind() IntentKind { return IntentCreatePoll }

func (i CreatePollIntent) Validate() error {
	if len(i.QuestionText) < 1 {
		return ErrQuestionIsEmpty
	}
	if len(i.Options) < 2 {
		return ErrNotEnoughOptions
	}
	for _, opt := range i.Options {
		if len(opt) < 1 {
			return ErrOptionIsEmpty
		}
	}
	return nil
}

type CastPollVoteIntent struct {
	PollID    string
	OptionKey string
}

func (CastPollVoteIntent) Kind() IntentKind { return IntentCastPollVote }

func (i CastPollVoteIntent) Validate() error {
	if i.PollID == "" {
		return ErrPollNotFound
	}
	if i.OptionKey == "" {
		return ErrUnknownOptionKey
	}
	return nil
}

// Outcome is the typed result of one intent, delivered after the gateway
// round trip resolved (or immediately for local rejections). A nil Err means
// the authoritative state was merged into the snapshot.
type Outcome struct {
	Kind   IntentKind
	ItemID string
	Err    error
}
