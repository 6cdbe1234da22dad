package models

import "sort"

// OrderedQuestions derives the display order: most upvoted first, ties
// broken by creation time then id. Storage order is never persisted.
func (e *Event) OrderedQuestions() []*Question {
	out := make([]*Question, 0, len(e.Questions))
	for _, q := range e.Questions {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Upvotes != out[j].Upvotes {
			return out[i].Upvotes > out[j].Upvotes
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OrderedPolls derives the display order: most voted first, ties broken by id.
func (e *Event) OrderedPolls() []*Poll {
	out := make([]*Poll, 0, len(e.Polls))
	for _, p := range e.Polls {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalVotes != out[j].TotalVotes {
			return out[i].TotalVotes > out[j].TotalVotes
		}
		return out[i].ID < out[j].ID
	})
	return out
}
