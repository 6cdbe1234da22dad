package models

// QuestionUpdate is a push notification about one question. Deleted marks a
// tombstone: the item must be dropped from the snapshot instead of upserted.
type QuestionUpdate struct {
	Question Question `json:"question"`
	Deleted  bool     `json:"deleted,omitempty"`
}

// PollUpdate is a push notification about one poll.
type PollUpdate struct {
	Poll    Poll `json:"poll"`
	Deleted bool `json:"deleted,omitempty"`
}
