package main

import (
	"encoding/json"
	logg "log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/config"
	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/models"
	"github.com/7475-TrungHau/Realtime-QA-Poll/pkg/logger"
)

// devserver is an in-memory stand-in for the production gateway: it serves
// the same HTTP/websocket surface the client speaks, holds everything in
// process and broadcasts every change to all subscribers. Meant for local
// development and demos only.

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type eventState struct {
	ev        *models.Event
	upvoters  map[string]map[string]struct{} // question id -> actor ids
	pollVotes map[string]map[string]string   // poll id -> actor id -> option key
	qsubs     map[*websocket.Conn]struct{}
	psubs     map[*websocket.Conn]struct{}
}

type server struct {
	log *zap.Logger

	mu     sync.Mutex
	events map[string]*eventState
}

func newServer(log *zap.Logger) *server {
	s := &server{
		log:    log,
		events: make(map[string]*eventState),
	}
	s.seed()
	return s
}

func (s *server) seed() {
	ev := &models.Event{
		ID:          "demo",
		Name:        "Demo Event",
		Description: "Live Q&A and polls playground",
		Questions:   make(map[string]*models.Question),
		Polls:       make(map[string]*models.Poll),
	}
	q := &models.Question{
		ID:        uuid.New().String(),
		Content:   "Will the slides be shared afterwards?",
		Author:    models.Author{ID: "seed", Name: "Organizer"},
		Upvotes:   0,
		CreatedAt: time.Now(),
	}
	ev.Questions[q.ID] = q
	p := &models.Poll{
		ID:           uuid.New().String(),
		QuestionText: "Which topic should we cover next?",
		Options: []models.PollOption{
			{Key: "Concurrency"},
			{Key: "Generics"},
		},
	}
	ev.Polls[p.ID] = p
	s.events[ev.ID] = &eventState{
		ev:        ev,
		upvoters:  make(map[string]map[string]struct{}),
		pollVotes: make(map[string]map[string]string),
		qsubs:     make(map[*websocket.Conn]struct{}),
		psubs:     make(map[*websocket.Conn]struct{}),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func (s *server) state(eventID string) *eventState {
	return s.events[eventID]
}

func (s *server) handleFetchEvent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(mux.Vars(r)["eventID"])
	if st == nil {
		writeError(w, http.StatusNotFound, "event_not_found", "unknown event")
		return
	}
	actorID := r.URL.Query().Get("actor_id")
	view := st.ev.Clone()
	for id, q := range view.Questions {
		_, voted := st.upvoters[id][actorID]
		q.UpvotedByMe = voted
	}
	for id, p := range view.Polls {
		p.MyVote = st.pollVotes[id][actorID]
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string        `json:"content"`
		Author  models.Author `json:"author"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if body.Content == "" {
		writeError(w, http.StatusBadRequest, "empty_question", "content is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(mux.Vars(r)["eventID"])
	if st == nil {
		writeError(w, http.StatusNotFound, "event_not_found", "unknown event")
		return
	}
	q := &models.Question{
		ID:        uuid.New().String(),
		Content:   body.Content,
		Author:    body.Author,
		CreatedAt: time.Now(),
	}
	st.ev.Questions[q.ID] = q
	s.broadcastQuestion(st, *q, false)
	writeJSON(w, http.StatusCreated, q)
}

func (s *server) handleCastUpvote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActorID string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vars := mux.Vars(r)
	st := s.state(vars["eventID"])
	if st == nil {
		writeError(w, http.StatusNotFound, "event_not_found", "unknown event")
		return
	}
	q, ok := st.ev.Questions[vars["questionID"]]
	if !ok {
		writeError(w, http.StatusNotFound, "question_not_found", "unknown question")
		return
	}
	voters := st.upvoters[q.ID]
	if voters == nil {
		voters = make(map[string]struct{})
		st.upvoters[q.ID] = voters
	}
	// an upvote is a toggle: the same actor casting again retracts it
	if _, voted := voters[body.ActorID]; voted {
		delete(voters, body.ActorID)
	} else {
		voters[body.ActorID] = struct{}{}
	}
	q.Upvotes = len(voters)
	s.broadcastQuestion(st, *q, false)
	writeJSON(w, http.StatusOK, q)
}

func (s *server) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vars := mux.Vars(r)
	st := s.state(vars["eventID"])
	if st == nil {
		writeError(w, http.StatusNotFound, "event_not_found", "unknown event")
		return
	}
	q, ok := st.ev.Questions[vars["questionID"]]
	if !ok {
		writeError(w, http.StatusNotFound, "question_not_found", "unknown question")
		return
	}
	delete(st.ev.Questions, q.ID)
	delete(st.upvoters, q.ID)
	s.broadcastQuestion(st, models.Question{ID: q.ID}, true)
	writeJSON(w, http.StatusOK, map[string]string{"id": q.ID})
}

func (s *server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		QuestionText string   `json:"question_text"`
		Options      []string `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if body.QuestionText == "" {
		writeError(w, http.StatusBadRequest, "empty_question", "question_text is required")
		return
	}
	if len(body.Options) < 2 {
		writeError(w, http.StatusBadRequest, "not_enough_options", "at least 2 options required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(mux.Vars(r)["eventID"])
	if st == nil {
		writeError(w, http.StatusNotFound, "event_not_found", "unknown event")
		return
	}
	options := make([]models.PollOption, 0, len(body.Options))
	for _, key := range body.Options {
		if key == "" {
			writeError(w, http.StatusBadRequest, "empty_option", "option keys must be non-empty")
			return
		}
		options = append(options, models.PollOption{Key: key})
	}
	p := &models.Poll{
		ID:           uuid.New().String(),
		QuestionText: body.QuestionText,
		Options:      options,
	}
	st.ev.Polls[p.ID] = p
	s.broadcastPoll(st, *p, false)
	writeJSON(w, http.StatusCreated, p)
}

func (s *server) handleCastPollVote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OptionKey string `json:"option_key"`
		ActorID   string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vars := mux.Vars(r)
	st := s.state(vars["eventID"])
	if st == nil {
		writeError(w, http.StatusNotFound, "event_not_found", "unknown event")
		return
	}
	p, ok := st.ev.Polls[vars["pollID"]]
	if !ok {
		writeError(w, http.StatusNotFound, "poll_not_found", "unknown poll")
		return
	}
	opt := p.Option(body.OptionKey)
	if opt == nil {
		writeError(w, http.StatusNotFound, "option_not_found", "unknown option")
		return
	}
	votes := st.pollVotes[p.ID]
	if votes == nil {
		votes = make(map[string]string)
		st.pollVotes[p.ID] = votes
	}
	if _, voted := votes[body.ActorID]; voted {
		writeError(w, http.StatusConflict, "duplicate_vote", "actor already voted on this poll")
		return
	}
	votes[body.ActorID] = body.OptionKey
	opt.Votes++
	p.TotalVotes++
	s.broadcastPoll(st, *p, false)
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleSubscribeQuestions(w http.ResponseWriter, r *http.Request) {
	s.subscribe(w, r, true)
}

func (s *server) handleSubscribePolls(w http.ResponseWriter, r *http.Request) {
	s.subscribe(w, r, false)
}

func (s *server) subscribe(w http.ResponseWriter, r *http.Request, questions bool) {
	s.mu.Lock()
	st := s.state(mux.Vars(r)["eventID"])
	s.mu.Unlock()
	if st == nil {
		writeError(w, http.StatusNotFound, "event_not_found", "unknown event")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	if questions {
		st.qsubs[conn] = struct{}{}
	} else {
		st.psubs[conn] = struct{}{}
	}
	s.mu.Unlock()
	s.log.Debug("subscriber joined", zap.Bool("questions", questions))

	// the read side only exists to detect the peer going away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				delete(st.qsubs, conn)
				delete(st.psubs, conn)
				s.mu.Unlock()
				_ = conn.Close()
				return
			}
		}
	}()
}

// broadcastQuestion pushes the shared view of a question to all subscribers.
// Actor-scoped fields are stripped: each viewer derives their own.
func (s *server) broadcastQuestion(st *eventState, q models.Question, deleted bool) {
	q.UpvotedByMe = false
	u := models.QuestionUpdate{Question: q, Deleted: deleted}
	for conn := range st.qsubs {
		if err := conn.WriteJSON(u); err != nil {
			delete(st.qsubs, conn)
			_ = conn.Close()
		}
	}
}

func (s *server) broadcastPoll(st *eventState, p models.Poll, deleted bool) {
	p.MyVote = ""
	u := models.PollUpdate{Poll: p, Deleted: deleted}
	for conn := range st.psubs {
		if err := conn.WriteJSON(u); err != nil {
			delete(st.psubs, conn)
			_ = conn.Close()
		}
	}
}

func main() {
	cfg, err := config.New()
	if err != nil {
		logg.Fatalf("failed to load config: %s", err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		logg.Fatalf("failed to initalize logger: %s", err)
	}

	s := newServer(log)
	r := mux.NewRouter()
	r.HandleFunc("/events/{eventID}", s.handleFetchEvent).Methods(http.MethodGet)
	r.HandleFunc("/events/{eventID}/questions", s.handleCreateQuestion).Methods(http.MethodPost)
	r.HandleFunc("/events/{eventID}/questions/{questionID}/upvote", s.handleCastUpvote).Methods(http.MethodPost)
	r.HandleFunc("/events/{eventID}/questions/{questionID}", s.handleDeleteQuestion).Methods(http.MethodDelete)
	r.HandleFunc("/events/{eventID}/polls", s.handleCreatePoll).Methods(http.MethodPost)
	r.HandleFunc("/events/{eventID}/polls/{pollID}/votes", s.handleCastPollVote).Methods(http.MethodPost)
	r.HandleFunc("/events/{eventID}/questions/subscribe", s.handleSubscribeQuestions).Methods(http.MethodGet)
	r.HandleFunc("/events/{eventID}/polls/subscribe", s.handleSubscribePolls).Methods(http.MethodGet)

	addr := ":8080"
	log.Info("devserver listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal("devserver stopped", zap.Error(err))
	}
}
