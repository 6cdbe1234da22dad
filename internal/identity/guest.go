package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/models"
)

// Provider supplies the stable actor identity used to attribute created
// content and to seed the voted-set.
type Provider interface {
	CurrentActor() (models.Actor, bool)
}

type guestRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GuestStore persists a guest identity in a JSON file so the same actor id
// survives restarts.
type GuestStore struct {
	path  string
	actor models.Actor
}

// LoadGuest reads the stored guest record or creates a fresh one.
func LoadGuest(path string) (*GuestStore, error) {
	s := &GuestStore{path: path}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		var rec guestRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" {
			rec = guestRecord{ID: uuid.New().String()}
			if err := s.write(rec); err != nil {
				return nil, err
			}
		}
		s.actor = models.Actor{ID: rec.ID, Name: rec.Name, Kind: models.ActorGuest}
	case errors.Is(err, fs.ErrNotExist):
		rec := guestRecord{ID: uuid.New().String()}
		if err := s.write(rec); err != nil {
			return nil, err
		}
		s.actor = models.Actor{ID: rec.ID, Kind: models.ActorGuest}
	default:
		return nil, fmt.Errorf("identity: read guest store: %w", err)
	}
	return s, nil
}

func (s *GuestStore) CurrentActor() (models.Actor, bool) {
	return s.actor, true
}

// SetName updates the guest display name and persists it.
func (s *GuestStore) SetName(name string) (models.Actor, error) {
	s.actor.Name = strings.TrimSpace(name)
	if err := s.write(guestRecord{ID: s.actor.ID, Name: s.actor.Name}); err != nil {
		return models.Actor{}, err
	}
	return s.actor, nil
}

func (s *GuestStore) write(rec guestRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("identity: marshal guest record: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("identity: write guest store: %w", err)
	}
	return nil
}

// Static wraps an already-authenticated actor as a Provider.
type Static struct {
	Actor models.Actor
}

func (s Static) CurrentActor() (models.Actor, bool) {
	return s.Actor, s.Actor.ID != ""
}
