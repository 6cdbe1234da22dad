package identity_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/identity"
	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/models"
)

func TestGuestIdentitySurvivesRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.json")

	first, err := identity.LoadGuest(path)
	require.NoError(t, err)
	actor, ok := first.CurrentActor()
	require.True(t, ok)
	assert.NotEmpty(t, actor.ID)
	assert.Equal(t, models.ActorGuest, actor.Kind)

	second, err := identity.LoadGuest(path)
	require.NoError(t, err)
	again, _ := second.CurrentActor()
	assert.Equal(t, actor.ID, again.ID, "the same guest id is loaded on restart")
}

func TestGuestSetNamePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.json")

	store, err := identity.LoadGuest(path)
	require.NoError(t, err)
	updated, err := store.SetName("  Hau  ")
	require.NoError(t, err)
	assert.Equal(t, "Hau", updated.Name)

	reloaded, err := identity.LoadGuest(path)
	require.NoError(t, err)
	actor, _ := reloaded.CurrentActor()
	assert.Equal(t, "Hau", actor.Name)
}

func TestCorruptGuestStoreIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store, err := identity.LoadGuest(path)
	require.NoError(t, err)
	actor, ok := store.CurrentActor()
	assert.True(t, ok)
	assert.NotEmpty(t, actor.ID)
}

func TestStaticProvider(t *testing.T) {
	p := identity.Static{Actor: models.Actor{ID: "u1", Name: "Trung", Kind: models.ActorAuthenticated}}
	actor, ok := p.CurrentActor()
	assert.True(t, ok)
	assert.Equal(t, "u1", actor.ID)

	_, ok = identity.Static{}.CurrentActor()
	assert.False(t, ok)
}
