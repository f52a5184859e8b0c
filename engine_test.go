package main

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestEngine builds an engine over a fresh in-memory store with a
// controllable clock.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(NewMemoryStore(), 300, 60)
	base := time.UnixMilli(1_700_000_000_000)
	e.now = func() time.Time { return base }
	return e
}

// testPlayers builds n players p1..pn with increasing join times; p1 is host.
func testPlayers(n int) map[string]Player {
	players := make(map[string]Player, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("p%d", i)
		players[id] = Player{
			ID:          id,
			DisplayName: "Player " + id,
			IsHost:      i == 1,
			JoinedAt:    int64(i),
		}
	}
	return players
}

// seedRoom writes a whole room document, bypassing the join flow.
func seedRoom(t *testing.T, e *Engine, roomID string, room Room) {
	t.Helper()
	require.NoError(t, e.store.Write(context.Background(), roomID, "", room))
}

// seedNight seeds a room already in the night phase with fixed roles.
func seedNight(t *testing.T, e *Engine, roomID string, roles map[string]string, center []string) {
	t.Helper()
	ids := make([]string, 0, len(roles))
	for id := range roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	players := make(map[string]Player, len(roles))
	for i, id := range ids {
		players[id] = Player{ID: id, DisplayName: "Player " + id, IsHost: i == 0, JoinedAt: int64(i + 1)}
	}
	current := make(map[string]string, len(roles))
	for id, role := range roles {
		current[id] = role
	}
	order := nightOrderForRoles(roles)
	require.NotEmpty(t, order)
	seedRoom(t, e, roomID, Room{
		Phase:           PhaseNight,
		Players:         players,
		OriginalRoles:   roles,
		CurrentRoles:    current,
		CenterCards:     center,
		NightOrder:      order,
		NightOrderIndex: 0,
		ActiveNightRole: order[0],
	})
}

// mustRoom reads the room and fails the test on any error or absence.
func mustRoom(t *testing.T, e *Engine, roomID string) *Room {
	t.Helper()
	room, err := readRoom(context.Background(), e.store, roomID)
	require.NoError(t, err)
	require.NotNil(t, room)
	return room
}
