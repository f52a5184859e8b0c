package main

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fullRoleSet = []string{RoleWerewolf, RoleWerewolf, RoleSeer, RoleRobber, RoleVillager, RoleVillager}

func waitingRoom(players int) Room {
	return Room{
		Phase:         PhaseWaiting,
		Players:       testPlayers(players),
		SelectedRoles: fullRoleSet,
	}
}

func TestStartGameDealsRoles(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedRoom(t, e, "r1", waitingRoom(3))

	res := e.StartGame(ctx, "r1", "p1")
	require.True(t, res.Success, res.Error)

	room := mustRoom(t, e, "r1")
	assert.Equal(t, PhaseReveal, room.Phase)
	assert.Len(t, room.OriginalRoles, 3)
	assert.Equal(t, room.OriginalRoles, room.CurrentRoles)
	assert.Len(t, room.CenterCards, centerCount)
	assert.Empty(t, room.ActiveNightRole)

	// The deal relocates the configured multiset, never invents cards.
	var dealt []string
	for _, role := range room.OriginalRoles {
		dealt = append(dealt, role)
	}
	dealt = append(dealt, room.CenterCards...)
	want := append([]string(nil), fullRoleSet...)
	sort.Strings(dealt)
	sort.Strings(want)
	assert.Equal(t, want, dealt)

	assert.Equal(t, nightOrderForRoles(room.OriginalRoles), room.NightOrder)
	for _, p := range room.Players {
		assert.False(t, p.IsReady)
		assert.False(t, p.HasActed)
		assert.Empty(t, p.Vote)
	}
}

func TestStartGameGuards(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	t.Run("host only", func(t *testing.T) {
		seedRoom(t, e, "r1", waitingRoom(3))
		res := e.StartGame(ctx, "r1", "p2")
		require.False(t, res.Success)
		assert.Equal(t, ErrKindAuthorization, res.Kind)
	})

	t.Run("too few players", func(t *testing.T) {
		room := waitingRoom(3)
		delete(room.Players, "p3")
		seedRoom(t, e, "r2", room)
		res := e.StartGame(ctx, "r2", "p1")
		require.False(t, res.Success)
		assert.Equal(t, ErrKindValidation, res.Kind)
	})

	t.Run("role count must match players plus center", func(t *testing.T) {
		room := waitingRoom(4) // 6 roles but 4 players need 7
		seedRoom(t, e, "r3", room)
		res := e.StartGame(ctx, "r3", "p1")
		require.False(t, res.Success)
		assert.Equal(t, ErrKindValidation, res.Kind)
		// The phase lock was rolled back, so a fixed start succeeds.
		assert.Equal(t, PhaseWaiting, mustRoom(t, e, "r3").Phase)
	})

	t.Run("already started", func(t *testing.T) {
		seedRoom(t, e, "r4", waitingRoom(3))
		require.True(t, e.StartGame(ctx, "r4", "p1").Success)
		res := e.StartGame(ctx, "r4", "p1")
		require.False(t, res.Success)
		assert.Equal(t, ErrKindPhase, res.Kind)
	})
}

func TestConcurrentStartExactlyOneWins(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedRoom(t, e, "r1", waitingRoom(3))

	const racers = 8
	results := make(chan IntentResult, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.StartGame(ctx, "r1", "p1")
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for res := range results {
		if res.Success {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, PhaseReveal, mustRoom(t, e, "r1").Phase)
}

// interposeStore runs before once, just ahead of the first root-document
// swap, to squeeze a competing mutation into that window.
type interposeStore struct {
	RoomStore
	before func()
	fired  bool
}

func (s *interposeStore) CompareAndSwap(ctx context.Context, roomID, path string, fn func(old json.RawMessage) (any, error)) error {
	if path == "" && !s.fired {
		s.fired = true
		s.before()
	}
	return s.RoomStore.CompareAndSwap(ctx, roomID, path, fn)
}

func TestStartDealDropsDepartedPlayer(t *testing.T) {
	store := &interposeStore{RoomStore: NewMemoryStore()}
	e := NewEngine(store, 300, 60)
	e.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	ctx := context.Background()
	// p4 leaves between the phase lock and the deal.
	store.before = func() {
		require.True(t, e.Leave(ctx, "r1", "p4").Success)
	}

	room := waitingRoom(4)
	room.Mode = ModeSpy
	seedRoom(t, e, "r1", room)

	res := e.StartGame(ctx, "r1", "p1")
	require.True(t, res.Success, res.Error)

	fresh := mustRoom(t, e, "r1")
	assert.Equal(t, PhaseReveal, fresh.Phase)
	require.Len(t, fresh.Players, 3)
	assert.NotContains(t, fresh.Players, "p4")
	assert.NotContains(t, fresh.OriginalRoles, "p4")
	assert.Len(t, fresh.OriginalRoles, 3)
	for id, p := range fresh.Players {
		assert.Equal(t, id, p.ID)
	}
}

func TestSetReadyCascadesIntoNight(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedRoom(t, e, "r1", waitingRoom(3))
	require.True(t, e.StartGame(ctx, "r1", "p1").Success)

	require.True(t, e.SetReady(ctx, "r1", "p1").Success)
	require.True(t, e.SetReady(ctx, "r1", "p2").Success)
	assert.Equal(t, PhaseReveal, mustRoom(t, e, "r1").Phase)

	// Ready is idempotent and must not cascade early.
	require.True(t, e.SetReady(ctx, "r1", "p2").Success)
	assert.Equal(t, PhaseReveal, mustRoom(t, e, "r1").Phase)

	require.True(t, e.SetReady(ctx, "r1", "p3").Success)
	room := mustRoom(t, e, "r1")
	assert.Equal(t, PhaseNight, room.Phase)
	assert.Equal(t, room.NightOrder[0], room.ActiveNightRole)
	for _, p := range room.Players {
		assert.False(t, p.HasActed)
	}
}

func TestSetReadyOutsideReveal(t *testing.T) {
	e := newTestEngine(t)
	seedRoom(t, e, "r1", waitingRoom(3))
	res := e.SetReady(context.Background(), "r1", "p1")
	require.False(t, res.Success)
	assert.Equal(t, ErrKindPhase, res.Kind)
}

func TestForceAdvanceToDay(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedNight(t, e, "r1", map[string]string{
		"p1": RoleWerewolf, "p2": RoleSeer, "p3": RoleVillager,
	}, []string{RoleVillager, RoleRobber, RoleVillager})

	res := e.ForceAdvanceToDay(ctx, "r1", "p2")
	require.False(t, res.Success)
	assert.Equal(t, ErrKindAuthorization, res.Kind)

	require.True(t, e.ForceAdvanceToDay(ctx, "r1", "p1").Success)
	room := mustRoom(t, e, "r1")
	assert.Equal(t, PhaseDay, room.Phase)
	assert.Empty(t, room.ActiveNightRole)
	assert.Equal(t, e.now().UnixMilli()+int64(e.discussionSeconds)*1000, room.DayEndsAt)
}

func TestAdvanceToVotingResetsVotes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	room := waitingRoom(3)
	room.Phase = PhaseDay
	p := room.Players["p2"]
	p.Vote = "p1" // stale vote from a previous structure must not survive
	room.Players["p2"] = p
	seedRoom(t, e, "r1", room)

	require.True(t, e.AdvanceToVoting(ctx, "r1", "p1").Success)
	got := mustRoom(t, e, "r1")
	assert.Equal(t, PhaseVoting, got.Phase)
	assert.Equal(t, e.now().UnixMilli()+int64(e.votingSeconds)*1000, got.VotingEndsAt)
	assert.Zero(t, got.DayEndsAt)
	for _, p := range got.Players {
		assert.Empty(t, p.Vote)
	}
}

func TestCheckTimerDayExpiry(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	room := waitingRoom(3)
	room.Phase = PhaseDay
	room.DayEndsAt = e.now().UnixMilli() - 1
	seedRoom(t, e, "r1", room)

	res := e.CheckTimer(ctx, "r1", "p2")
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"expired": true}, res.Data)
	assert.Equal(t, PhaseVoting, mustRoom(t, e, "r1").Phase)

	// Late checkers find the already-moved phase unexpired.
	res = e.CheckTimer(ctx, "r1", "p3")
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"expired": false}, res.Data)
}

func TestCheckTimerBeforeDeadline(t *testing.T) {
	e := newTestEngine(t)
	room := waitingRoom(3)
	room.Phase = PhaseDay
	room.DayEndsAt = e.now().Add(time.Minute).UnixMilli()
	seedRoom(t, e, "r1", room)

	res := e.CheckTimer(context.Background(), "r1", "p1")
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"expired": false}, res.Data)
	assert.Equal(t, PhaseDay, mustRoom(t, e, "r1").Phase)
}

func TestCheckTimerVotingExpiryResolvesPartialVotes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedNight(t, e, "r1", map[string]string{
		"p1": RoleWerewolf, "p2": RoleSeer, "p3": RoleVillager,
	}, []string{RoleVillager, RoleRobber, RoleVillager})
	require.NoError(t, e.store.MultiUpdate(ctx, "r1", map[string]any{
		"phase":           PhaseVoting,
		"activeNightRole": nil,
		"votingEndsAt":    e.now().UnixMilli() - 1,
		"players/p2/vote": "p1",
		"players/p3/vote": "p1",
	}))

	res := e.CheckTimer(ctx, "r1", "p2")
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"expired": true}, res.Data)

	room := mustRoom(t, e, "r1")
	assert.Equal(t, PhaseEnded, room.Phase)
	require.NotNil(t, room.Result)
	assert.Equal(t, "p1", room.Result.EliminatedPlayerID)
	assert.Equal(t, WinnersVillage, room.Result.Winners)
}

func TestEndGameAndReset(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedRoom(t, e, "r1", waitingRoom(3))
	require.True(t, e.StartGame(ctx, "r1", "p1").Success)

	res := e.EndGame(ctx, "r1", "p2")
	require.False(t, res.Success)
	assert.Equal(t, ErrKindAuthorization, res.Kind)

	require.True(t, e.EndGame(ctx, "r1", "p1").Success)
	room := mustRoom(t, e, "r1")
	assert.Equal(t, PhaseEnded, room.Phase)
	require.NotNil(t, room.Result)
	assert.Equal(t, WinnersNone, room.Result.Winners)

	require.True(t, e.ResetGame(ctx, "r1", "p1").Success)
	room = mustRoom(t, e, "r1")
	assert.Equal(t, PhaseWaiting, room.Phase)
	assert.Nil(t, room.Result)
	assert.Empty(t, room.OriginalRoles)
	assert.Empty(t, room.CurrentRoles)
	assert.Empty(t, room.CenterCards)
	assert.Len(t, room.Players, 3)
	assert.True(t, room.Players["p1"].IsHost)
	// The role selection survives for the next round.
	assert.Equal(t, fullRoleSet, room.SelectedRoles)
}

func TestResetOnlyFromEnded(t *testing.T) {
	e := newTestEngine(t)
	seedRoom(t, e, "r1", waitingRoom(3))
	res := e.ResetGame(context.Background(), "r1", "p1")
	require.False(t, res.Success)
	assert.Equal(t, ErrKindPhase, res.Kind)
}
