package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpyDeal(t *testing.T) {
	room := &Room{Players: testPlayers(4)}
	spyDeal(room)

	require.Len(t, room.OriginalRoles, 4)
	spies := 0
	for _, role := range room.OriginalRoles {
		if role == RoleSpy {
			spies++
		} else {
			assert.Equal(t, RoleCivilian, role)
		}
	}
	assert.Equal(t, 1, spies)
	assert.Equal(t, room.OriginalRoles, room.CurrentRoles)
	assert.Contains(t, spyLocations, room.Location)
}

func TestSpyGameSkipsNight(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	room := Room{Phase: PhaseWaiting, Mode: ModeSpy, Players: testPlayers(4)}
	seedRoom(t, e, "r1", room)

	require.True(t, e.StartGame(ctx, "r1", "p1").Success)
	got := mustRoom(t, e, "r1")
	assert.Equal(t, PhaseReveal, got.Phase)
	assert.Empty(t, got.NightOrder)
	assert.NotEmpty(t, got.Location)

	// All ready: with nothing to wake, reveal falls straight through to day.
	for id := range got.Players {
		require.True(t, e.SetReady(ctx, "r1", id).Success)
	}
	got = mustRoom(t, e, "r1")
	assert.Equal(t, PhaseDay, got.Phase)
	assert.NotZero(t, got.DayEndsAt)
}

func TestSpyVoteResolution(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	roles := map[string]string{"p1": RoleSpy, "p2": RoleCivilian, "p3": RoleCivilian}
	players := testPlayers(3)
	seedRoom(t, e, "r1", Room{
		Phase:         PhaseVoting,
		Mode:          ModeSpy,
		Players:       players,
		OriginalRoles: roles,
		CurrentRoles:  roles,
		Location:      "polar station",
		VotingEndsAt:  e.now().UnixMilli() + 60_000,
	})

	require.True(t, e.CastVote(ctx, "r1", "p1", "p2").Success)
	require.True(t, e.CastVote(ctx, "r1", "p2", "p1").Success)
	require.True(t, e.CastVote(ctx, "r1", "p3", "p1").Success)

	room := mustRoom(t, e, "r1")
	assert.Equal(t, PhaseEnded, room.Phase)
	require.NotNil(t, room.Result)
	assert.Equal(t, WinnersVillage, room.Result.Winners)
	assert.Equal(t, "p1", room.Result.EliminatedPlayerID)
	assert.Equal(t, "polar station", room.Result.Location)
}

func TestSpyWinnersWhenSpySurvives(t *testing.T) {
	room := &Room{CurrentRoles: map[string]string{"p1": RoleSpy, "p2": RoleCivilian}}
	assert.Equal(t, WinnersWerewolf, spyWinners(room, "p2"))
	assert.Equal(t, WinnersWerewolf, spyWinners(room, ""))
	assert.Equal(t, WinnersVillage, spyWinners(room, "p1"))
}
