package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedVoting puts a dealt room straight into the voting phase.
func seedVoting(t *testing.T, e *Engine, roomID string, roles map[string]string, center []string) {
	t.Helper()
	seedNight(t, e, roomID, roles, center)
	require.NoError(t, e.store.MultiUpdate(context.Background(), roomID, map[string]any{
		"phase":           PhaseVoting,
		"activeNightRole": nil,
		"votingEndsAt":    e.now().UnixMilli() + 60_000,
	}))
}

func TestCastVoteResolvesWhenAllVoted(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedVoting(t, e, "r1", map[string]string{
		"p1": RoleWerewolf, "p2": RoleSeer, "p3": RoleVillager,
	}, []string{RoleVillager, RoleRobber, RoleVillager})

	require.True(t, e.CastVote(ctx, "r1", "p1", "p2").Success)
	require.True(t, e.CastVote(ctx, "r1", "p2", "p1").Success)
	assert.Equal(t, PhaseVoting, mustRoom(t, e, "r1").Phase, "resolution waits for the full population")

	require.True(t, e.CastVote(ctx, "r1", "p3", "p1").Success)
	room := mustRoom(t, e, "r1")
	assert.Equal(t, PhaseEnded, room.Phase)
	require.NotNil(t, room.Result)
	assert.Equal(t, "p1", room.Result.EliminatedPlayerID)
	assert.Equal(t, RoleWerewolf, room.Result.EliminatedPlayerRole)
	assert.Equal(t, WinnersVillage, room.Result.Winners)
	assert.Equal(t, map[string]string{"p1": "p2", "p2": "p1", "p3": "p1"}, room.Result.Votes)
	assert.Zero(t, room.VotingEndsAt)
}

func TestCastVoteGuards(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedNight(t, e, "r1", map[string]string{
		"p1": RoleWerewolf, "p2": RoleSeer, "p3": RoleVillager,
	}, []string{RoleVillager, RoleRobber, RoleVillager})

	res := e.CastVote(ctx, "r1", "p1", "p2")
	require.False(t, res.Success)
	assert.Equal(t, ErrKindPhase, res.Kind)

	seedVoting(t, e, "r2", map[string]string{
		"p1": RoleWerewolf, "p2": RoleSeer, "p3": RoleVillager,
	}, []string{RoleVillager, RoleRobber, RoleVillager})
	res = e.CastVote(ctx, "r2", "p1", "ghost")
	require.False(t, res.Success)
	assert.Equal(t, ErrKindValidation, res.Kind)
}

func TestRevoteOverwrites(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedVoting(t, e, "r1", map[string]string{
		"p1": RoleWerewolf, "p2": RoleSeer, "p3": RoleVillager,
	}, []string{RoleVillager, RoleRobber, RoleVillager})

	require.True(t, e.CastVote(ctx, "r1", "p2", "p3").Success)
	require.True(t, e.CastVote(ctx, "r1", "p2", "p1").Success)
	room := mustRoom(t, e, "r1")
	assert.Equal(t, "p1", room.Players["p2"].Vote)
	assert.Equal(t, PhaseVoting, room.Phase)
}

func TestTallyVotes(t *testing.T) {
	mk := func(votes ...string) map[string]Player {
		players := map[string]Player{}
		for i, v := range votes {
			id := string(rune('a' + i))
			players[id] = Player{ID: id, Vote: v}
		}
		return players
	}

	tests := []struct {
		name  string
		votes map[string]Player
		want  string
	}{
		{"unique maximum", mk("x", "x", "y"), "x"},
		{"tie elects nobody", mk("x", "x", "y", "y", ""), ""},
		{"all abstain", mk("", "", ""), ""},
		{"abstainers do not block a majority", mk("x", "", ""), "x"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tallyVotes(tc.votes))
		})
	}
}

func TestWerewolfWinners(t *testing.T) {
	mkRoom := func(current map[string]string, center []string) *Room {
		return &Room{CurrentRoles: current, CenterCards: center}
	}

	t.Run("werewolf eliminated means village wins", func(t *testing.T) {
		room := mkRoom(map[string]string{"p1": RoleWerewolf, "p2": RoleSeer}, []string{RoleVillager})
		assert.Equal(t, WinnersVillage, werewolfWinners(room, "p1"))
	})

	t.Run("werewolf survives means werewolves win", func(t *testing.T) {
		room := mkRoom(map[string]string{"p1": RoleWerewolf, "p2": RoleSeer}, []string{RoleVillager})
		assert.Equal(t, WinnersWerewolf, werewolfWinners(room, "p2"))
	})

	t.Run("no elimination with werewolves in play", func(t *testing.T) {
		room := mkRoom(map[string]string{"p1": RoleWerewolf, "p2": RoleSeer}, []string{RoleVillager})
		assert.Equal(t, WinnersWerewolf, werewolfWinners(room, ""))
	})

	t.Run("center werewolves count as existing", func(t *testing.T) {
		room := mkRoom(map[string]string{"p1": RoleSeer, "p2": RoleVillager}, []string{RoleWerewolf})
		assert.Equal(t, WinnersWerewolf, werewolfWinners(room, ""))
	})

	t.Run("no werewolves and abstain means village wins", func(t *testing.T) {
		room := mkRoom(map[string]string{"p1": RoleSeer, "p2": RoleVillager}, []string{RoleVillager})
		assert.Equal(t, WinnersVillage, werewolfWinners(room, ""))
	})

	t.Run("no werewolves but someone lynched means nobody wins", func(t *testing.T) {
		room := mkRoom(map[string]string{"p1": RoleSeer, "p2": RoleVillager}, []string{RoleVillager})
		assert.Equal(t, WinnersNobody, werewolfWinners(room, "p2"))
	})

	t.Run("swapped-in werewolf is judged by the current card", func(t *testing.T) {
		// p2 originally the robber, now holding werewolf after a rob.
		room := &Room{
			CurrentRoles:  map[string]string{"p1": RoleRobber, "p2": RoleWerewolf},
			OriginalRoles: map[string]string{"p1": RoleWerewolf, "p2": RoleRobber},
			CenterCards:   []string{RoleVillager},
		}
		assert.Equal(t, WinnersVillage, werewolfWinners(room, "p2"))
		assert.Equal(t, WinnersWerewolf, werewolfWinners(room, "p1"))
	})
}

func TestResultSnapshotsNightActions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedNight(t, e, "r1", map[string]string{
		"p1": RoleWerewolf, "p2": RoleRobber, "p3": RoleVillager,
	}, []string{RoleVillager, RoleSeer, RoleVillager})
	require.True(t, e.SkipNightAction(ctx, "r1", "p1").Success)
	require.True(t, e.PerformNightAction(ctx, "r1", "p2", NightActionRequest{ActionType: ActionRob, TargetIDs: []string{"p1"}}).Success)
	require.True(t, e.SkipNightAction(ctx, "r1", "p3").Success)
	require.True(t, e.AdvanceToVoting(ctx, "r1", "p1").Success)

	require.True(t, e.CastVote(ctx, "r1", "p1", "p2").Success)
	require.True(t, e.CastVote(ctx, "r1", "p2", "p1").Success)
	require.True(t, e.CastVote(ctx, "r1", "p3", "p2").Success)

	room := mustRoom(t, e, "r1")
	require.NotNil(t, room.Result)
	// p2 now holds the werewolf card and was voted out.
	assert.Equal(t, WinnersVillage, room.Result.Winners)
	assert.Equal(t, RoleWerewolf, room.Result.FinalRoles["p2"])
	assert.Equal(t, RoleRobber, room.Result.OriginalRoles["p2"])
	require.Contains(t, room.Result.NightActions, "p2")
	assert.Equal(t, ActionRob, room.Result.NightActions["p2"].ActionType)
}
