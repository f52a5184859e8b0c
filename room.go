package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Game phases. The only edge back to waiting is an explicit host reset.
const (
	PhaseWaiting = "waiting"
	PhaseReveal  = "reveal"
	PhaseNight   = "night"
	PhaseDay     = "day"
	PhaseVoting  = "voting"
	PhaseEnded   = "ended"
)

// Winner labels for GameResult.
const (
	WinnersVillage  = "village"
	WinnersWerewolf = "werewolf"
	WinnersNobody   = "nobody"
	WinnersNone     = "none" // host ended the game early
)

// Room is one game session. It is the only strongly consistent resource:
// every cross-request invariant is re-checked against a fresh read after a
// compare-and-swap, never assumed from a pre-write snapshot.
type Room struct {
	Phase         string   `json:"phase"`
	Mode          string   `json:"mode,omitempty"`
	SelectedRoles []string `json:"selectedRoles,omitempty"`

	// Night bookkeeping. ActiveNightRole is non-empty exactly while the
	// night is in progress.
	ActiveNightRole string   `json:"activeNightRole,omitempty"`
	NightOrder      []string `json:"nightOrder,omitempty"`
	NightOrderIndex int      `json:"nightOrderIndex,omitempty"`

	// OriginalRoles is fixed at assignment; CurrentRoles starts identical
	// and is mutated by swap actions. Win determination reads CurrentRoles,
	// turn legality reads OriginalRoles.
	OriginalRoles map[string]string `json:"originalRoles,omitempty"`
	CurrentRoles  map[string]string `json:"currentRoles,omitempty"`
	CenterCards   []string          `json:"centerCards,omitempty"`

	// Spy mode: the shared secret location dealt to every non-spy.
	Location string `json:"location,omitempty"`

	DayEndsAt    int64 `json:"dayEndsAt,omitempty"`
	VotingEndsAt int64 `json:"votingEndsAt,omitempty"`

	Players map[string]Player      `json:"players,omitempty"`
	Actions map[string]NightAction `json:"actions,omitempty"`
	Result  *GameResult            `json:"result,omitempty"`

	// Epilogue is streamed in by the storyteller after the game ends.
	Epilogue string `json:"epilogue,omitempty"`
}

// Player is a member of a room. HasActed is an acted-in-current-cohort flag:
// it is cleared for every player whenever the active night role advances.
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsHost      bool   `json:"isHost"`
	JoinedAt    int64  `json:"joinedAt"`
	HasActed    bool   `json:"hasActed"`
	IsReady     bool   `json:"isReady"`
	Vote        string `json:"vote,omitempty"`
}

// NightAction is the committed record of a player's night action, keyed by
// the actor. Role is the actor's original role: turn legality is always
// checked against the original role, never the current one.
type NightAction struct {
	Role          string         `json:"role"`
	ActionType    string         `json:"actionType"`
	TargetIDs     []string       `json:"targetIds,omitempty"`
	CenterIndexes []int          `json:"centerIndexes,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
	PerformedAt   int64          `json:"performedAt"`
}

// GameResult is terminal and written exactly once per round.
type GameResult struct {
	Winners              string                 `json:"winners"`
	EliminatedPlayerID   string                 `json:"eliminatedPlayerId,omitempty"`
	EliminatedPlayerRole string                 `json:"eliminatedPlayerRole,omitempty"`
	Votes                map[string]string      `json:"votes,omitempty"`
	FinalRoles           map[string]string      `json:"finalRoles,omitempty"`
	OriginalRoles        map[string]string      `json:"originalRoles,omitempty"`
	CenterCards          []string               `json:"centerCards,omitempty"`
	NightActions         map[string]NightAction `json:"nightActions,omitempty"`
	Location             string                 `json:"location,omitempty"`
}

// readRoom fetches and decodes the whole room document. A missing room
// returns (nil, nil).
func readRoom(ctx context.Context, store RoomStore, roomID string) (*Room, error) {
	raw, err := store.Read(ctx, roomID, "")
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var room Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return &room, nil
}

// readPlayers re-reads only the player map. The write-then-recheck pattern
// requires this to happen after a write commits, not from an older snapshot.
func readPlayers(ctx context.Context, store RoomStore, roomID string) (map[string]Player, error) {
	raw, err := store.Read(ctx, roomID, "players")
	if err != nil {
		return nil, err
	}
	players := map[string]Player{}
	if raw == nil {
		return players, nil
	}
	if err := json.Unmarshal(raw, &players); err != nil {
		return nil, fmt.Errorf("decode players of room %s: %w", roomID, err)
	}
	return players, nil
}

// playerIDsByJoinTime returns player IDs ordered by join time, id as
// tiebreaker. Used for host promotion and deterministic deal order.
func playerIDsByJoinTime(players map[string]Player) []string {
	ids := make([]string, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := players[ids[i]], players[ids[j]]
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return a.ID < b.ID
	})
	return ids
}

func (r *Room) player(id string) (Player, bool) {
	p, ok := r.Players[id]
	return p, ok
}

func (r *Room) isHost(id string) bool {
	p, ok := r.Players[id]
	return ok && p.IsHost
}

// cohort returns the players whose original role is the given one.
func (r *Room) cohort(role string) []string {
	var ids []string
	for id := range r.Players {
		if r.OriginalRoles[id] == role {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
