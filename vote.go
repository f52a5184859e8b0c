package main

import (
	"context"
	"log"
)

// CastVote records the caller's elimination vote, then re-reads the whole
// population; the vote completing the set triggers resolution. Re-voting
// just overwrites the target, so a duplicate call never double-counts.
func (e *Engine) CastVote(ctx context.Context, roomID, callerID, targetID string) IntentResult {
	room, _, err := e.requireRoom(ctx, roomID, callerID)
	if err != nil {
		return resultErr(err)
	}
	if room.Phase != PhaseVoting {
		return resultErr(phaseError("voting is not open"))
	}
	if _, ok := room.player(targetID); !ok {
		return resultErr(validationError("vote target %s is not in the room", targetID))
	}

	err = e.mutateRoom(ctx, roomID, func(room *Room) error {
		if room.Phase != PhaseVoting {
			return phaseError("voting is not open")
		}
		voter, ok := room.Players[callerID]
		if !ok {
			return authError("you are not in this room")
		}
		if _, ok := room.Players[targetID]; !ok {
			return validationError("vote target %s is not in the room", targetID)
		}
		voter.Vote = targetID
		room.Players[callerID] = voter
		return nil
	})
	if err != nil {
		return resultErr(err)
	}

	// Fresh read after the committed write; a pre-write snapshot would let
	// the last two voters both conclude "not everyone voted yet".
	players, err := readPlayers(ctx, e.store, roomID)
	if err != nil {
		return resultErr(err)
	}
	allVoted := len(players) > 0
	for _, p := range players {
		if p.Vote == "" {
			allVoted = false
			break
		}
	}
	if allVoted {
		if err := e.resolveVotes(ctx, roomID); err != nil {
			return resultErr(err)
		}
	}

	e.notifyUpdate(roomID)
	return resultOK(nil)
}

// resolveVotes tallies the votes, determines the elimination and the
// winning side, and terminates the round. The voting→ended flip and the
// result write commit together, and losing the phase race means someone
// else already resolved: resolution stays single-shot.
func (e *Engine) resolveVotes(ctx context.Context, roomID string) error {
	var resolved *Room
	var result *GameResult
	err := e.mutateRoom(ctx, roomID, func(room *Room) error {
		if room.Phase != PhaseVoting {
			return conflictError("phase is %q, expected %q", room.Phase, PhaseVoting)
		}

		eliminatedID := tallyVotes(room.Players)
		eliminatedRole := ""
		if eliminatedID != "" {
			eliminatedRole = room.CurrentRoles[eliminatedID]
		}
		var winners string
		if gameMode(room) == ModeSpy {
			winners = spyWinners(room, eliminatedID)
		} else {
			winners = werewolfWinners(room, eliminatedID)
		}

		result = buildResult(room, winners, eliminatedID, eliminatedRole)
		room.Phase = PhaseEnded
		room.Result = result
		room.ActiveNightRole = ""
		room.VotingEndsAt = 0
		resolved = room
		return nil
	})
	if err != nil {
		if isConflict(err) {
			return nil // someone else already resolved, or the room is gone
		}
		return err
	}

	log.Printf("Room %s resolved: winners=%s eliminated=%s (%s)",
		roomID, result.Winners, result.EliminatedPlayerID, result.EliminatedPlayerRole)
	e.notifyResult(roomID, resolved, result)
	return nil
}

// tallyVotes returns the eliminated player, or "" when nobody reaches a
// unique positive maximum (a tie or an all-abstain elects no one).
func tallyVotes(players map[string]Player) string {
	counts := make(map[string]int)
	for _, p := range players {
		if p.Vote != "" {
			counts[p.Vote]++
		}
	}
	maxVotes, eliminated, tie := 0, "", false
	for target, n := range counts {
		switch {
		case n > maxVotes:
			maxVotes, eliminated, tie = n, target, false
		case n == maxVotes:
			tie = true
		}
	}
	if maxVotes == 0 || tie {
		return ""
	}
	return eliminated
}

// werewolfWinners implements the win order: werewolf presence first, then
// the elimination outcome. Eliminating the minion does not flip the result;
// the computed label stays three-valued.
func werewolfWinners(room *Room, eliminatedID string) string {
	werewolvesExist := false
	for _, role := range room.CurrentRoles {
		if role == RoleWerewolf {
			werewolvesExist = true
			break
		}
	}
	if !werewolvesExist {
		for _, role := range room.CenterCards {
			if role == RoleWerewolf {
				werewolvesExist = true
				break
			}
		}
	}

	if werewolvesExist {
		if eliminatedID != "" && room.CurrentRoles[eliminatedID] == RoleWerewolf {
			return WinnersVillage
		}
		return WinnersWerewolf
	}
	// No werewolves in play: the correct play was to abstain.
	if eliminatedID == "" {
		return WinnersVillage
	}
	return WinnersNobody
}

// buildResult snapshots the room into the terminal GameResult.
func buildResult(room *Room, winners, eliminatedID, eliminatedRole string) *GameResult {
	votes := make(map[string]string)
	for id, p := range room.Players {
		if p.Vote != "" {
			votes[id] = p.Vote
		}
	}
	return &GameResult{
		Winners:              winners,
		EliminatedPlayerID:   eliminatedID,
		EliminatedPlayerRole: eliminatedRole,
		Votes:                votes,
		FinalRoles:           room.CurrentRoles,
		OriginalRoles:        room.OriginalRoles,
		CenterCards:          room.CenterCards,
		NightActions:         room.Actions,
		Location:             room.Location,
	}
}
