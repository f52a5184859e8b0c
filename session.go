package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
)

// casPhase moves the phase from exactly `from` to `to`. Any other current
// value aborts with a conflict: the caller lost the race (or the phase moved
// on) and must not redo the winner's setup.
func (e *Engine) casPhase(ctx context.Context, roomID, from, to string) error {
	return e.store.CompareAndSwap(ctx, roomID, "phase", func(old json.RawMessage) (any, error) {
		var phase string
		if old != nil {
			if err := json.Unmarshal(old, &phase); err != nil {
				return nil, corruptError("room %s has a malformed phase", roomID)
			}
		}
		if phase != from {
			return nil, conflictError("phase is %q, expected %q", phase, from)
		}
		return to, nil
	})
}

func isConflict(err error) bool {
	var ge *GameError
	return errors.As(err, &ge) && ge.Kind == ErrKindConflict
}

// StartGame moves waiting→reveal and deals the round.
//
// The cheap phase CAS acts as the lock; only its winner performs the
// expensive setup. Players are re-read after the CAS so a join that slipped
// in during validation is still dealt a card.
func (e *Engine) StartGame(ctx context.Context, roomID, callerID string) IntentResult {
	room, caller, err := e.requireRoom(ctx, roomID, callerID)
	if err != nil {
		return resultErr(err)
	}
	if !caller.IsHost {
		return resultErr(authError("only the host can start the game"))
	}
	if room.Phase != PhaseWaiting {
		return resultErr(phaseError("game already started"))
	}
	if verr := e.validateStart(room, len(room.Players)); verr != nil {
		return resultErr(verr)
	}

	if err := e.casPhase(ctx, roomID, PhaseWaiting, PhaseReveal); err != nil {
		return resultErr(err)
	}

	// Lock held (phase is reveal, joins are closed). The deal runs against
	// the live document, so a leave that slipped in during validation is
	// simply not dealt a card, and a join that slipped in still gets one.
	var dealt int
	var mode string
	err = e.mutateRoom(ctx, roomID, func(room *Room) error {
		if room.Phase != PhaseReveal {
			return conflictError("phase moved during the deal")
		}
		if verr := e.validateStart(room, len(room.Players)); verr != nil {
			return verr
		}
		e.dealRound(room)
		dealt, mode = len(room.Players), gameMode(room)
		return nil
	})
	if err != nil {
		return resultErr(e.rollbackStart(ctx, roomID, err))
	}

	log.Printf("Room %s started by %s: %d players, mode=%s", roomID, callerID, dealt, mode)
	e.notifyUpdate(roomID)
	return resultOK(nil)
}

func gameMode(room *Room) string {
	if room.Mode == "" {
		return ModeWerewolf
	}
	return room.Mode
}

func (e *Engine) validateStart(room *Room, playerCount int) *GameError {
	if playerCount < minPlayers || playerCount > maxPlayers {
		return validationError("need %d-%d players, have %d", minPlayers, maxPlayers, playerCount)
	}
	if gameMode(room) == ModeSpy {
		return nil // spy mode deals its own fixed role set
	}
	return validateRoleSet(room.SelectedRoles, playerCount, true)
}

// dealRound clears every per-round field in place and deals the new cards.
func (e *Engine) dealRound(room *Room) {
	room.ActiveNightRole = ""
	room.NightOrderIndex = 0
	room.DayEndsAt = 0
	room.VotingEndsAt = 0
	room.Actions = nil
	room.Result = nil
	room.Location = ""
	room.Epilogue = ""
	for id, p := range room.Players {
		p.IsReady, p.HasActed, p.Vote = false, false, ""
		room.Players[id] = p
	}

	if gameMode(room) == ModeSpy {
		spyDeal(room)
		room.NightOrder = nil
		room.CenterCards = nil
		return
	}

	assigned, center := assignRoles(playerIDsByJoinTime(room.Players), room.SelectedRoles)
	room.OriginalRoles = assigned
	room.CurrentRoles = copyRoles(assigned)
	room.CenterCards = center
	room.NightOrder = nightOrderForRoles(assigned)
}

// rollbackStart releases the phase lock after a failed setup so start can be
// retried legally.
func (e *Engine) rollbackStart(ctx context.Context, roomID string, cause error) error {
	err := e.mutateRoom(ctx, roomID, func(room *Room) error {
		room.Phase = PhaseWaiting
		return nil
	})
	if err != nil && !isConflict(err) {
		log.Printf("Room %s: failed to roll back phase after aborted start: %v", roomID, err)
	}
	return cause
}

// SetReady flips the caller's reveal-phase ready flag, then re-reads the
// whole player population. The last flip cascades reveal→night.
func (e *Engine) SetReady(ctx context.Context, roomID, callerID string) IntentResult {
	room, _, err := e.requireRoom(ctx, roomID, callerID)
	if err != nil {
		return resultErr(err)
	}
	if room.Phase != PhaseReveal {
		return resultErr(phaseError("ready is only valid during reveal"))
	}

	err = e.store.CompareAndSwap(ctx, roomID, "players/"+callerID+"/isReady", func(old json.RawMessage) (any, error) {
		var ready bool
		if old == nil {
			return nil, corruptError("player %s vanished from room %s", callerID, roomID)
		}
		if err := json.Unmarshal(old, &ready); err != nil {
			return nil, corruptError("player %s has a malformed ready flag", callerID)
		}
		return true, nil // idempotent: an already-true flag stays true
	})
	if err != nil {
		return resultErr(err)
	}

	// Re-read after the write committed; a pre-write snapshot would let two
	// concurrent flips both miss the completed population.
	players, err := readPlayers(ctx, e.store, roomID)
	if err != nil {
		return resultErr(err)
	}
	allReady := len(players) > 0
	for _, p := range players {
		if !p.IsReady {
			allReady = false
			break
		}
	}
	if allReady {
		if err := e.enterNight(ctx, roomID); err != nil {
			return resultErr(err)
		}
	}

	e.notifyUpdate(roomID)
	return resultOK(nil)
}

// enterNight transitions reveal→night and points the sequencer at the first
// role with dealt players. A round with no night roles at all (spy mode)
// falls straight through to day. The phase flip, the cursor and the flag
// clears commit together; losing the phase race means another handler
// already cascaded, which satisfies the caller.
func (e *Engine) enterNight(ctx context.Context, roomID string) error {
	err := e.mutateRoom(ctx, roomID, func(room *Room) error {
		if room.Phase != PhaseReveal {
			return conflictError("phase is %q, expected %q", room.Phase, PhaseReveal)
		}
		for idx, role := range room.NightOrder {
			if len(room.cohort(role)) == 0 {
				continue
			}
			room.Phase = PhaseNight
			room.ActiveNightRole = role
			room.NightOrderIndex = idx
			for id, p := range room.Players {
				p.HasActed = false
				room.Players[id] = p
			}
			return nil
		}
		// Nobody wakes tonight.
		startDay(room, e.now().UnixMilli()+int64(e.discussionSeconds)*1000)
		return nil
	})
	if isConflict(err) {
		return nil
	}
	return err
}

// enterDay flips night→day and stamps the discussion deadline.
func (e *Engine) enterDay(ctx context.Context, roomID string) error {
	err := e.mutateRoom(ctx, roomID, func(room *Room) error {
		if room.Phase != PhaseNight {
			return conflictError("phase is %q, expected %q", room.Phase, PhaseNight)
		}
		startDay(room, e.now().UnixMilli()+int64(e.discussionSeconds)*1000)
		return nil
	})
	if isConflict(err) {
		return nil
	}
	return err
}

func startDay(room *Room, dayEndsAt int64) {
	room.Phase = PhaseDay
	room.DayEndsAt = dayEndsAt
	room.ActiveNightRole = ""
}

// ForceAdvanceToDay lets the host skip night stragglers.
func (e *Engine) ForceAdvanceToDay(ctx context.Context, roomID, callerID string) IntentResult {
	room, caller, err := e.requireRoom(ctx, roomID, callerID)
	if err != nil {
		return resultErr(err)
	}
	if !caller.IsHost {
		return resultErr(authError("only the host can advance to day"))
	}
	if room.Phase != PhaseNight {
		return resultErr(phaseError("not in night phase"))
	}
	if err := e.enterDay(ctx, roomID); err != nil {
		return resultErr(err)
	}
	e.notifyUpdate(roomID)
	return resultOK(nil)
}

// enterVoting flips day→voting, stamps the voting deadline, and resets every
// vote on phase entry.
func (e *Engine) enterVoting(ctx context.Context, roomID string) error {
	err := e.mutateRoom(ctx, roomID, func(room *Room) error {
		if room.Phase != PhaseDay {
			return conflictError("phase is %q, expected %q", room.Phase, PhaseDay)
		}
		room.Phase = PhaseVoting
		room.VotingEndsAt = e.now().UnixMilli() + int64(e.votingSeconds)*1000
		room.DayEndsAt = 0
		for id, p := range room.Players {
			p.Vote = ""
			room.Players[id] = p
		}
		return nil
	})
	if isConflict(err) {
		return nil
	}
	return err
}

// AdvanceToVoting is the host's day→voting flip.
func (e *Engine) AdvanceToVoting(ctx context.Context, roomID, callerID string) IntentResult {
	room, caller, err := e.requireRoom(ctx, roomID, callerID)
	if err != nil {
		return resultErr(err)
	}
	if !caller.IsHost {
		return resultErr(authError("only the host can start the vote"))
	}
	if room.Phase != PhaseDay {
		return resultErr(phaseError("not in day phase"))
	}
	if err := e.enterVoting(ctx, roomID); err != nil {
		return resultErr(err)
	}
	e.notifyUpdate(roomID)
	return resultOK(nil)
}

// CheckTimer is the caller-initiated deadline check: the engine never runs
// its own background timer. The first caller past a deadline performs the
// transition; everyone else sees expired=false or rides the committed state.
func (e *Engine) CheckTimer(ctx context.Context, roomID, callerID string) IntentResult {
	room, _, err := e.requireRoom(ctx, roomID, callerID)
	if err != nil {
		return resultErr(err)
	}
	now := e.now().UnixMilli()

	switch room.Phase {
	case PhaseDay:
		if room.DayEndsAt > 0 && now >= room.DayEndsAt {
			if err := e.enterVoting(ctx, roomID); err != nil {
				return resultErr(err)
			}
			e.notifyUpdate(roomID)
			return resultOK(map[string]any{"expired": true})
		}
	case PhaseVoting:
		if room.VotingEndsAt > 0 && now >= room.VotingEndsAt {
			// Resolve with whatever votes exist; abstainers elect no one.
			if err := e.resolveVotes(ctx, roomID); err != nil {
				return resultErr(err)
			}
			e.notifyUpdate(roomID)
			return resultOK(map[string]any{"expired": true})
		}
	}
	return resultOK(map[string]any{"expired": false})
}

// EndGame force-terminates any active phase with winners=none, preserving
// the role maps as they stand.
func (e *Engine) EndGame(ctx context.Context, roomID, callerID string) IntentResult {
	room, caller, err := e.requireRoom(ctx, roomID, callerID)
	if err != nil {
		return resultErr(err)
	}
	if !caller.IsHost {
		return resultErr(authError("only the host can end the game"))
	}
	if room.Phase == PhaseWaiting || room.Phase == PhaseEnded {
		return resultErr(phaseError("no game in progress"))
	}
	err = e.mutateRoom(ctx, roomID, func(room *Room) error {
		if room.Phase == PhaseWaiting || room.Phase == PhaseEnded {
			return phaseError("no game in progress")
		}
		room.Phase = PhaseEnded
		room.Result = buildResult(room, WinnersNone, "", "")
		room.ActiveNightRole = ""
		room.DayEndsAt = 0
		room.VotingEndsAt = 0
		return nil
	})
	if err != nil {
		return resultErr(err)
	}

	log.Printf("Room %s ended early by host %s", roomID, callerID)
	e.notifyUpdate(roomID)
	return resultOK(nil)
}

// ResetGame clears all game fields and returns the room to waiting. Players
// and their host flags survive.
func (e *Engine) ResetGame(ctx context.Context, roomID, callerID string) IntentResult {
	room, caller, err := e.requireRoom(ctx, roomID, callerID)
	if err != nil {
		return resultErr(err)
	}
	if !caller.IsHost {
		return resultErr(authError("only the host can reset the game"))
	}
	if room.Phase != PhaseEnded {
		return resultErr(phaseError("game is not over"))
	}
	err = e.mutateRoom(ctx, roomID, func(room *Room) error {
		if room.Phase != PhaseEnded {
			return conflictError("phase is %q, expected %q", room.Phase, PhaseEnded)
		}
		room.Phase = PhaseWaiting
		room.OriginalRoles = nil
		room.CurrentRoles = nil
		room.CenterCards = nil
		room.NightOrder = nil
		room.NightOrderIndex = 0
		room.ActiveNightRole = ""
		room.DayEndsAt = 0
		room.VotingEndsAt = 0
		room.Actions = nil
		room.Result = nil
		room.Location = ""
		room.Epilogue = ""
		for id, p := range room.Players {
			p.IsReady, p.HasActed, p.Vote = false, false, ""
			room.Players[id] = p
		}
		return nil
	})
	if err != nil {
		return resultErr(err)
	}

	log.Printf("Room %s reset to lobby by host %s", roomID, callerID)
	e.notifyUpdate(roomID)
	return resultOK(nil)
}
