package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// Join adds a player to a room, creating the room on first join. A playerID
// that already exists is a reconnect: only the display name is refreshed,
// and reconnecting is legal in every phase. New players are only admitted
// while the room is waiting.
func (e *Engine) Join(ctx context.Context, roomID, playerID, displayName string) IntentResult {
	if roomID == "" {
		return resultErr(validationError("room id is required"))
	}
	if playerID == "" {
		playerID = uuid.NewString()
	}

	err := e.store.CompareAndSwap(ctx, roomID, "", func(old json.RawMessage) (any, error) {
		var room Room
		if old != nil {
			if uerr := json.Unmarshal(old, &room); uerr != nil {
				return nil, corruptError("room %s is malformed: %v", roomID, uerr)
			}
		}
		if room.Players == nil {
			room.Players = map[string]Player{}
			room.Phase = PhaseWaiting
		}

		if p, ok := room.Players[playerID]; ok {
			if displayName != "" {
				p.DisplayName = displayName
			}
			room.Players[playerID] = p
			return room, nil
		}

		if displayName == "" {
			return nil, validationError("display name is required")
		}
		if room.Phase != PhaseWaiting {
			return nil, phaseError("game in progress; spectate until it ends")
		}
		if len(room.Players) >= maxPlayers {
			return nil, validationError("room is full (%d players)", maxPlayers)
		}
		room.Players[playerID] = Player{
			ID:          playerID,
			DisplayName: displayName,
			IsHost:      len(room.Players) == 0,
			JoinedAt:    e.now().UnixMilli(),
		}
		return room, nil
	})
	if err != nil {
		return resultErr(err)
	}

	log.Printf("Room %s: %s joined as %q", roomID, playerID, displayName)
	e.notifyUpdate(roomID)
	return resultOK(map[string]any{"roomId": roomID, "playerId": playerID})
}

// Leave removes the player. A leaving host hands the room to the
// earliest-joined survivor; the last player out deletes the room.
func (e *Engine) Leave(ctx context.Context, roomID, callerID string) IntentResult {
	deleted := false
	err := e.store.CompareAndSwap(ctx, roomID, "", func(old json.RawMessage) (any, error) {
		if old == nil {
			return nil, validationError("room %s not found", roomID)
		}
		var room Room
		if uerr := json.Unmarshal(old, &room); uerr != nil {
			return nil, corruptError("room %s is malformed: %v", roomID, uerr)
		}
		leaving, ok := room.Players[callerID]
		if !ok {
			return nil, authError("you are not in this room")
		}
		delete(room.Players, callerID)

		if len(room.Players) == 0 {
			deleted = true
			return nil, nil // nil document deletes the room
		}
		if leaving.IsHost {
			heir := playerIDsByJoinTime(room.Players)[0]
			p := room.Players[heir]
			p.IsHost = true
			room.Players[heir] = p
		}
		return room, nil
	})
	if err != nil {
		return resultErr(err)
	}

	if deleted {
		log.Printf("Room %s: last player %s left, room deleted", roomID, callerID)
	} else {
		log.Printf("Room %s: %s left", roomID, callerID)
		e.notifyUpdate(roomID)
	}
	return resultOK(nil)
}

// KickPlayer removes someone else from the lobby. Host only, waiting phase
// only, and never the host themselves.
func (e *Engine) KickPlayer(ctx context.Context, roomID, callerID, targetID string) IntentResult {
	if targetID == callerID {
		return resultErr(authError("you cannot kick yourself"))
	}
	err := e.store.CompareAndSwap(ctx, roomID, "", func(old json.RawMessage) (any, error) {
		if old == nil {
			return nil, validationError("room %s not found", roomID)
		}
		var room Room
		if uerr := json.Unmarshal(old, &room); uerr != nil {
			return nil, corruptError("room %s is malformed: %v", roomID, uerr)
		}
		if !room.isHost(callerID) {
			return nil, authError("only the host can kick players")
		}
		if room.Phase != PhaseWaiting {
			return nil, phaseError("players can only be kicked in the lobby")
		}
		if _, ok := room.Players[targetID]; !ok {
			return nil, validationError("player %s is not in the room", targetID)
		}
		delete(room.Players, targetID)
		return room, nil
	})
	if err != nil {
		return resultErr(err)
	}

	log.Printf("Room %s: host %s kicked %s", roomID, callerID, targetID)
	e.notifyPrivate(roomID, targetID, map[string]any{"kicked": true})
	e.notifyUpdate(roomID)
	return resultOK(nil)
}

// UpdateSelectedRoles replaces the host's role multiset for the next deal.
// The length check against the player count only happens at start; the
// structural rules are enforced here so the lobby surfaces them early.
func (e *Engine) UpdateSelectedRoles(ctx context.Context, roomID, callerID string, roles []string) IntentResult {
	room, caller, err := e.requireRoom(ctx, roomID, callerID)
	if err != nil {
		return resultErr(err)
	}
	if !caller.IsHost {
		return resultErr(authError("only the host can change the roles"))
	}
	if room.Phase != PhaseWaiting {
		return resultErr(phaseError("roles can only be changed in the lobby"))
	}
	if verr := validateRoleSet(roles, len(room.Players), false); verr != nil {
		return resultErr(verr)
	}
	if err := e.store.Write(ctx, roomID, "selectedRoles", roles); err != nil {
		return resultErr(fmt.Errorf("write selected roles: %w", err))
	}
	e.notifyUpdate(roomID)
	return resultOK(nil)
}

// UpdateGameMode switches between the werewolf game and the spy variant.
func (e *Engine) UpdateGameMode(ctx context.Context, roomID, callerID, mode string) IntentResult {
	room, caller, err := e.requireRoom(ctx, roomID, callerID)
	if err != nil {
		return resultErr(err)
	}
	if !caller.IsHost {
		return resultErr(authError("only the host can change the game mode"))
	}
	if room.Phase != PhaseWaiting {
		return resultErr(phaseError("the mode can only be changed in the lobby"))
	}
	if mode != ModeWerewolf && mode != ModeSpy {
		return resultErr(validationError("unknown game mode %q", mode))
	}
	if err := e.store.Write(ctx, roomID, "mode", mode); err != nil {
		return resultErr(fmt.Errorf("write game mode: %w", err))
	}
	e.notifyUpdate(roomID)
	return resultOK(nil)
}
