package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// Night action types. "skip" is an ordinary committing action with a
// sentinel type, not a special case in the dispatch table.
const (
	ActionSkip           = "skip"
	ActionReveal         = "reveal"           // discovery: packmates / werewolves / masons
	ActionPeekCenter     = "peek_center"      // discovery: lone werewolf, witch
	ActionSeerPeekPlayer = "seer_peek_player" // committing: look at one player's current card
	ActionSeerPeekCenter = "seer_peek_center" // committing: look at two center cards
	ActionRob            = "rob"              // committing: robber swap + look
	ActionTroubleSwap    = "trouble_swap"     // committing: swap two other players
	ActionDrunkSwap      = "drunk_swap"       // committing: mandatory center swap
	ActionWitchSwap      = "witch_swap"       // committing: give a center card to a player
)

// NightActionRequest is a player's declared night action.
type NightActionRequest struct {
	ActionType    string
	TargetIDs     []string
	CenterIndexes []int
}

// nightEffect is what a role handler produces: a mutation set over
// currentRoles/centerCards plus a private result for the actor. Discovery
// effects carry information only and never consume the actor's turn.
type nightEffect struct {
	discovery bool
	updates   map[string]any
	result    map[string]any
}

// A nightHandler is a pure function of (room snapshot, actor, request).
// Committing handlers are invoked a second time on a fresh snapshot after
// the hasActed lock is won, so earlier cohorts' swaps are always visible.
type nightHandler func(room *Room, actorID string, req NightActionRequest) (*nightEffect, error)

var nightHandlers = map[string]nightHandler{
	RoleWerewolf:     werewolfNight,
	RoleMinion:       minionNight,
	RoleMason:        masonNight,
	RoleSeer:         seerNight,
	RoleRobber:       robberNight,
	RoleTroublemaker: troublemakerNight,
	RoleDrunk:        drunkNight,
	RoleWitch:        witchNight,
	RoleInsomniac:    insomniacNight,
	RoleVillager:     villagerNight,
}

// PerformNightAction validates turn legality, dispatches to the actor's
// original-role handler, and commits the effect under the per-action
// hasActed lock.
func (e *Engine) PerformNightAction(ctx context.Context, roomID, callerID string, req NightActionRequest) IntentResult {
	room, _, err := e.requireRoom(ctx, roomID, callerID)
	if err != nil {
		return resultErr(err)
	}
	if room.Phase != PhaseNight {
		return resultErr(phaseError("night actions are only valid at night"))
	}
	origRole := room.OriginalRoles[callerID]
	if origRole == "" {
		return resultErr(corruptError("player %s was never dealt a role", callerID))
	}
	// Turn legality always checks the original role, even when a swap has
	// already changed what the actor holds.
	if origRole != room.ActiveNightRole {
		return resultErr(phaseError("it is not your turn (the %s acts now)", room.ActiveNightRole))
	}
	handler := nightHandlers[origRole]
	if handler == nil {
		return resultErr(validationError("role %s has no night action", origRole))
	}

	// First pass on the snapshot: cheap validation, and the full answer for
	// discovery actions, which never consume the turn.
	effect, err := handler(room, callerID, req)
	if err != nil {
		return resultErr(err)
	}
	if effect.discovery {
		return resultOK(effect.result)
	}

	// Lock-then-setup: the hasActed CAS is the per-action mutex. A loser
	// already acted and must not apply the effect again.
	err = e.store.CompareAndSwap(ctx, roomID, "players/"+callerID+"/hasActed", func(old json.RawMessage) (any, error) {
		var acted bool
		if old == nil {
			return nil, corruptError("player %s vanished from room %s", callerID, roomID)
		}
		if uerr := json.Unmarshal(old, &acted); uerr != nil {
			return nil, corruptError("player %s has a malformed hasActed flag", callerID)
		}
		if acted {
			return nil, conflictError("you already acted this turn")
		}
		return true, nil
	})
	if err != nil {
		return resultErr(err)
	}

	// Recompute against a fresh read; rolling back the flag keeps the
	// action legally retryable if anything below fails.
	fresh, err := readRoom(ctx, e.store, roomID)
	if err != nil || fresh == nil {
		return resultErr(e.rollbackActed(ctx, roomID, callerID, fmt.Errorf("re-read room for action: %w", err)))
	}
	if fresh.Phase != PhaseNight || fresh.ActiveNightRole != origRole {
		return resultErr(e.rollbackActed(ctx, roomID, callerID, phaseError("the night moved on")))
	}
	effect, err = handler(fresh, callerID, req)
	if err != nil {
		return resultErr(e.rollbackActed(ctx, roomID, callerID, err))
	}

	updates := effect.updates
	if updates == nil {
		updates = map[string]any{}
	}
	updates["actions/"+callerID] = NightAction{
		Role:          origRole,
		ActionType:    req.ActionType,
		TargetIDs:     req.TargetIDs,
		CenterIndexes: req.CenterIndexes,
		Result:        effect.result,
		PerformedAt:   e.now().UnixMilli(),
	}
	if err := e.store.MultiUpdate(ctx, roomID, updates); err != nil {
		return resultErr(e.rollbackActed(ctx, roomID, callerID, fmt.Errorf("persist night action: %w", err)))
	}

	e.notifyPrivate(roomID, callerID, map[string]any{
		"actionType": req.ActionType,
		"result":     effect.result,
	})

	// The action is committed; a failed advancement must not fail it. The
	// host can still force day if the cursor wedges.
	if err := e.advanceCohort(ctx, roomID); err != nil {
		log.Printf("Room %s: cohort advancement after %s's action failed: %v", roomID, callerID, err)
	}

	e.notifyUpdate(roomID)
	return resultOK(effect.result)
}

// SkipNightAction is the decline/no-op committing action.
func (e *Engine) SkipNightAction(ctx context.Context, roomID, callerID string) IntentResult {
	return e.PerformNightAction(ctx, roomID, callerID, NightActionRequest{ActionType: ActionSkip})
}

func (e *Engine) rollbackActed(ctx context.Context, roomID, callerID string, cause error) error {
	err := e.mutateRoom(ctx, roomID, func(room *Room) error {
		p, ok := room.Players[callerID]
		if !ok {
			return conflictError("player %s already left", callerID)
		}
		p.HasActed = false
		room.Players[callerID] = p
		return nil
	})
	if err != nil && !isConflict(err) {
		log.Printf("Room %s: failed to roll back hasActed for %s: %v", roomID, callerID, err)
	}
	return cause
}

// advanceCohort checks whether every member of the active cohort has acted,
// and if so advances the cursor to the next role that has dealt players,
// clearing every hasActed flag for reuse. With no role left, the night ends.
//
// The cursor, activeNightRole and the flag clears commit in one root swap:
// a concurrent advancer sees either the old cohort still incomplete or the
// new cohort fully installed, never a half-advanced room.
func (e *Engine) advanceCohort(ctx context.Context, roomID string) error {
	nightDone := false
	var fromRole, toRole string
	err := e.mutateRoom(ctx, roomID, func(room *Room) error {
		nightDone = false
		if room.Phase != PhaseNight || room.ActiveNightRole == "" {
			return conflictError("the night already ended")
		}
		for _, id := range room.cohort(room.ActiveNightRole) {
			if !room.Players[id].HasActed {
				return conflictError("cohort still waking")
			}
		}
		nextIdx := -1
		for i := room.NightOrderIndex + 1; i < len(room.NightOrder); i++ {
			if len(room.cohort(room.NightOrder[i])) > 0 {
				nextIdx = i
				break
			}
		}
		if nextIdx < 0 {
			nightDone = true
			return conflictError("no role left to wake")
		}
		fromRole, toRole = room.ActiveNightRole, room.NightOrder[nextIdx]
		room.NightOrderIndex = nextIdx
		room.ActiveNightRole = toRole
		for id, p := range room.Players {
			p.HasActed = false
			room.Players[id] = p
		}
		return nil
	})
	if err != nil {
		if isConflict(err) {
			if nightDone {
				return e.enterDay(ctx, roomID)
			}
			return nil
		}
		return err
	}
	log.Printf("Room %s: night advances %s -> %s", roomID, fromRole, toRole)
	return nil
}

// --- per-role handlers -------------------------------------------------

func discoveryEffect(result map[string]any) (*nightEffect, error) {
	return &nightEffect{discovery: true, result: result}, nil
}

func commitEffect(updates, result map[string]any) (*nightEffect, error) {
	return &nightEffect{updates: updates, result: result}, nil
}

// packInfo lists players by original role for reveal-style results.
func packInfo(room *Room, role string) []map[string]string {
	var pack []map[string]string
	for _, id := range room.cohort(role) {
		pack = append(pack, map[string]string{
			"id":   id,
			"name": room.Players[id].DisplayName,
		})
	}
	return pack
}

func centerIndex(room *Room, req NightActionRequest, n int) (int, *GameError) {
	if len(req.CenterIndexes) <= n {
		return 0, validationError("missing center card index")
	}
	k := req.CenterIndexes[n]
	if k < 0 || k >= len(room.CenterCards) {
		return 0, validationError("center card index %d out of range", k)
	}
	return k, nil
}

func targetPlayer(room *Room, req NightActionRequest, n int) (string, *GameError) {
	if len(req.TargetIDs) <= n {
		return "", validationError("missing target player")
	}
	id := req.TargetIDs[n]
	if _, ok := room.Players[id]; !ok {
		return "", validationError("target %s is not in the room", id)
	}
	return id, nil
}

func werewolfNight(room *Room, actorID string, req NightActionRequest) (*nightEffect, error) {
	pack := room.cohort(RoleWerewolf)
	switch req.ActionType {
	case ActionReveal:
		return discoveryEffect(map[string]any{
			"werewolves": packInfo(room, RoleWerewolf),
			"lone":       len(pack) == 1,
		})
	case ActionPeekCenter:
		if len(pack) != 1 {
			return nil, validationError("only a lone werewolf may peek a center card")
		}
		k, verr := centerIndex(room, req, 0)
		if verr != nil {
			return nil, verr
		}
		return discoveryEffect(map[string]any{"centerIndex": k, "role": room.CenterCards[k]})
	case ActionSkip:
		result := map[string]any{}
		if len(pack) >= 2 {
			result["werewolves"] = packInfo(room, RoleWerewolf)
		}
		return commitEffect(nil, result)
	}
	return nil, validationError("werewolf cannot %s", req.ActionType)
}

// minionNight reveals players whose *original* role is werewolf; the minion
// itself is never among them.
func minionNight(room *Room, actorID string, req NightActionRequest) (*nightEffect, error) {
	switch req.ActionType {
	case ActionReveal:
		return discoveryEffect(map[string]any{"werewolves": packInfo(room, RoleWerewolf)})
	case ActionSkip:
		return commitEffect(nil, map[string]any{"werewolves": packInfo(room, RoleWerewolf)})
	}
	return nil, validationError("minion cannot %s", req.ActionType)
}

func masonNight(room *Room, actorID string, req NightActionRequest) (*nightEffect, error) {
	var others []map[string]string
	for _, m := range packInfo(room, RoleMason) {
		if m["id"] != actorID {
			others = append(others, m)
		}
	}
	switch req.ActionType {
	case ActionReveal:
		return discoveryEffect(map[string]any{"masons": others})
	case ActionSkip:
		return commitEffect(nil, map[string]any{"masons": others})
	}
	return nil, validationError("mason cannot %s", req.ActionType)
}

// seerNight commits without mutating: the look still consumes the turn.
func seerNight(room *Room, actorID string, req NightActionRequest) (*nightEffect, error) {
	switch req.ActionType {
	case ActionSeerPeekPlayer:
		target, verr := targetPlayer(room, req, 0)
		if verr != nil {
			return nil, verr
		}
		if target == actorID {
			return nil, validationError("the seer looks at another player, not themselves")
		}
		return commitEffect(nil, map[string]any{"target": target, "role": room.CurrentRoles[target]})
	case ActionSeerPeekCenter:
		if len(req.CenterIndexes) != 2 || req.CenterIndexes[0] == req.CenterIndexes[1] {
			return nil, validationError("the seer peeks exactly two distinct center cards")
		}
		cards := map[string]any{}
		for n := range req.CenterIndexes {
			k, verr := centerIndex(room, req, n)
			if verr != nil {
				return nil, verr
			}
			cards[fmt.Sprintf("%d", k)] = room.CenterCards[k]
		}
		return commitEffect(nil, map[string]any{"cards": cards})
	case ActionSkip:
		return commitEffect(nil, nil)
	}
	return nil, validationError("seer cannot %s", req.ActionType)
}

func robberNight(room *Room, actorID string, req NightActionRequest) (*nightEffect, error) {
	switch req.ActionType {
	case ActionRob:
		target, verr := targetPlayer(room, req, 0)
		if verr != nil {
			return nil, verr
		}
		if target == actorID {
			return nil, validationError("the robber robs another player")
		}
		stolen := room.CurrentRoles[target]
		updates := map[string]any{
			"currentRoles/" + actorID: stolen,
			"currentRoles/" + target:  room.CurrentRoles[actorID],
		}
		return commitEffect(updates, map[string]any{"target": target, "newRole": stolen})
	case ActionSkip:
		return commitEffect(nil, nil)
	}
	return nil, validationError("robber cannot %s", req.ActionType)
}

// troublemakerNight swaps two other players; the actor learns who was
// swapped but not into what.
func troublemakerNight(room *Room, actorID string, req NightActionRequest) (*nightEffect, error) {
	switch req.ActionType {
	case ActionTroubleSwap:
		a, verr := targetPlayer(room, req, 0)
		if verr != nil {
			return nil, verr
		}
		b, verr := targetPlayer(room, req, 1)
		if verr != nil {
			return nil, verr
		}
		if a == b || a == actorID || b == actorID {
			return nil, validationError("the troublemaker swaps two distinct other players")
		}
		updates := map[string]any{
			"currentRoles/" + a: room.CurrentRoles[b],
			"currentRoles/" + b: room.CurrentRoles[a],
		}
		return commitEffect(updates, map[string]any{"swapped": []string{a, b}})
	case ActionSkip:
		return commitEffect(nil, nil)
	}
	return nil, validationError("troublemaker cannot %s", req.ActionType)
}

// drunkNight has no decline: the drunk must swap and is never told the
// resulting role.
func drunkNight(room *Room, actorID string, req NightActionRequest) (*nightEffect, error) {
	if req.ActionType != ActionDrunkSwap {
		return nil, validationError("the drunk must swap with a center card")
	}
	k, verr := centerIndex(room, req, 0)
	if verr != nil {
		return nil, verr
	}
	center := make([]string, len(room.CenterCards))
	copy(center, room.CenterCards)
	center[k] = room.CurrentRoles[actorID]
	updates := map[string]any{
		"currentRoles/" + actorID: room.CenterCards[k],
		"centerCards":             center,
	}
	return commitEffect(updates, map[string]any{"centerIndex": k})
}

func witchNight(room *Room, actorID string, req NightActionRequest) (*nightEffect, error) {
	switch req.ActionType {
	case ActionPeekCenter:
		k, verr := centerIndex(room, req, 0)
		if verr != nil {
			return nil, verr
		}
		return discoveryEffect(map[string]any{"centerIndex": k, "role": room.CenterCards[k]})
	case ActionWitchSwap:
		k, verr := centerIndex(room, req, 0)
		if verr != nil {
			return nil, verr
		}
		target, verr := targetPlayer(room, req, 0) // may be the witch herself
		if verr != nil {
			return nil, verr
		}
		center := make([]string, len(room.CenterCards))
		copy(center, room.CenterCards)
		given := center[k]
		center[k] = room.CurrentRoles[target]
		updates := map[string]any{
			"currentRoles/" + target: given,
			"centerCards":            center,
		}
		// The target is not notified during the night.
		return commitEffect(updates, map[string]any{"target": target, "centerIndex": k, "givenRole": given})
	case ActionSkip:
		return commitEffect(nil, nil)
	}
	return nil, validationError("witch cannot %s", req.ActionType)
}

// insomniacNight reads the actor's current role at commit time, after every
// earlier cohort's swaps. This is why the insomniac wakes late.
func insomniacNight(room *Room, actorID string, req NightActionRequest) (*nightEffect, error) {
	if req.ActionType != ActionSkip {
		return nil, validationError("insomniac cannot %s", req.ActionType)
	}
	return commitEffect(nil, map[string]any{"role": room.CurrentRoles[actorID]})
}

func villagerNight(room *Room, actorID string, req NightActionRequest) (*nightEffect, error) {
	if req.ActionType != ActionSkip {
		return nil, validationError("villager has no night action")
	}
	return commitEffect(nil, nil)
}
