package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"
)

// Engine owns the game-session rules. It is stateless across requests: many
// handlers on many connections call into it concurrently for the same room,
// and every cross-request guarantee comes from the RoomStore primitives.
type Engine struct {
	store RoomStore
	now   func() time.Time

	discussionSeconds int
	votingSeconds     int

	// Hooks wired up by main; all optional. onUpdate fires after every
	// committed mutation, onPrivate delivers night-action results to one
	// player, onResult fires once when a game resolves.
	onUpdate  func(roomID string)
	onPrivate func(roomID, playerID string, data any)
	onResult  func(roomID string, room *Room, result *GameResult)
}

func NewEngine(store RoomStore, discussionSeconds, votingSeconds int) *Engine {
	return &Engine{
		store:             store,
		now:               time.Now,
		discussionSeconds: discussionSeconds,
		votingSeconds:     votingSeconds,
	}
}

// IntentResult is the uniform reply for every intent.
type IntentResult struct {
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Data    any       `json:"data,omitempty"`
}

func resultOK(data any) IntentResult {
	return IntentResult{Success: true, Data: data}
}

func resultErr(err error) IntentResult {
	var ge *GameError
	if errors.As(err, &ge) {
		return IntentResult{Error: ge.Message, Kind: ge.Kind}
	}
	log.Printf("internal error: %v", err)
	return IntentResult{Error: err.Error(), Kind: ErrKindCorrupt}
}

func (e *Engine) notifyUpdate(roomID string) {
	if e.onUpdate != nil {
		e.onUpdate(roomID)
	}
}

func (e *Engine) notifyPrivate(roomID, playerID string, data any) {
	if e.onPrivate != nil {
		e.onPrivate(roomID, playerID, data)
	}
}

func (e *Engine) notifyResult(roomID string, room *Room, result *GameResult) {
	if e.onResult != nil {
		e.onResult(roomID, room, result)
	}
}

// mutateRoom runs fn against the freshest committed document under a
// root-path CompareAndSwap and commits everything fn changed in one write.
// Population-wide updates go through here: fn always sees the live player
// map, so a concurrent leave can never be resurrected by a stale batch.
// A missing room aborts with a conflict.
func (e *Engine) mutateRoom(ctx context.Context, roomID string, fn func(room *Room) error) error {
	return e.store.CompareAndSwap(ctx, roomID, "", func(old json.RawMessage) (any, error) {
		if old == nil {
			return nil, conflictError("room %s is gone", roomID)
		}
		var room Room
		if err := json.Unmarshal(old, &room); err != nil {
			return nil, corruptError("room %s is malformed: %v", roomID, err)
		}
		if err := fn(&room); err != nil {
			return nil, err
		}
		return &room, nil
	})
}

// requireRoom loads a room and the calling player, applying the shared
// caller checks every intent needs.
func (e *Engine) requireRoom(ctx context.Context, roomID, callerID string) (*Room, Player, error) {
	room, err := readRoom(ctx, e.store, roomID)
	if err != nil {
		return nil, Player{}, err
	}
	if room == nil {
		return nil, Player{}, validationError("room %s not found", roomID)
	}
	caller, ok := room.player(callerID)
	if !ok {
		return nil, Player{}, authError("you are not in this room")
	}
	return room, caller, nil
}
