package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// RoomStore is the persistence substrate for room documents. A room is one
// JSON tree; a path addresses a nested field ("phase",
// "players/p1/hasActed", "" for the whole document).
//
// These four primitives plus DeleteRoom are everything the engine relies on
// for cross-request correctness; there are no in-process room locks.
type RoomStore interface {
	// Read returns the JSON value at path, or nil if the path (or the room)
	// does not exist.
	Read(ctx context.Context, roomID, path string) (json.RawMessage, error)

	// Write replaces the subtree at path. A nil value deletes the node.
	Write(ctx context.Context, roomID, path string, v any) error

	// MultiUpdate applies all listed path writes atomically. Nil values
	// delete their nodes.
	MultiUpdate(ctx context.Context, roomID string, updates map[string]any) error

	// CompareAndSwap atomically replaces the value at path with fn(current).
	// fn sees the freshest committed value; returning an error aborts the
	// swap and surfaces that error unchanged. Backends retry internally on
	// write contention, never on an fn abort.
	CompareAndSwap(ctx context.Context, roomID, path string, fn func(old json.RawMessage) (any, error)) error

	// DeleteRoom removes the whole room document.
	DeleteRoom(ctx context.Context, roomID string) error
}

// splitPath splits "players/p1/vote" into its segments. The empty path
// addresses the document root.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// toJSONValue normalizes v into plain JSON types (map[string]any, []any,
// float64, string, bool, nil) so documents stay backend-independent.
func toJSONValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal store value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal store value: %w", err)
	}
	return out, nil
}

// docGet walks the document tree and returns the node at path, or nil.
func docGet(doc any, path string) any {
	node := doc
	for _, seg := range splitPath(path) {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[seg]
	}
	return node
}

// docSet replaces the node at path inside doc, creating intermediate maps.
// A nil value deletes the node. Returns the (possibly new) document root;
// a deleted root returns nil.
func docSet(doc any, path string, v any) any {
	segs := splitPath(path)
	if len(segs) == 0 {
		return v
	}
	root, ok := doc.(map[string]any)
	if !ok {
		root = map[string]any{}
	}
	node := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[seg] = child
		}
		node = child
	}
	last := segs[len(segs)-1]
	if v == nil {
		delete(node, last)
	} else {
		node[last] = v
	}
	return root
}

// applyDocUpdates applies a MultiUpdate batch to an in-memory document.
func applyDocUpdates(doc any, updates map[string]any) (any, error) {
	for path, v := range updates {
		jv, err := toJSONValue(v)
		if err != nil {
			return doc, err
		}
		doc = docSet(doc, path, jv)
	}
	return doc, nil
}

func marshalNode(node any) (json.RawMessage, error) {
	if node == nil {
		return nil, nil
	}
	data, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("marshal store node: %w", err)
	}
	return data, nil
}

// MemoryStore keeps room documents in process memory behind one mutex.
// It is the default backend and the one the tests drive the engine through.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]any)}
}

func (ms *MemoryStore) Read(ctx context.Context, roomID, path string) (json.RawMessage, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	doc, ok := ms.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return marshalNode(docGet(doc, path))
}

func (ms *MemoryStore) Write(ctx context.Context, roomID, path string, v any) error {
	return ms.MultiUpdate(ctx, roomID, map[string]any{path: v})
}

func (ms *MemoryStore) MultiUpdate(ctx context.Context, roomID string, updates map[string]any) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	doc, err := applyDocUpdates(ms.rooms[roomID], updates)
	if err != nil {
		return err
	}
	ms.storeDoc(roomID, doc)
	return nil
}

func (ms *MemoryStore) CompareAndSwap(ctx context.Context, roomID, path string, fn func(old json.RawMessage) (any, error)) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	doc := ms.rooms[roomID]
	old, err := marshalNode(docGet(doc, path))
	if err != nil {
		return err
	}
	next, err := fn(old)
	if err != nil {
		return err
	}
	jv, err := toJSONValue(next)
	if err != nil {
		return err
	}
	ms.storeDoc(roomID, docSet(doc, path, jv))
	return nil
}

func (ms *MemoryStore) DeleteRoom(ctx context.Context, roomID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.rooms, roomID)
	return nil
}

// storeDoc writes back a document, dropping the room entirely when the
// update deleted the root.
func (ms *MemoryStore) storeDoc(roomID string, doc any) {
	if doc == nil {
		delete(ms.rooms, roomID)
		return
	}
	ms.rooms[roomID] = doc
}
