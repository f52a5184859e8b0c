package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSMessage represents a message from the client
type WSMessage struct {
	Action        string   `json:"action"`
	Mode          string   `json:"mode,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	TargetID      string   `json:"target_id,omitempty"`
	TargetIDs     []string `json:"target_ids,omitempty"`
	CenterIndexes []int    `json:"center_indexes,omitempty"`
	ActionType    string   `json:"action_type,omitempty"`
}

// Client represents a websocket connection with player info
type Client struct {
	conn     *websocket.Conn
	roomID   string
	playerID string
	writeMu  sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
}

// WebSocket hub for fanning room state out to connected clients. Snapshots
// are rendered per viewer, so each client only ever receives what its
// player is allowed to know.
type Hub struct {
	clients    map[*websocket.Conn]*Client
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup

	// render builds the personalized room snapshot for one viewer.
	render func(ctx context.Context, roomID, viewerID string) ([]byte, error)
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

// start launches the hub goroutine. The waitgroup is incremented here, not
// inside run, so a stop racing the launch still waits for it.
func (h *Hub) start() {
	h.wg.Add(1)
	go h.run()
}

// stop signals the hub goroutine to exit and waits for it to finish
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

func (h *Hub) sendToPlayer(roomID, playerID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.roomID == roomID && client.playerID == playerID {
			LogWSMessage("OUT", playerID, string(message))

			client.writeMu.Lock()
			err := client.conn.WriteMessage(websocket.TextMessage, message)
			client.writeMu.Unlock()

			if err != nil {
				log.Printf("WebSocket write error to player %s: %v", playerID, err)
			}
		}
	}
}

// broadcastRoom re-renders the room for every connected viewer. Write errors
// drop the connection; the player record in the room is untouched so they
// can reconnect.
func (h *Hub) broadcastRoom(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, client := range h.clients {
		if client.roomID != roomID {
			continue
		}
		message, err := h.render(ctx, roomID, client.playerID)
		if err != nil {
			DebugLog("hub.broadcastRoom", "render for %s/%s failed: %v", roomID, client.playerID, err)
			continue
		}

		client.writeMu.Lock()
		werr := conn.WriteMessage(websocket.TextMessage, message)
		client.writeMu.Unlock()

		if werr != nil {
			log.Printf("WebSocket write error: %v", werr)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (room %s, player %s). Total: %d", client.roomID, client.playerID, total)
			h.broadcastRoom(client.roomID)

		case conn := <-h.unregister:
			h.mu.Lock()
			client, ok := h.clients[conn]
			if ok {
				delete(h.clients, conn)
				conn.Close()
				DebugLog("hub.unregister", "Player %s disconnected from room %s", client.playerID, client.roomID)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total: %d", total)
		}
	}
}

// PlayerView is the per-player slice of a snapshot everyone may see.
type PlayerView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsHost      bool   `json:"isHost"`
	IsReady     bool   `json:"isReady"`
	HasActed    bool   `json:"hasActed"`
	HasVoted    bool   `json:"hasVoted"`
}

// PrivateView carries what only the viewer themselves may see.
type PrivateView struct {
	Role     string `json:"role,omitempty"`
	Location string `json:"location,omitempty"`
}

// RoomView is the redacted snapshot sent to one viewer. Roles, center cards
// and votes stay hidden until the game ends; the full result is attached
// only in the ended phase.
type RoomView struct {
	Type            string       `json:"type"`
	RoomID          string       `json:"roomId"`
	Phase           string       `json:"phase"`
	Mode            string       `json:"mode"`
	SelectedRoles   []string     `json:"selectedRoles,omitempty"`
	ActiveNightRole string       `json:"activeNightRole,omitempty"`
	DayEndsAt       int64        `json:"dayEndsAt,omitempty"`
	VotingEndsAt    int64        `json:"votingEndsAt,omitempty"`
	Players         []PlayerView `json:"players"`
	You             *PrivateView `json:"you,omitempty"`
	Result          *GameResult  `json:"result,omitempty"`
	Epilogue        string       `json:"epilogue,omitempty"`
}

// buildSnapshot redacts a room for one viewer.
func buildSnapshot(roomID string, room *Room, viewerID string) RoomView {
	view := RoomView{
		Type:            "room",
		RoomID:          roomID,
		Phase:           room.Phase,
		Mode:            gameMode(room),
		SelectedRoles:   room.SelectedRoles,
		ActiveNightRole: room.ActiveNightRole,
		DayEndsAt:       room.DayEndsAt,
		VotingEndsAt:    room.VotingEndsAt,
	}
	for _, id := range playerIDsByJoinTime(room.Players) {
		p := room.Players[id]
		view.Players = append(view.Players, PlayerView{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			IsHost:      p.IsHost,
			IsReady:     p.IsReady,
			HasActed:    p.HasActed,
			HasVoted:    p.Vote != "",
		})
	}

	if room.Phase != PhaseWaiting && room.Phase != PhaseEnded {
		private := &PrivateView{Role: room.OriginalRoles[viewerID]}
		// In the spy variant everyone except the spy learns the location.
		if gameMode(room) == ModeSpy && private.Role != RoleSpy {
			private.Location = room.Location
		}
		view.You = private
	}
	if room.Phase == PhaseEnded {
		view.Result = room.Result
		view.Epilogue = room.Epilogue
	}
	return view
}

func handleWebSocket(engine *Engine, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("room")
		playerID := r.URL.Query().Get("player")
		name := r.URL.Query().Get("name")
		if roomID == "" {
			http.Error(w, "room is required", http.StatusBadRequest)
			return
		}

		joined := engine.Join(r.Context(), roomID, playerID, name)
		if !joined.Success {
			DebugLog("handleWebSocket", "Join rejected for room %s: %s", roomID, joined.Error)
			http.Error(w, joined.Error, http.StatusForbidden)
			return
		}
		playerID = joined.Data.(map[string]any)["playerId"].(string)

		var upgrader = websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error for player %s: %v", playerID, err)
			return
		}

		DebugLog("handleWebSocket", "WebSocket upgraded for room %s, player %s", roomID, playerID)
		client := &Client{conn: conn, roomID: roomID, playerID: playerID}
		hub.register <- client

		// Handle messages and disconnection
		go func() {
			defer func() {
				hub.unregister <- conn
			}()
			for {
				_, message, err := conn.ReadMessage()
				if err != nil {
					break
				}
				handleWSMessage(engine, client, message)
			}
		}()
	}
}

func sendJSON(client *Client, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logError("sendJSON: marshal", err)
		return
	}
	client.writeMu.Lock()
	werr := client.conn.WriteMessage(websocket.TextMessage, raw)
	client.writeMu.Unlock()
	if werr != nil {
		log.Printf("WebSocket write error to player %s: %v", client.playerID, werr)
	}
}
