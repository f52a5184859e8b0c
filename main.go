package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// newRoomStore builds the room store backend selected by config. The
// returned closer releases the backend's resources on shutdown.
func newRoomStore(cfg AppConfig) (RoomStore, func(), error) {
	switch cfg.Store {
	case "", "memory":
		log.Printf("Store: in-memory")
		return NewMemoryStore(), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis at %s: %w", cfg.RedisAddr, err)
		}
		log.Printf("Store: redis at %s", cfg.RedisAddr)
		return NewRedisStore(client), func() { client.Close() }, nil
	case "sqlite":
		store, err := NewSQLiteStore(cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Store: sqlite at %s", cfg.DB)
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

// handleWSMessage routes one client message to the engine. Every intent
// gets an explicit reply; failed intents never mutate the room, so no
// broadcast follows them.
func handleWSMessage(engine *Engine, client *Client, message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("WebSocket unmarshal error for player %s: %v", client.playerID, err)
		return
	}

	LogWSMessage("IN", client.playerID, msg.Action)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	roomID, playerID := client.roomID, client.playerID

	var res IntentResult
	switch msg.Action {
	case "update_roles":
		res = engine.UpdateSelectedRoles(ctx, roomID, playerID, msg.Roles)
	case "update_mode":
		res = engine.UpdateGameMode(ctx, roomID, playerID, msg.Mode)
	case "kick_player":
		res = engine.KickPlayer(ctx, roomID, playerID, msg.TargetID)
	case "leave_room":
		res = engine.Leave(ctx, roomID, playerID)
	case "start_game":
		res = engine.StartGame(ctx, roomID, playerID)
	case "set_ready":
		res = engine.SetReady(ctx, roomID, playerID)
	case "night_action":
		res = engine.PerformNightAction(ctx, roomID, playerID, NightActionRequest{
			ActionType:    msg.ActionType,
			TargetIDs:     msg.TargetIDs,
			CenterIndexes: msg.CenterIndexes,
		})
	case "skip_action":
		res = engine.SkipNightAction(ctx, roomID, playerID)
	case "advance_to_day":
		res = engine.ForceAdvanceToDay(ctx, roomID, playerID)
	case "advance_to_voting":
		res = engine.AdvanceToVoting(ctx, roomID, playerID)
	case "cast_vote":
		res = engine.CastVote(ctx, roomID, playerID, msg.TargetID)
	case "check_timer":
		res = engine.CheckTimer(ctx, roomID, playerID)
	case "end_game":
		res = engine.EndGame(ctx, roomID, playerID)
	case "reset_game":
		res = engine.ResetGame(ctx, roomID, playerID)
	default:
		log.Printf("Unknown action %q from player %s in room %s", msg.Action, playerID, roomID)
		res = resultErr(validationError("unknown action %q", msg.Action))
	}

	if !res.Success {
		sendJSON(client, map[string]any{
			"type":   "error",
			"action": msg.Action,
			"kind":   res.Kind,
			"error":  res.Error,
		})
		return
	}
	if res.Data != nil {
		sendJSON(client, map[string]any{
			"type":   "ack",
			"action": msg.Action,
			"data":   res.Data,
		})
	}
}

func main() {
	fv := registerFlags()
	flag.Parse()
	cfg := loadConfig(*fv.configPath)
	fv.applyTo(&cfg)

	// Set up logging to both stdout and file
	logFile, err := os.OpenFile("werewolfnight.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	if cfg.Dev {
		cfg.LogDebug = true
	}
	if err := InitAppLogger(cfg.toLogConfig()); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer CloseAppLogger()
	if appLogger.IsEnabled() {
		log.Println("Extended logging enabled")
	}

	store, closeStore, err := newRoomStore(cfg)
	if err != nil {
		log.Fatal("Failed to initialize store:", err)
	}
	defer closeStore()

	initStoryteller(cfg)

	engine := NewEngine(store, cfg.DiscussionSeconds, cfg.VotingSeconds)
	hub := newHub()
	hub.render = func(ctx context.Context, roomID, viewerID string) ([]byte, error) {
		room, err := readRoom(ctx, store, roomID)
		if err != nil {
			return nil, err
		}
		if room == nil {
			return json.Marshal(map[string]any{"type": "room_closed", "roomId": roomID})
		}
		return json.Marshal(buildSnapshot(roomID, room, viewerID))
	}
	engine.onUpdate = hub.broadcastRoom
	engine.onPrivate = func(roomID, playerID string, data any) {
		raw, merr := json.Marshal(map[string]any{"type": "private", "data": data})
		if merr != nil {
			logError("onPrivate: marshal", merr)
			return
		}
		hub.sendToPlayer(roomID, playerID, raw)
	}
	engine.onResult = func(roomID string, room *Room, result *GameResult) {
		hub.broadcastRoom(roomID)
		maybeNarrateEpilogue(engine, roomID, result)
	}

	hub.start()
	defer hub.stop()

	mux := http.NewServeMux()
	wrapHandler := func(pattern string, handler http.Handler) {
		if appLogger != nil && appLogger.logRequests {
			mux.Handle(pattern, &LoggingHandler{Handler: handler, Logger: appLogger})
		} else {
			mux.Handle(pattern, handler)
		}
	}
	wrapHandler("/ws", handleWebSocket(engine, hub))
	wrapHandler("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	log.Printf("Listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		log.Fatal("Server error:", err)
	}
}
