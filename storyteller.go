package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

const storytellerSystemPrompt = `You are a dramatic storyteller for a one-night werewolf game. When a game ends, you tell a short atmospheric epilogue about how the night unfolded and who prevailed. Keep it to 2-3 sentences. Be gothic and dramatic, fitting for a village plagued by werewolves.`

// Storyteller generates a dramatic epilogue when a game ends.
// onChunk is called with each text chunk as it streams in.
type Storyteller interface {
	Tell(ctx context.Context, history []string, onChunk func(string)) (string, error)
}

// globalStoryteller is nil when no provider is configured (feature disabled).
var globalStoryteller Storyteller

type llmStoryteller struct {
	llm          llms.Model
	systemPrompt string
	callOpts     []llms.CallOption
}

func (s *llmStoryteller) Tell(ctx context.Context, history []string, onChunk func(string)) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, s.systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman,
			"What happened in the game:\n"+strings.Join(history, "\n")+
				"\n\nTell a short dramatic epilogue (2-3 sentences) about how this night ended."),
	}

	var fullText strings.Builder
	opts := append(s.callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		text := string(chunk)
		fullText.WriteString(text)
		if onChunk != nil {
			onChunk(text)
		}
		return nil
	}))

	_, err := s.llm.GenerateContent(ctx, messages, opts...)
	return strings.TrimSpace(fullText.String()), err
}

// buildCallOpts builds LLM call options from the config.
func buildCallOpts(cfg AppConfig) []llms.CallOption {
	var opts []llms.CallOption

	if cfg.StorytellerTemperature != "" {
		if f, err := strconv.ParseFloat(cfg.StorytellerTemperature, 64); err == nil {
			opts = append(opts, llms.WithTemperature(f))
			log.Printf("Storyteller: temperature=%.2f", f)
		} else {
			log.Printf("Storyteller: invalid temperature %q: %v", cfg.StorytellerTemperature, err)
		}
	}

	return opts
}

// initStoryteller sets up the global storyteller from config.
func initStoryteller(cfg AppConfig) {
	provider := cfg.StorytellerProvider
	model := cfg.StorytellerModel
	callOpts := buildCallOpts(cfg)

	switch provider {
	case "ollama":
		llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(cfg.StorytellerOllamaURL))
		if err != nil {
			log.Printf("Storyteller: failed to init Ollama (%s at %s): %v", model, cfg.StorytellerOllamaURL, err)
			return
		}
		globalStoryteller = &llmStoryteller{llm: llm, systemPrompt: storytellerSystemPrompt, callOpts: callOpts}
		log.Printf("Storyteller: Ollama model=%s url=%s", model, cfg.StorytellerOllamaURL)
	case "openai":
		llm, err := openai.New(openai.WithModel(model))
		if err != nil {
			log.Printf("Storyteller: failed to init OpenAI (%s): %v", model, err)
			return
		}
		globalStoryteller = &llmStoryteller{llm: llm, systemPrompt: storytellerSystemPrompt, callOpts: callOpts}
		log.Printf("Storyteller: OpenAI model=%s", model)
	case "claude":
		llm, err := anthropic.New(anthropic.WithModel(model))
		if err != nil {
			log.Printf("Storyteller: failed to init Claude (%s): %v", model, err)
			return
		}
		globalStoryteller = &llmStoryteller{llm: llm, systemPrompt: storytellerSystemPrompt, callOpts: callOpts}
		log.Printf("Storyteller: Claude model=%s", model)
	case "gemini":
		llm, err := googleai.New(context.Background(), googleai.WithDefaultModel(model))
		if err != nil {
			log.Printf("Storyteller: failed to init Gemini (%s): %v", model, err)
			return
		}
		globalStoryteller = &llmStoryteller{llm: llm, systemPrompt: storytellerSystemPrompt, callOpts: callOpts}
		log.Printf("Storyteller: Gemini model=%s", model)
	case "groq":
		llm, err := openai.New(
			openai.WithModel(model),
			openai.WithBaseURL("https://api.groq.com/openai/v1"),
			openai.WithToken(cfg.GroqAPIKey),
		)
		if err != nil {
			log.Printf("Storyteller: failed to init Groq (%s): %v", model, err)
			return
		}
		globalStoryteller = &llmStoryteller{llm: llm, systemPrompt: storytellerSystemPrompt, callOpts: callOpts}
		log.Printf("Storyteller: Groq model=%s", model)
	case "openai-compatible":
		if cfg.StorytellerURL == "" {
			log.Printf("Storyteller: storyteller_url is required for openai-compatible provider")
			return
		}
		opts := []openai.Option{
			openai.WithModel(model),
			openai.WithBaseURL(cfg.StorytellerURL),
		}
		if cfg.StorytellerAPIKey != "" {
			opts = append(opts, openai.WithToken(cfg.StorytellerAPIKey))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			log.Printf("Storyteller: failed to init openai-compatible (%s at %s): %v", model, cfg.StorytellerURL, err)
			return
		}
		globalStoryteller = &llmStoryteller{llm: llm, systemPrompt: storytellerSystemPrompt, callOpts: callOpts}
		log.Printf("Storyteller: openai-compatible model=%s url=%s", model, cfg.StorytellerURL)
	default:
		log.Printf("Storyteller: disabled (set storyteller_provider to enable)")
	}
}

// epilogueHistory flattens a finished game into prompt lines. Player IDs are
// replaced with display names so the narration reads like a story.
func epilogueHistory(room *Room, result *GameResult) []string {
	name := func(id string) string {
		if p, ok := room.Players[id]; ok && p.DisplayName != "" {
			return p.DisplayName
		}
		return id
	}

	var lines []string
	if result.Location != "" {
		lines = append(lines, fmt.Sprintf("The game took place at the %s.", result.Location))
	}
	for id, role := range result.OriginalRoles {
		if result.FinalRoles[id] != role {
			lines = append(lines, fmt.Sprintf("%s started the night as the %s but ended it as the %s.", name(id), role, result.FinalRoles[id]))
		} else {
			lines = append(lines, fmt.Sprintf("%s was the %s.", name(id), role))
		}
	}
	for voter, target := range result.Votes {
		if target != "" {
			lines = append(lines, fmt.Sprintf("%s voted against %s.", name(voter), name(target)))
		}
	}
	switch {
	case result.EliminatedPlayerID != "":
		lines = append(lines, fmt.Sprintf("The village eliminated %s, who was the %s.", name(result.EliminatedPlayerID), result.EliminatedPlayerRole))
	case result.Winners == WinnersNone:
		lines = append(lines, "The host called the game off before anyone was eliminated.")
	default:
		lines = append(lines, "Nobody was eliminated.")
	}
	switch result.Winners {
	case WinnersVillage:
		lines = append(lines, "The village won.")
	case WinnersWerewolf:
		lines = append(lines, "The werewolves won.")
	case WinnersNobody:
		lines = append(lines, "Nobody won.")
	}
	return lines
}

// maybeNarrateEpilogue asynchronously streams an epilogue into the room after
// a game ends. Returns immediately; partial text reaches clients progressively
// as room snapshots are re-broadcast.
func maybeNarrateEpilogue(e *Engine, roomID string, result *GameResult) {
	if globalStoryteller == nil || result == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		room, err := readRoom(ctx, e.store, roomID)
		if err != nil || room == nil {
			return
		}
		history := epilogueHistory(room, result)

		// Buffer for streamed tokens, updated by the streaming callback
		var mu sync.Mutex
		var buf strings.Builder

		// Flush goroutine: pushes partial text to the room and clients every 300ms
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(300 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					text := strings.TrimSpace(buf.String())
					mu.Unlock()
					if text != "" {
						if werr := writeEpilogue(ctx, e, roomID, text); werr != nil {
							if isConflict(werr) {
								return // room gone or reset, stop narrating
							}
							log.Printf("Storyteller: flush epilogue for room %s: %v", roomID, werr)
							continue
						}
						e.notifyUpdate(roomID)
					}
				case <-done:
					return
				}
			}
		}()

		_, err = globalStoryteller.Tell(ctx, history, func(chunk string) {
			mu.Lock()
			buf.WriteString(chunk)
			mu.Unlock()
		})

		close(done)

		if err != nil {
			log.Printf("Storyteller: epilogue for room %s failed: %v", roomID, err)
			return
		}

		mu.Lock()
		finalText := strings.TrimSpace(buf.String())
		mu.Unlock()
		if finalText == "" {
			return
		}

		if werr := writeEpilogue(ctx, e, roomID, finalText); werr != nil {
			if !isConflict(werr) {
				log.Printf("Storyteller: final epilogue write for room %s: %v", roomID, werr)
			}
			return
		}
		log.Printf("Storyteller: completed epilogue for room %s", roomID)
		e.notifyUpdate(roomID)
	}()
}

// writeEpilogue lands narration text only while the room still shows the
// results it narrates; a room that was deleted or reset aborts with a
// conflict instead of being recreated by the write.
func writeEpilogue(ctx context.Context, e *Engine, roomID, text string) error {
	return e.mutateRoom(ctx, roomID, func(room *Room) error {
		if room.Phase != PhaseEnded {
			return conflictError("room %s is no longer showing results", roomID)
		}
		room.Epilogue = text
		return nil
	})
}
