package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"darkroom/internal/infra"
	"darkroom/internal/ledger"
	"darkroom/internal/providers/genai"
	"darkroom/internal/storage"
)

// EditClient covers the synchronous remote calls the handlers issue directly,
// outside the mission queue.
type EditClient interface {
	EditImage(ctx context.Context, req genai.EditRequest) (*genai.ImageAsset, error)
	EnhancePrompt(ctx context.Context, text string) (string, error)
	AnalyzeFrame(ctx context.Context, image []byte, mime string) (string, error)
}

// Notifier wakes the scheduler after the mission list changed.
type Notifier interface {
	Notify()
}

// App bundles the dependencies shared by all handlers.
type App struct {
	Ledger    *ledger.Ledger
	Store     *storage.ResultStore
	Client    EditClient
	Scheduler Notifier
	Logger    infra.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
