package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"darkroom/internal/domain"
	"darkroom/internal/storage"
	"darkroom/pkg/zip"
)

type enqueueMissionRequest struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

// EnqueueMission creates a new pending mission and wakes the scheduler.
func (a *App) EnqueueMission(w http.ResponseWriter, r *http.Request) {
	var req enqueueMissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	missionType := domain.MissionType(strings.TrimSpace(req.Type))
	if !missionType.Valid() {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported mission type")
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}

	mission := &domain.Mission{
		ID:     uuid.NewString(),
		Type:   missionType,
		Prompt: prompt,
		Status: domain.MissionStatusPending,
	}
	if err := a.Ledger.Enqueue(r.Context(), mission); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: enqueue mission failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to enqueue mission")
		return
	}
	a.Scheduler.Notify()
	a.json(w, http.StatusAccepted, mission)
}

// ListMissions returns the full ledger in creation order.
func (a *App) ListMissions(w http.ResponseWriter, r *http.Request) {
	missions := a.Ledger.Load(r.Context())
	if missions == nil {
		missions = []*domain.Mission{}
	}
	a.json(w, http.StatusOK, map[string]any{"missions": missions})
}

// GetMission returns a single mission by id.
func (a *App) GetMission(w http.ResponseWriter, r *http.Request) {
	mission, ok := a.loadMission(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, mission)
}

// MissionResult serves the stored payload for a mission: a JSON frame list
// for image missions, the raw blob for video missions. A missing payload is
// a 404, which the UI treats as "not ready or missing".
func (a *App) MissionResult(w http.ResponseWriter, r *http.Request) {
	mission, ok := a.loadMission(w, r)
	if !ok {
		return
	}
	payload, ok := a.Store.Get(r.Context(), mission.ID)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "result not available")
		return
	}
	switch payload.Kind {
	case storage.PayloadVideo:
		w.Header().Set("Content-Type", payload.MIME)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", mission.ID+".mp4"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload.Video)
	default:
		frames := make([]string, 0, len(payload.Frames))
		for _, frame := range payload.Frames {
			frames = append(frames, base64.StdEncoding.EncodeToString(frame))
		}
		a.json(w, http.StatusOK, map[string]any{
			"kind":   payload.Kind,
			"mime":   payload.MIME,
			"frames": frames,
		})
	}
}

// MissionArchive serves the mission payload as a zip archive for download.
func (a *App) MissionArchive(w http.ResponseWriter, r *http.Request) {
	mission, ok := a.loadMission(w, r)
	if !ok {
		return
	}
	payload, ok := a.Store.Get(r.Context(), mission.ID)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "result not available")
		return
	}
	var assets []zip.Asset
	switch payload.Kind {
	case storage.PayloadVideo:
		assets = append(assets, zip.Asset{Filename: "video", MIME: payload.MIME, Data: payload.Video})
	default:
		for i, frame := range payload.Frames {
			assets = append(assets, zip.Asset{
				Filename: fmt.Sprintf("frame-%02d", i+1),
				MIME:     payload.MIME,
				Data:     frame,
			})
		}
	}
	archive := zip.ArchiveAssets(assets)
	if archive == nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", mission.ID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// RegenerateMission enqueues a brand-new mission with the same prompt and
// type. The original mission is never mutated or requeued.
func (a *App) RegenerateMission(w http.ResponseWriter, r *http.Request) {
	original, ok := a.loadMission(w, r)
	if !ok {
		return
	}
	mission := &domain.Mission{
		ID:     uuid.NewString(),
		Type:   original.Type,
		Prompt: original.Prompt,
		Status: domain.MissionStatusPending,
	}
	if err := a.Ledger.Enqueue(r.Context(), mission); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: regenerate mission failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to enqueue mission")
		return
	}
	a.Scheduler.Notify()
	a.json(w, http.StatusAccepted, mission)
}

// ClearFinished removes completed and failed missions from the ledger along
// with their result store entries.
func (a *App) ClearFinished(w http.ResponseWriter, r *http.Request) {
	ids, err := a.Ledger.ClearFinished(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: clear finished failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to clear missions")
		return
	}
	for _, id := range ids {
		if err := a.Store.Delete(r.Context(), id); err != nil {
			a.Logger.Warn().Err(err).Str("mission_id", id).Msg("handlers: orphaned result cleanup failed")
		}
	}
	a.json(w, http.StatusOK, map[string]any{"removed": len(ids)})
}

func (a *App) loadMission(w http.ResponseWriter, r *http.Request) (*domain.Mission, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "mission id required")
		return nil, false
	}
	mission, err := a.Ledger.Get(r.Context(), id)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "mission not found")
		return nil, false
	}
	return mission, true
}
