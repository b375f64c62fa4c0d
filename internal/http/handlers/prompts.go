package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

type enhancePromptRequest struct {
	Prompt string `json:"prompt"`
}

// EnhancePrompt rewrites a user prompt through the remote model.
func (a *App) EnhancePrompt(w http.ResponseWriter, r *http.Request) {
	var req enhancePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}
	enhanced, err := a.Client.EnhancePrompt(r.Context(), req.Prompt)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("handlers: prompt enhancement failed")
		a.error(w, http.StatusBadGateway, "generation_failed", err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]string{"prompt": enhanced})
}

type analyzeFrameRequest struct {
	Image string `json:"image_base64"`
	MIME  string `json:"mime"`
}

// AnalyzeFrame describes an uploaded frame, typically grabbed from the video
// player for editing context.
func (a *App) AnalyzeFrame(w http.ResponseWriter, r *http.Request) {
	var req analyzeFrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil || len(image) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "image_base64 must be valid base64")
		return
	}
	description, err := a.Client.AnalyzeFrame(r.Context(), image, req.MIME)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("handlers: frame analysis failed")
		a.error(w, http.StatusBadGateway, "generation_failed", err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]string{"description": description})
}
