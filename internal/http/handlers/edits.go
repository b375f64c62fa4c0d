package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"darkroom/internal/providers/genai"
)

type editImageRequest struct {
	Image   string `json:"image_base64"`
	MIME    string `json:"mime"`
	Prompt  string `json:"prompt"`
	Context string `json:"context"`
}

type editImageResponse struct {
	Image string `json:"image_base64"`
	MIME  string `json:"mime"`
}

// EditImage applies a prompt-driven edit synchronously. Failures surface to
// the caller as a transient error response rather than a ledger entry; only
// missions record errors durably.
func (a *App) EditImage(w http.ResponseWriter, r *http.Request) {
	var req editImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil || len(image) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "image_base64 must be valid base64")
		return
	}

	asset, err := a.Client.EditImage(r.Context(), genai.EditRequest{
		Image:   image,
		MIME:    req.MIME,
		Prompt:  req.Prompt,
		Context: req.Context,
	})
	if err != nil {
		a.Logger.Warn().Err(err).Msg("handlers: image edit failed")
		a.error(w, http.StatusBadGateway, "generation_failed", err.Error())
		return
	}
	a.json(w, http.StatusOK, editImageResponse{
		Image: base64.StdEncoding.EncodeToString(asset.Data),
		MIME:  asset.MIME,
	})
}
