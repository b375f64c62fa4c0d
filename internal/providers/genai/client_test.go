package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Options{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Model:      "image-model",
		VideoModel: "video-model",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func inlineImagePart(data []byte) map[string]any {
	return map[string]any{
		"inlineData": map[string]any{
			"mimeType": "image/png",
			"data":     base64.StdEncoding.EncodeToString(data),
		},
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestGenerateImagesReturnsBatchInOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "image-model:generateContent") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"candidates": []any{
				map[string]any{"content": map[string]any{"parts": []any{inlineImagePart([]byte("one"))}}, "finishReason": "STOP"},
				map[string]any{"content": map[string]any{"parts": []any{inlineImagePart([]byte("two"))}}, "finishReason": "STOP"},
			},
		})
	})

	assets, err := client.GenerateImages(context.Background(), ImageRequest{Prompt: "a cat", Count: 2})
	if err != nil {
		t.Fatalf("generate images: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
	if string(assets[0].Data) != "one" || string(assets[1].Data) != "two" {
		t.Fatal("assets out of order")
	}
	if assets[0].MIME != "image/png" {
		t.Fatalf("unexpected mime %s", assets[0].MIME)
	}
}

func TestGenerateImagesSafetyBlock(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"promptFeedback": map[string]any{"blockReason": "SAFETY"},
		})
	})

	_, err := client.GenerateImages(context.Background(), ImageRequest{Prompt: "bad", Count: 1})
	if err == nil || !strings.Contains(err.Error(), "content policy") {
		t.Fatalf("expected content policy error, got %v", err)
	}
}

func TestGenerateImagesEarlyFinishReason(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"candidates": []any{
				map[string]any{"content": map[string]any{"parts": []any{}}, "finishReason": "MAX_TOKENS"},
			},
		})
	})

	_, err := client.GenerateImages(context.Background(), ImageRequest{Prompt: "x", Count: 1})
	if err == nil || !strings.Contains(err.Error(), "finish reason MAX_TOKENS") {
		t.Fatalf("expected finish reason error, got %v", err)
	}
}

func TestGenerateImagesEmptyResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"candidates": []any{}})
	})

	_, err := client.GenerateImages(context.Background(), ImageRequest{Prompt: "x", Count: 1})
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("expected empty response error, got %v", err)
	}
}

func TestGenerateImagesTransportError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, map[string]any{
			"error": map[string]any{"code": 500, "message": "backend exploded"},
		})
	})

	_, err := client.GenerateImages(context.Background(), ImageRequest{Prompt: "x", Count: 1})
	if err == nil || !strings.Contains(err.Error(), "gemini status 500: backend exploded") {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestEditImageNoImageReturned(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"candidates": []any{
				map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": "sorry"}}}, "finishReason": "STOP"},
			},
		})
	})

	_, err := client.EditImage(context.Background(), EditRequest{Image: []byte("img"), Prompt: "warmer", Context: "color balance"})
	if err == nil || !strings.Contains(err.Error(), "no image returned for color balance") {
		t.Fatalf("expected missing image error, got %v", err)
	}
}

func TestEditImageSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req geminiGenerateContentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
			t.Fatalf("expected image+text parts, got %+v", req.Contents)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"candidates": []any{
				map[string]any{"content": map[string]any{"parts": []any{inlineImagePart([]byte("edited"))}}, "finishReason": "STOP"},
			},
		})
	})

	asset, err := client.EditImage(context.Background(), EditRequest{Image: []byte("img"), Prompt: "remove background"})
	if err != nil {
		t.Fatalf("edit image: %v", err)
	}
	if string(asset.Data) != "edited" {
		t.Fatal("unexpected edited payload")
	}
}

func TestEnhancePrompt(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"candidates": []any{
				map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": "  a majestic cat at golden hour  "}}}, "finishReason": "STOP"},
			},
		})
	})

	enhanced, err := client.EnhancePrompt(context.Background(), "a cat")
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if enhanced != "a majestic cat at golden hour" {
		t.Fatalf("unexpected enhanced prompt %q", enhanced)
	}
}

func TestAnalyzeFrameNoText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"candidates": []any{
				map[string]any{"content": map[string]any{"parts": []any{}}, "finishReason": "STOP"},
			},
		})
	})

	_, err := client.AnalyzeFrame(context.Background(), []byte("frame"), "image/jpeg")
	if err == nil || !strings.Contains(err.Error(), "no text returned for frame analysis") {
		t.Fatalf("expected missing text error, got %v", err)
	}
}

func TestVideoLifecycle(t *testing.T) {
	polled := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "video-model:predictLongRunning"):
			writeJSON(t, w, http.StatusOK, map[string]any{"name": "operations/op-1", "done": false})
		case strings.Contains(r.URL.Path, "operations/op-1"):
			polled++
			if polled == 1 {
				writeJSON(t, w, http.StatusOK, map[string]any{"name": "operations/op-1", "done": false})
				return
			}
			writeJSON(t, w, http.StatusOK, map[string]any{
				"name": "operations/op-1",
				"done": true,
				"response": map[string]any{
					"generateVideoResponse": map[string]any{
						"generatedSamples": []any{
							map[string]any{"video": map[string]any{"uri": "/files/video-1"}},
						},
					},
				},
			})
		case strings.Contains(r.URL.Path, "files/video-1"):
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("video-bytes"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	op, err := client.StartVideo(ctx, "a dog running")
	if err != nil {
		t.Fatalf("start video: %v", err)
	}
	if op.Name != "operations/op-1" || op.Done {
		t.Fatalf("unexpected operation %+v", op)
	}

	op, err = client.PollVideo(ctx, op)
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if op.Done {
		t.Fatal("operation done too early")
	}

	op, err = client.PollVideo(ctx, op)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if !op.Done {
		t.Fatal("operation should be done")
	}
	uri := op.ResultURI()
	if uri != "/files/video-1" {
		t.Fatalf("unexpected result uri %q", uri)
	}

	data, mime, err := client.Download(ctx, uri)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "video-bytes" || mime != "video/mp4" {
		t.Fatalf("unexpected download %q %q", data, mime)
	}
}

func TestOperationResultURIAbsent(t *testing.T) {
	op, err := ParseOperation(json.RawMessage(`{"name":"operations/op-2","done":true,"response":{}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if uri := op.ResultURI(); uri != "" {
		t.Fatalf("expected empty uri, got %q", uri)
	}
}

func TestOperationErrorMessage(t *testing.T) {
	op, err := ParseOperation(json.RawMessage(`{"name":"operations/op-3","done":true,"error":{"code":3,"message":"quota exhausted"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg := op.ErrorMessage(); msg != "quota exhausted" {
		t.Fatalf("unexpected error message %q", msg)
	}
}
