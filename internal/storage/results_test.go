package storage

import (
	"bytes"
	"context"
	"testing"
)

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := NewResultStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestPutImagesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	frames := [][]byte{[]byte("first"), []byte("second"), []byte("third")}

	if err := store.PutImages(ctx, "m1", "image/png", frames); err != nil {
		t.Fatalf("put images: %v", err)
	}
	payload, ok := store.Get(ctx, "m1")
	if !ok {
		t.Fatal("expected payload")
	}
	if payload.Kind != PayloadImages || payload.MIME != "image/png" {
		t.Fatalf("unexpected payload header %+v", payload)
	}
	if len(payload.Frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(payload.Frames))
	}
	for i, frame := range frames {
		if !bytes.Equal(payload.Frames[i], frame) {
			t.Fatalf("frame %d out of order", i)
		}
	}
}

func TestPutVideoRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutVideo(ctx, "m2", "video/mp4", []byte("mp4-bytes")); err != nil {
		t.Fatalf("put video: %v", err)
	}
	payload, ok := store.Get(ctx, "m2")
	if !ok {
		t.Fatal("expected payload")
	}
	if payload.Kind != PayloadVideo {
		t.Fatalf("unexpected kind %s", payload.Kind)
	}
	if !bytes.Equal(payload.Video, []byte("mp4-bytes")) {
		t.Fatal("video payload mismatch")
	}
}

func TestPutOverwritesPreviousPayload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutImages(ctx, "m1", "image/png", [][]byte{[]byte("a"), []byte("b")}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := store.PutImages(ctx, "m1", "image/png", [][]byte{[]byte("c")}); err != nil {
		t.Fatalf("second put: %v", err)
	}
	payload, ok := store.Get(ctx, "m1")
	if !ok {
		t.Fatal("expected payload")
	}
	if len(payload.Frames) != 1 || !bytes.Equal(payload.Frames[0], []byte("c")) {
		t.Fatalf("overwrite not idempotent: %d frames", len(payload.Frames))
	}
}

func TestGetAbsentIsSilent(t *testing.T) {
	store := newTestStore(t)
	if payload, ok := store.Get(context.Background(), "nope"); ok || payload != nil {
		t.Fatal("absence must be a silent non-result")
	}
}

func TestDeleteRemovesPayload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.PutVideo(ctx, "m1", "video/mp4", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.Get(ctx, "m1"); ok {
		t.Fatal("payload should be gone")
	}
	// Deleting again is fine.
	if err := store.Delete(ctx, "m1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestRejectsTraversalIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"", "../escape", "a/b", ".hidden"} {
		if err := store.PutVideo(ctx, id, "video/mp4", []byte("x")); err == nil {
			t.Fatalf("expected invalid id error for %q", id)
		}
	}
}
