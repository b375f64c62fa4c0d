// Package storage holds mission result payloads on the local filesystem,
// one directory per mission id. Payloads live outside the ledger because
// multi-megabyte image batches and video blobs would make the lightweight
// mission table unsafe to load on every UI refresh.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// PayloadKind distinguishes the two result shapes.
type PayloadKind string

const (
	PayloadImages PayloadKind = "images"
	PayloadVideo  PayloadKind = "video"
)

// Payload is a mission result: either an ordered sequence of encoded frames
// or a single video blob.
type Payload struct {
	Kind   PayloadKind
	MIME   string
	Frames [][]byte
	Video  []byte
}

type manifest struct {
	Kind   PayloadKind `json:"kind"`
	MIME   string      `json:"mime"`
	Frames []string    `json:"frames,omitempty"`
	File   string      `json:"file,omitempty"`
}

const manifestName = "manifest.json"

var missionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ResultStore is a durable id-keyed store for mission results.
type ResultStore struct {
	basePath string
}

// NewResultStore initializes a ResultStore rooted at basePath.
func NewResultStore(basePath string) (*ResultStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &ResultStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *ResultStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// PutImages persists an ordered sequence of encoded frames for the mission.
// Overwrites any previous payload under the same id.
func (s *ResultStore) PutImages(ctx context.Context, missionID string, mime string, frames [][]byte) error {
	dir, err := s.resetDir(ctx, missionID)
	if err != nil {
		return err
	}
	man := manifest{Kind: PayloadImages, MIME: mime}
	for i, frame := range frames {
		name := fmt.Sprintf("frame-%02d%s", i+1, extensionForMIME(mime))
		if err := os.WriteFile(filepath.Join(dir, name), frame, 0o644); err != nil {
			return fmt.Errorf("storage: write frame: %w", err)
		}
		man.Frames = append(man.Frames, name)
	}
	return s.writeManifest(dir, man)
}

// PutVideo persists a single video blob for the mission. Overwrites any
// previous payload under the same id.
func (s *ResultStore) PutVideo(ctx context.Context, missionID string, mime string, data []byte) error {
	dir, err := s.resetDir(ctx, missionID)
	if err != nil {
		return err
	}
	name := "video" + extensionForMIME(mime)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("storage: write video: %w", err)
	}
	return s.writeManifest(dir, manifest{Kind: PayloadVideo, MIME: mime, File: name})
}

// Get loads the payload stored under the mission id. Absence is a valid,
// silent outcome: the second return value is false and no error is surfaced,
// whether the entry is missing or unreadable.
func (s *ResultStore) Get(ctx context.Context, missionID string) (*Payload, bool) {
	if s == nil || ctx.Err() != nil {
		return nil, false
	}
	dir, err := s.missionDir(missionID)
	if err != nil {
		return nil, false
	}
	raw, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, false
	}
	var man manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		return nil, false
	}

	payload := &Payload{Kind: man.Kind, MIME: man.MIME}
	switch man.Kind {
	case PayloadImages:
		for _, name := range man.Frames {
			frame, err := os.ReadFile(filepath.Join(dir, filepath.Base(name)))
			if err != nil {
				return nil, false
			}
			payload.Frames = append(payload.Frames, frame)
		}
	case PayloadVideo:
		data, err := os.ReadFile(filepath.Join(dir, filepath.Base(man.File)))
		if err != nil {
			return nil, false
		}
		payload.Video = data
	default:
		return nil, false
	}
	return payload, true
}

// Delete removes the payload stored under the mission id, if any.
func (s *ResultStore) Delete(ctx context.Context, missionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.missionDir(missionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("storage: delete payload: %w", err)
	}
	return nil
}

func (s *ResultStore) resetDir(ctx context.Context, missionID string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir, err := s.missionDir(missionID)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("storage: reset payload dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure payload dir: %w", err)
	}
	return dir, nil
}

// missionDir validates the id so a crafted mission id cannot escape the
// storage root.
func (s *ResultStore) missionDir(missionID string) (string, error) {
	missionID = strings.TrimSpace(missionID)
	if missionID == "" {
		return "", errors.New("storage: mission id is required")
	}
	if !missionIDPattern.MatchString(missionID) || strings.HasPrefix(missionID, ".") {
		return "", errors.New("storage: invalid mission id")
	}
	return filepath.Join(s.basePath, missionID), nil
}

func (s *ResultStore) writeManifest(dir string, man manifest) error {
	raw, err := json.Marshal(man)
	if err != nil {
		return fmt.Errorf("storage: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), raw, 0o644); err != nil {
		return fmt.Errorf("storage: write manifest: %w", err)
	}
	return nil
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ".bin"
	}
}
