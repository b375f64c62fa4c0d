// Package scheduler drives missions through submission, polling, and
// completion, one at a time. It is the only writer of mission status
// transitions; the HTTP layer only enqueues and reads.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"darkroom/internal/domain"
	"darkroom/internal/ledger"
	"darkroom/internal/metrics"
	"darkroom/internal/providers/genai"
	"darkroom/internal/storage"
)

// GenerationClient is the remote generation boundary the scheduler needs.
type GenerationClient interface {
	GenerateImages(ctx context.Context, req genai.ImageRequest) ([]genai.ImageAsset, error)
	StartVideo(ctx context.Context, prompt string) (*genai.Operation, error)
	PollVideo(ctx context.Context, op *genai.Operation) (*genai.Operation, error)
	Download(ctx context.Context, uri string) ([]byte, string, error)
}

// Options tunes scheduler behavior.
type Options struct {
	// PollInterval is the fixed delay between video operation polls.
	PollInterval time.Duration
	// IdleInterval is the fallback wake-up period used when no notification
	// arrives, so externally inserted missions are still picked up.
	IdleInterval time.Duration
	// MaxPollDuration bounds how long a single video mission may poll.
	// Zero means unlimited, matching the observed remote behavior; the bound
	// exists only as an opt-in guard.
	MaxPollDuration time.Duration
	// ImageBatch is the fixed number of images requested per image mission.
	ImageBatch int
}

// Scheduler executes at most one mission at a time.
type Scheduler struct {
	ledger *ledger.Ledger
	store  *storage.ResultStore
	client GenerationClient
	logger zerolog.Logger
	opts   Options
	wake   chan struct{}
}

// progressMessages rotate through the ledger while a video operation is
// pending, purely for the mission list UI.
var progressMessages = []string{
	"Contacting the render farm",
	"Storyboarding your scene",
	"Rendering frames",
	"Color grading the cut",
	"Packaging the final video",
}

// New constructs a scheduler. Zero option fields get defaults.
func New(led *ledger.Ledger, store *storage.ResultStore, client GenerationClient, logger zerolog.Logger, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = 2 * time.Second
	}
	if opts.ImageBatch <= 0 {
		opts.ImageBatch = 4
	}
	return &Scheduler{
		ledger: led,
		store:  store,
		client: client,
		logger: logger,
		opts:   opts,
		wake:   make(chan struct{}, 1),
	}
}

// Notify wakes the scheduler because the mission list changed. Non-blocking;
// overlapping notifications collapse into one wake-up, and the claim query
// itself guarantees no duplicate starts.
func (s *Scheduler) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run reconciles interrupted missions, then processes pending missions until
// the context is cancelled. Mission failures never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	requeued, err := s.ledger.Reconcile(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduler: reconcile failed")
	} else if requeued > 0 {
		s.logger.Info().Int64("requeued", requeued).Msg("scheduler: requeued interrupted missions")
	}

	ticker := time.NewTicker(s.opts.IdleInterval)
	defer ticker.Stop()

	s.logger.Info().Msg("scheduler: started")
	for {
		s.drain(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler: stopped")
			return ctx.Err()
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// drain claims and processes pending missions one after another until the
// queue is empty or the context ends.
func (s *Scheduler) drain(ctx context.Context) {
	for ctx.Err() == nil {
		mission, err := s.ledger.ClaimNextPending(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("scheduler: claim failed")
			return
		}
		if mission == nil {
			return
		}
		s.process(ctx, mission)
	}
}

func (s *Scheduler) process(ctx context.Context, mission *domain.Mission) {
	s.logger.Info().
		Str("mission_id", mission.ID).
		Str("type", string(mission.Type)).
		Msg("scheduler: picked mission")
	metrics.MissionStarted()
	start := time.Now()

	err := s.dispatch(ctx, mission)
	switch {
	case err == nil:
		s.complete(ctx, mission)
		metrics.MissionFinished(string(mission.Type), string(domain.MissionStatusCompleted), time.Since(start).Seconds())
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		// Shutdown mid-mission: leave the record in-progress so the next
		// startup reconciles it back to pending and resumes.
		s.logger.Info().Str("mission_id", mission.ID).Msg("scheduler: mission interrupted by shutdown")
		metrics.MissionInterrupted()
	default:
		s.fail(ctx, mission, err)
		metrics.MissionFinished(string(mission.Type), string(domain.MissionStatusFailed), time.Since(start).Seconds())
	}
}

func (s *Scheduler) dispatch(ctx context.Context, mission *domain.Mission) error {
	switch mission.Type {
	case domain.MissionTypeImage:
		return s.processImage(ctx, mission)
	case domain.MissionTypeVideo:
		return s.processVideo(ctx, mission)
	default:
		return fmt.Errorf("unsupported mission type %q", mission.Type)
	}
}

func (s *Scheduler) processImage(ctx context.Context, mission *domain.Mission) error {
	assets, err := s.client.GenerateImages(ctx, genai.ImageRequest{
		Prompt: mission.Prompt,
		Count:  s.opts.ImageBatch,
	})
	if err != nil {
		return err
	}
	frames := make([][]byte, 0, len(assets))
	mime := ""
	for _, asset := range assets {
		frames = append(frames, asset.Data)
		if mime == "" {
			mime = asset.MIME
		}
	}
	if mime == "" {
		mime = "image/png"
	}
	if err := s.store.PutImages(ctx, mission.ID, mime, frames); err != nil {
		return fmt.Errorf("persist image batch: %w", err)
	}
	return nil
}

func (s *Scheduler) processVideo(ctx context.Context, mission *domain.Mission) error {
	op, err := s.resumeOrStart(ctx, mission)
	if err != nil {
		return err
	}

	started := time.Now()
	for cycle := 0; !op.Done; cycle++ {
		if s.opts.MaxPollDuration > 0 && time.Since(started) > s.opts.MaxPollDuration {
			return fmt.Errorf("video generation timed out after %s", s.opts.MaxPollDuration)
		}
		// Persist the latest handle before sleeping so a reload resumes this
		// poll phase instead of resubmitting.
		progress := progressMessages[cycle%len(progressMessages)]
		s.patch(ctx, mission.ID, ledger.Patch{
			ProgressMessage: &progress,
			Operation:       op.Raw,
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.PollInterval):
		}

		op, err = s.client.PollVideo(ctx, op)
		if err != nil {
			return err
		}
		metrics.VideoPollCycle()
	}

	if msg := op.ErrorMessage(); msg != "" {
		return fmt.Errorf("video generation failed: %s", msg)
	}
	uri := op.ResultURI()
	if uri == "" {
		return errors.New("no video URI returned")
	}
	data, mime, err := s.client.Download(ctx, uri)
	if err != nil {
		return fmt.Errorf("fetch video: %w", err)
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = "video/mp4"
	}
	if err := s.store.PutVideo(ctx, mission.ID, mime, data); err != nil {
		return fmt.Errorf("persist video: %w", err)
	}
	s.patch(ctx, mission.ID, ledger.Patch{Operation: op.Raw})
	return nil
}

// resumeOrStart reuses a stored operation handle when the mission already
// has one; submission is not re-issued on resume.
func (s *Scheduler) resumeOrStart(ctx context.Context, mission *domain.Mission) (*genai.Operation, error) {
	if len(mission.Operation) > 0 {
		op, err := genai.ParseOperation(mission.Operation)
		if err == nil && op.Name != "" {
			s.logger.Info().
				Str("mission_id", mission.ID).
				Str("operation", op.Name).
				Msg("scheduler: resuming video operation")
			return op, nil
		}
		s.logger.Warn().
			Str("mission_id", mission.ID).
			Msg("scheduler: stored operation handle unusable, resubmitting")
	}
	op, err := s.client.StartVideo(ctx, mission.Prompt)
	if err != nil {
		return nil, err
	}
	// Store the handle immediately: from here on a reload must poll, not
	// resubmit.
	s.patch(ctx, mission.ID, ledger.Patch{Operation: op.Raw})
	return op, nil
}

func (s *Scheduler) complete(ctx context.Context, mission *domain.Mission) {
	status := domain.MissionStatusCompleted
	present := true
	empty := ""
	s.patch(ctx, mission.ID, ledger.Patch{
		Status:          &status,
		ResultPresent:   &present,
		ProgressMessage: &empty,
		ErrorMessage:    &empty,
	})
	s.logger.Info().Str("mission_id", mission.ID).Msg("scheduler: mission completed")
}

func (s *Scheduler) fail(ctx context.Context, mission *domain.Mission, cause error) {
	status := domain.MissionStatusFailed
	empty := ""
	msg := cause.Error()
	s.patch(ctx, mission.ID, ledger.Patch{
		Status:          &status,
		ProgressMessage: &empty,
		ErrorMessage:    &msg,
	})
	s.logger.Error().Err(cause).Str("mission_id", mission.ID).Msg("scheduler: mission failed")
}

// patch applies a ledger update best-effort. Persistence trouble is logged
// and swallowed so it can never crash the loop.
func (s *Scheduler) patch(ctx context.Context, missionID string, patch ledger.Patch) {
	if err := s.ledger.Apply(ctx, missionID, patch); err != nil {
		s.logger.Error().Err(err).Str("mission_id", missionID).Msg("scheduler: ledger update failed")
	}
}
