// Package orchestrator runs the story pipeline for one job: narrative, page
// illustrations, document assembly, artifact upload and the final record
// write. Every run ends with the job either complete or failed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"storybook/internal/document"
	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/providers/image"
	"storybook/internal/providers/narrative"
	"storybook/internal/storage"
)

// ErrAlreadyStarted is returned when another run already claimed the job, or
// the job is already terminal.
var ErrAlreadyStarted = domain.ErrAlreadyStarted

const (
	stageLoad         = "load"
	stagePhoto        = "photo"
	stageNarrative    = "narrative"
	stageIllustration = "illustration"
	stageAssembly     = "assembly"
	stageUpload       = "upload"
	stageComplete     = "complete"
)

// Illustrator renders one page illustration in the house style.
type Illustrator interface {
	Illustrate(ctx context.Context, req image.Request) (*image.Asset, error)
}

// Assembler lays out the finished pages as a single document.
type Assembler interface {
	Assemble(ctx context.Context, spreads []document.Spread) ([]byte, error)
}

// Timeouts bounds each external call. Run bounds the whole pipeline and Record
// bounds the terminal store write, which runs detached from the caller.
type Timeouts struct {
	Narrative    time.Duration
	Illustration time.Duration
	Upload       time.Duration
	Run          time.Duration
	Record       time.Duration
}

// DefaultTimeouts mirrors the service configuration defaults.
var DefaultTimeouts = Timeouts{
	Narrative:    90 * time.Second,
	Illustration: 120 * time.Second,
	Upload:       60 * time.Second,
	Run:          10 * time.Minute,
	Record:       10 * time.Second,
}

type Deps struct {
	Jobs        domain.JobRepository
	Narrator    narrative.Narrator
	Illustrator Illustrator
	Assembler   Assembler
	Store       storage.ObjectStore
	Logger      *infra.Logger
	Timeouts    Timeouts
	// Concurrency caps parallel illustration calls. Zero means one per page.
	Concurrency int
}

type Orchestrator struct {
	jobs        domain.JobRepository
	narrator    narrative.Narrator
	illustrator Illustrator
	assembler   Assembler
	store       storage.ObjectStore
	logger      *infra.Logger
	timeouts    Timeouts
	concurrency int
}

func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Jobs == nil:
		return nil, errors.New("orchestrator: job repository is required")
	case deps.Narrator == nil:
		return nil, errors.New("orchestrator: narrator is required")
	case deps.Illustrator == nil:
		return nil, errors.New("orchestrator: illustrator is required")
	case deps.Assembler == nil:
		return nil, errors.New("orchestrator: assembler is required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: object store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 || concurrency > domain.PageCount {
		concurrency = domain.PageCount
	}
	return &Orchestrator{
		jobs:        deps.Jobs,
		narrator:    deps.Narrator,
		illustrator: deps.Illustrator,
		assembler:   deps.Assembler,
		store:       deps.Store,
		logger:      logger,
		timeouts:    withDefaults(deps.Timeouts),
		concurrency: concurrency,
	}, nil
}

func withDefaults(t Timeouts) Timeouts {
	pick := func(v, d time.Duration) time.Duration {
		if v <= 0 {
			return d
		}
		return v
	}
	return Timeouts{
		Narrative:    pick(t.Narrative, DefaultTimeouts.Narrative),
		Illustration: pick(t.Illustration, DefaultTimeouts.Illustration),
		Upload:       pick(t.Upload, DefaultTimeouts.Upload),
		Run:          pick(t.Run, DefaultTimeouts.Run),
		Record:       pick(t.Record, DefaultTimeouts.Record),
	}
}

// Run drives a pending job to a terminal state. The returned error describes
// why the run failed; by then the failure is already recorded on the job.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	if err := o.jobs.MarkProcessing(ctx, jobID); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return ErrAlreadyStarted
		}
		return fmt.Errorf("mark processing: %w", err)
	}

	log := o.logger.With().Str("job_id", jobID).Logger()
	log.Info().Msg("orchestrator: run started")
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, o.timeouts.Run)
	defer cancel()

	pages, artifactURL, err := o.execute(runCtx, jobID)
	if err != nil {
		o.fail(jobID, err)
		return err
	}

	recordCtx, cancelRecord := context.WithTimeout(context.Background(), o.timeouts.Record)
	defer cancelRecord()
	if err := o.jobs.Complete(recordCtx, jobID, pages, artifactURL); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Warn().Err(err).Msg("orchestrator: job left processing before completion")
			return err
		}
		log.Error().Err(err).Msg("orchestrator: complete write failed")
		err = &stageError{stage: stageComplete, err: err}
		o.fail(jobID, err)
		return err
	}

	log.Info().
		Dur("elapsed", time.Since(started)).
		Str("artifact_url", artifactURL).
		Msg("orchestrator: run complete")
	return nil
}

// execute runs every stage and converts a panic anywhere in them into a
// stage error.
func (o *Orchestrator) execute(ctx context.Context, jobID string) (pages []domain.Page, artifactURL string, err error) {
	stage := stageLoad
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("job_id", jobID).
				Str("stage", stage).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("orchestrator: recovered panic")
			err = &stageError{stage: stage, err: fmt.Errorf("panic: %v", r)}
		}
	}()

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, "", &stageError{stage: stage, err: err}
	}

	stage = stagePhoto
	ref, err := o.loadReference(ctx, job.Inputs.PhotoKey)
	if err != nil {
		return nil, "", &stageError{stage: stage, err: err}
	}

	stage = stageNarrative
	beats, err := o.narrate(ctx, job.Inputs)
	if err != nil {
		return nil, "", &stageError{stage: stage, err: err}
	}

	stage = stageIllustration
	urls, images, err := o.illustrate(ctx, jobID, beats, ref)
	if err != nil {
		return nil, "", &stageError{stage: stage, err: err}
	}

	stage = stageAssembly
	spreads := make([]document.Spread, len(beats))
	pages = make([]domain.Page, len(beats))
	for i, beat := range beats {
		spreads[i] = document.Spread{Narration: beat.Narration, Image: images[i]}
		pages[i] = domain.Page{Narration: beat.Narration, IllustrationURL: urls[i]}
	}
	pdf, err := o.assembler.Assemble(ctx, spreads)
	if err != nil {
		return nil, "", &stageError{stage: stage, err: err}
	}

	stage = stageUpload
	uploadCtx, cancel := context.WithTimeout(ctx, o.timeouts.Upload)
	defer cancel()
	obj, err := o.store.Put(uploadCtx, storage.DocumentKey(jobID), pdf, "application/pdf")
	if err != nil {
		return nil, "", &stageError{stage: stage, err: err}
	}
	return pages, obj.URL, nil
}

func (o *Orchestrator) loadReference(ctx context.Context, key string) (*image.Reference, error) {
	if key == "" {
		return nil, nil
	}
	readCtx, cancel := context.WithTimeout(ctx, o.timeouts.Upload)
	defer cancel()
	data, err := o.store.Get(readCtx, key)
	if err != nil {
		return nil, err
	}
	return &image.Reference{MIME: http.DetectContentType(data), Data: data}, nil
}

func (o *Orchestrator) narrate(ctx context.Context, in domain.StoryInputs) ([]narrative.Beat, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeouts.Narrative)
	defer cancel()
	started := time.Now()
	beats, err := o.narrator.Narrate(callCtx, in)
	if err != nil {
		return nil, err
	}
	if len(beats) != domain.PageCount {
		return nil, fmt.Errorf("%w: got %d pages, want %d", domain.ErrMalformedNarrative, len(beats), domain.PageCount)
	}
	for i, b := range beats {
		if b.Narration == "" || b.IllustrationPrompt == "" {
			return nil, fmt.Errorf("%w: page %d is incomplete", domain.ErrMalformedNarrative, i+1)
		}
	}
	o.logger.Debug().Dur("elapsed", time.Since(started)).Msg("orchestrator: narrative ready")
	return beats, nil
}

// illustrate renders and stores every page concurrently. Results land in the
// slot of their page so order never depends on completion order. The first
// failure cancels the remaining pages.
func (o *Orchestrator) illustrate(ctx context.Context, jobID string, beats []narrative.Beat, ref *image.Reference) ([]string, [][]byte, error) {
	urls := make([]string, len(beats))
	images := make([][]byte, len(beats))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, beat := range beats {
		page := i + 1
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error().
						Str("job_id", jobID).
						Int("page", page).
						Interface("panic", r).
						Bytes("stack", debug.Stack()).
						Msg("orchestrator: recovered panic in illustration")
					err = fmt.Errorf("page %d: panic: %v", page, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}

			callCtx, cancel := context.WithTimeout(gctx, o.timeouts.Illustration)
			asset, err := o.illustrator.Illustrate(callCtx, image.Request{
				Prompt:    beat.IllustrationPrompt,
				JobID:     jobID,
				Page:      page,
				Reference: ref,
			})
			cancel()
			if err != nil {
				return fmt.Errorf("page %d: %w", page, err)
			}

			putCtx, cancel := context.WithTimeout(gctx, o.timeouts.Upload)
			obj, err := o.store.Put(putCtx, storage.PageImageKey(jobID, page, asset.Extension()), asset.Data, asset.Format)
			cancel()
			if err != nil {
				return fmt.Errorf("page %d: store: %w", page, err)
			}

			urls[i] = obj.URL
			images[i] = asset.Data
			o.logger.Debug().Str("job_id", jobID).Int("page", page).Msg("orchestrator: page illustrated")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return urls, images, nil
}

// fail records the terminal failure on a context of its own so an expired or
// cancelled run still lands in failed.
func (o *Orchestrator) fail(jobID string, cause error) {
	summary := Summarize(cause)
	ctx, cancel := context.WithTimeout(context.Background(), o.timeouts.Record)
	defer cancel()

	log := o.logger.With().Str("job_id", jobID).Logger()
	if err := o.jobs.Fail(ctx, jobID, summary); err != nil {
		log.Error().Err(err).Str("summary", summary).Msg("orchestrator: failed to record failure")
		return
	}
	log.Warn().Err(cause).Str("summary", summary).Msg("orchestrator: run failed")
}
