package lifecycle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"pixelsmith/internal/domain"
	imagepipe "pixelsmith/internal/pipeline"
	imageprovider "pixelsmith/internal/providers/image"
	"pixelsmith/internal/providers/prompt"
	"pixelsmith/internal/remote"
)

// ImagePipeline is the slice of the pipeline the orchestrator drives.
type ImagePipeline interface {
	Fetch(ctx context.Context, uri string) (data []byte, contentType string, err error)
	EnsureUnderLimit(data []byte) (bounded []byte, contentType string, err error)
	Store(ctx context.Context, key string, data []byte, contentType string) (storedKey, uri string, err error)
	Release(ctx context.Context, keys []string)
}

// Orchestrator sequences the stages of one job: prepare source images,
// enhance the prompt, synthesize, upload the result, complete. Each stage
// carries its own retry policy; the orchestrator never retries the whole
// pipeline, and any stage failure routes straight to the failure transition
// so compensation happens promptly.
type Orchestrator struct {
	machine  *Machine
	jobs     domain.JobRepository
	pipeline ImagePipeline
	enhancer prompt.Enhancer
	synth    imageprovider.Synthesizer
	policy   remote.Policy
	logger   zerolog.Logger
}

// NewOrchestrator wires the stage sequence.
func NewOrchestrator(machine *Machine, jobs domain.JobRepository, pipeline ImagePipeline, enhancer prompt.Enhancer, synth imageprovider.Synthesizer, policy remote.Policy, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		machine:  machine,
		jobs:     jobs,
		pipeline: pipeline,
		enhancer: enhancer,
		synth:    synth,
		policy:   policy,
		logger:   logger,
	}
}

type fetched struct {
	data        []byte
	contentType string
}

// Run drives a claimed job to a terminal state. The returned error reflects
// the job's outcome; by the time Run returns, compensation (refund, temp
// artifact release) has already been applied.
func (o *Orchestrator) Run(ctx context.Context, job *domain.Job) error {
	if err := o.machine.Begin(ctx, job); err != nil {
		return err
	}

	var temps []string
	defer func() {
		// Temp artifacts go away on success and failure alike.
		o.pipeline.Release(context.WithoutCancel(ctx), temps)
	}()

	prepared := make([]string, 0, len(job.InputImageRefs))
	for i, ref := range job.InputImageRefs {
		src, err := remote.Do(ctx, o.logger, o.policy, "fetch_source", func(ctx context.Context) (fetched, error) {
			data, contentType, err := o.pipeline.Fetch(ctx, ref)
			return fetched{data: data, contentType: contentType}, err
		})
		if err != nil {
			return o.failStage(ctx, job, "fetch source image", err)
		}
		bounded, boundedType, err := o.pipeline.EnsureUnderLimit(src.data)
		if err != nil {
			return o.failStage(ctx, job, "compress source image", err)
		}
		if boundedType == "" {
			boundedType = src.contentType
		}
		key, uri, err := o.pipeline.Store(ctx, imagepipe.SourceKey(job.ID, i), bounded, boundedType)
		if err != nil {
			return o.failStage(ctx, job, "store source image", err)
		}
		temps = append(temps, key)
		prepared = append(prepared, uri)
	}

	enhanced, err := remote.Do(ctx, o.logger, o.policy, "enhance_prompt", func(ctx context.Context) (string, error) {
		return o.enhancer.Enhance(ctx, prompt.EnhanceRequest{
			Prompt: job.OriginalPrompt,
			Style:  string(job.QualityTier),
		})
	})
	if err != nil {
		return o.failStage(ctx, job, "enhance prompt", err)
	}
	if err := o.jobs.SetEnhancedPrompt(ctx, job.ID, enhanced); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: failed to persist enhanced prompt")
	}

	result, err := remote.Do(ctx, o.logger, o.policy, "synthesize", func(ctx context.Context) (*imageprovider.Result, error) {
		return o.synth.Synthesize(ctx, imageprovider.SynthesizeRequest{
			Prompt:    enhanced,
			ImageURIs: prepared,
			Quality:   string(job.QualityTier),
			RequestID: job.ID,
		})
	})
	if err != nil {
		return o.failStage(ctx, job, "synthesize image", err)
	}

	resultData := result.Data
	resultType := result.ContentType
	if len(resultData) == 0 {
		download, err := remote.Do(ctx, o.logger, o.policy, "fetch_result", func(ctx context.Context) (fetched, error) {
			data, contentType, err := o.pipeline.Fetch(ctx, result.URL)
			return fetched{data: data, contentType: contentType}, err
		})
		if err != nil {
			return o.failStage(ctx, job, "fetch result image", err)
		}
		resultData = download.data
		if download.contentType != "" {
			resultType = download.contentType
		}
	}

	bounded, boundedType, err := o.pipeline.EnsureUnderLimit(resultData)
	if err != nil {
		return o.failStage(ctx, job, "compress result image", err)
	}
	if boundedType != "" {
		resultType = boundedType
	}
	_, resultURI, err := o.pipeline.Store(ctx, imagepipe.ResultKey(job.ID, resultType), bounded, resultType)
	if err != nil {
		return o.failStage(ctx, job, "store result image", err)
	}

	if err := o.machine.Complete(ctx, job, resultURI); err != nil {
		return err
	}
	o.logger.Info().Str("job_id", job.ID).Str("result", resultURI).Msg("orchestrator: job completed")
	return nil
}

// failStage routes a stage failure into the failure transition and surfaces
// the stage error to the caller.
func (o *Orchestrator) failStage(ctx context.Context, job *domain.Job, stage string, cause error) error {
	wrapped := fmt.Errorf("%s: %w", stage, cause)
	o.logger.Error().Err(cause).Str("job_id", job.ID).Str("stage", stage).Msg("orchestrator: stage failed")
	if err := o.machine.Fail(context.WithoutCancel(ctx), job, wrapped); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: failure transition did not apply")
	}
	return wrapped
}
