package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/narrata-labs/narrata-core/internal/artifact"
	"github.com/narrata-labs/narrata-core/internal/assemble"
	"github.com/narrata-labs/narrata-core/internal/config"
	"github.com/narrata-labs/narrata-core/internal/extract"
	"github.com/narrata-labs/narrata-core/internal/protocol"
	"github.com/narrata-labs/narrata-core/internal/router"
	"github.com/narrata-labs/narrata-core/internal/segment"
	"github.com/narrata-labs/narrata-core/internal/status"
	"github.com/narrata-labs/narrata-core/internal/synth"
)

// Enqueuer appends a validated task to a named queue. Satisfied by the
// router; tests substitute a recorder.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, task protocol.Task) error
}

// Pipeline wires the pipeline stages together: format tasks fan out
// into synthesis tasks, synthesis results fan back in through the
// collector, and completed sections land in the artifact store.
type Pipeline struct {
	cfg       config.Config
	enqueue   Enqueuer
	status    *status.Store
	artifacts *artifact.Store
	collector *assemble.Collector
	assembler *assemble.Assembler
	synth     synth.Synthesizer
	extractor extract.Extractor
	logger    *slog.Logger

	chunksCollected     metric.Int64Counter
	assembliesCompleted metric.Int64Counter
	assembliesTimedOut  metric.Int64Counter
}

func NewPipeline(cfg config.Config, enq Enqueuer, statusStore *status.Store, artifacts *artifact.Store, synthesizer synth.Synthesizer, extractor extract.Extractor, logger *slog.Logger) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		enqueue:   enq,
		status:    statusStore,
		artifacts: artifacts,
		assembler: assemble.NewAssembler(cfg.Assembly),
		synth:     synthesizer,
		extractor: extractor,
		logger:    logger.With(slog.String("component", "pipeline")),
	}
	window := time.Duration(cfg.Assembly.CollectTimeoutMS) * time.Millisecond
	p.collector = assemble.New(window, p.onCollectTimeout, logger)
	p.initMetrics()
	return p
}

func (p *Pipeline) initMetrics() {
	meter := otel.Meter("github.com/narrata-labs/narrata-core/pipeline")
	var err error
	if p.chunksCollected, err = meter.Int64Counter("narrata.chunks.collected",
		metric.WithDescription("Synthesis result chunks received by the collector")); err != nil {
		p.logger.Warn("failed to create counter", slog.String("error", err.Error()))
	}
	if p.assembliesCompleted, err = meter.Int64Counter("narrata.assemblies.completed",
		metric.WithDescription("Sections assembled into artifacts")); err != nil {
		p.logger.Warn("failed to create counter", slog.String("error", err.Error()))
	}
	if p.assembliesTimedOut, err = meter.Int64Counter("narrata.assemblies.timeout",
		metric.WithDescription("Collections that expired before completing")); err != nil {
		p.logger.Warn("failed to create counter", slog.String("error", err.Error()))
	}
}

// Register binds the pipeline handlers to their queues.
func (p *Pipeline) Register(r *router.Router) {
	r.Handle(p.cfg.Queues.Format, p.HandleFormat)
	r.Handle(p.cfg.Queues.SpeakerClone, p.HandleSpeakerClone)
	r.Handle(p.cfg.Queues.Synthesize, p.HandleSynthesize)
	r.Handle(p.cfg.Queues.SynthesisResult, p.HandleSynthesisResult)
}

// Collector exposes the fan-in accumulator for observability.
func (p *Pipeline) Collector() *assemble.Collector { return p.collector }

// HandleFormat segments the document and fans out one synthesis task
// per chunk. total_chunks is fixed here and never revised.
func (p *Pipeline) HandleFormat(ctx context.Context, _ string, task protocol.Task) error {
	decoded, err := protocol.DecodePayload(task)
	if err != nil {
		return err
	}
	payload := decoded.(protocol.FormatPayload)

	if err := p.status.Set(ctx, task.JobID, protocol.StatusProcessing); err != nil {
		p.logger.Warn("failed to record processing status", slog.String("error", err.Error()))
	}

	bookTitle := payload.BookTitle
	sections := payload.Sections
	if len(sections) == 0 && payload.FileName != "" {
		doc, err := p.extractor.Extract(ctx, payload.FileName, payload.FileData)
		if err != nil {
			p.markJobError(ctx, task.JobID, "")
			return fmt.Errorf("extract %s: %w", payload.FileName, err)
		}
		sections = doc.Sections
		if bookTitle == "" {
			bookTitle = doc.Title
		}
	}

	flat := segment.Flatten(sections)
	selected := segment.SelectByTitle(flat, payload.SectionTitle)
	if len(selected) == 0 {
		// Nothing matched the request; a valid no-op, not a failure.
		p.logger.Info("no sections selected, nothing to do",
			slog.String("job_id", task.JobID),
			slog.String("section_title", payload.SectionTitle))
		return p.status.Set(ctx, task.JobID, protocol.StatusCompleted)
	}

	for _, fs := range selected {
		chunks := segment.ChunkSection(fs, p.cfg.Segmenter.MaxChars, p.cfg.Segmenter.MaxTokens)
		if err := p.status.SetSection(ctx, task.JobID, fs.Index, protocol.StatusPending); err != nil {
			p.logger.Warn("failed to record section status", slog.String("error", err.Error()))
		}
		for i, text := range chunks {
			synthTask, err := protocol.NewTask(protocol.TaskSynthesize, task.JobID, protocol.SynthesizePayload{
				BookTitle:    bookTitle,
				SectionIndex: fs.Index,
				ChunkIndex:   i,
				TotalChunks:  len(chunks),
				Heading:      fs.Heading,
				Text:         text,
				Voice:        payload.Voice,
				Language:     payload.Language,
			})
			if err != nil {
				return err
			}
			if err := p.enqueue.Enqueue(ctx, p.cfg.Queues.Synthesize, synthTask); err != nil {
				p.markJobError(ctx, task.JobID, fs.Index)
				return fmt.Errorf("fan out chunk %d of %s: %w", i, fs.Index, err)
			}
		}
		p.logger.Info("section fanned out",
			slog.String("job_id", task.JobID),
			slog.String("section_index", fs.Index),
			slog.Int("total_chunks", len(chunks)))
	}
	return nil
}

// HandleSynthesize calls the speech backend for one chunk and queues
// the result for fan-in.
func (p *Pipeline) HandleSynthesize(ctx context.Context, _ string, task protocol.Task) error {
	decoded, err := protocol.DecodePayload(task)
	if err != nil {
		return err
	}
	payload := decoded.(protocol.SynthesizePayload)

	synthCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Synthesis.TimeoutMS)*time.Millisecond)
	defer cancel()

	audio, err := p.synth.Synthesize(synthCtx, synth.Request{
		Text:     payload.Text,
		Language: payload.Language,
		Voice:    payload.Voice,
	})
	if err != nil {
		p.markJobError(ctx, task.JobID, payload.SectionIndex)
		p.collector.Discard(assemble.Key{JobID: task.JobID, SectionIndex: payload.SectionIndex})
		return &protocol.SynthesisError{
			SectionIndex: payload.SectionIndex,
			ChunkIndex:   payload.ChunkIndex,
			Err:          err,
		}
	}

	resultTask, err := protocol.NewTask(protocol.TaskSynthesisResult, task.JobID, protocol.SynthesisResultPayload{
		BookTitle:    payload.BookTitle,
		SectionIndex: payload.SectionIndex,
		ChunkIndex:   payload.ChunkIndex,
		TotalChunks:  payload.TotalChunks,
		Heading:      payload.Heading,
		Audio:        audio,
	})
	if err != nil {
		return err
	}
	return p.enqueue.Enqueue(ctx, p.cfg.Queues.SynthesisResult, resultTask)
}

// HandleSynthesisResult feeds the collector and, on the completing
// arrival, assembles and stores the section artifact.
func (p *Pipeline) HandleSynthesisResult(ctx context.Context, _ string, task protocol.Task) error {
	decoded, err := protocol.DecodePayload(task)
	if err != nil {
		return err
	}
	payload := decoded.(protocol.SynthesisResultPayload)
	key := assemble.Key{JobID: task.JobID, SectionIndex: payload.SectionIndex}

	if err := p.status.SetSection(ctx, task.JobID, payload.SectionIndex, protocol.StatusCollecting); err != nil {
		p.logger.Warn("failed to record collecting status", slog.String("error", err.Error()))
	}

	set, err := p.collector.Add(key, payload)
	if err != nil {
		p.markJobError(ctx, task.JobID, payload.SectionIndex)
		return err
	}
	if p.chunksCollected != nil {
		p.chunksCollected.Add(ctx, 1)
	}
	if set == nil {
		return nil
	}

	if err := p.status.SetSection(ctx, task.JobID, payload.SectionIndex, protocol.StatusAssembling); err != nil {
		p.logger.Warn("failed to record assembling status", slog.String("error", err.Error()))
	}

	audio, err := p.assembler.Assemble(set)
	if err != nil {
		p.markJobError(ctx, task.JobID, payload.SectionIndex)
		return &protocol.AssemblyError{SectionIndex: payload.SectionIndex, Err: err}
	}

	artifactKey := artifact.Key(set.BookTitle, payload.SectionIndex, set.Heading)
	if err := p.artifacts.Put(ctx, artifactKey, audio); err != nil {
		p.markJobError(ctx, task.JobID, payload.SectionIndex)
		return fmt.Errorf("store artifact %q: %w", artifactKey, err)
	}

	if err := p.status.SetSection(ctx, task.JobID, payload.SectionIndex, protocol.StatusCompleted); err != nil {
		p.logger.Warn("failed to record section completion", slog.String("error", err.Error()))
	}
	if err := p.status.Set(ctx, task.JobID, protocol.StatusCompleted); err != nil {
		p.logger.Warn("failed to record job completion", slog.String("error", err.Error()))
	}
	if p.assembliesCompleted != nil {
		p.assembliesCompleted.Add(ctx, 1)
	}
	p.logger.Info("section assembled",
		slog.String("job_id", task.JobID),
		slog.String("artifact_key", artifactKey),
		slog.Int("bytes", len(audio)))

	p.publishResult(ctx, task.JobID, payload, artifactKey)
	return nil
}

// HandleSpeakerClone registers reference audio with the backend.
func (p *Pipeline) HandleSpeakerClone(ctx context.Context, _ string, task protocol.Task) error {
	decoded, err := protocol.DecodePayload(task)
	if err != nil {
		return err
	}
	payload := decoded.(protocol.SpeakerClonePayload)

	cloner, ok := p.synth.(synth.VoiceCloner)
	if !ok {
		p.markJobError(ctx, task.JobID, "")
		return fmt.Errorf("synthesis backend does not support voice cloning")
	}
	if err := cloner.CloneVoice(ctx, payload.VoiceName, payload.SampleAudio); err != nil {
		p.markJobError(ctx, task.JobID, "")
		return fmt.Errorf("clone voice %q: %w", payload.VoiceName, err)
	}
	return p.status.Set(ctx, task.JobID, protocol.StatusCompleted)
}

func (p *Pipeline) publishResult(ctx context.Context, jobID string, payload protocol.SynthesisResultPayload, artifactKey string) {
	resultTask, err := protocol.NewTask(protocol.TaskJobResult, jobID, protocol.JobResultPayload{
		BookTitle:    payload.BookTitle,
		SectionIndex: payload.SectionIndex,
		Heading:      payload.Heading,
		ArtifactKey:  artifactKey,
		Status:       protocol.StatusCompleted,
	})
	if err != nil {
		p.logger.Warn("failed to build result notice", slog.String("error", err.Error()))
		return
	}
	if err := p.enqueue.Enqueue(ctx, p.cfg.Queues.Results, resultTask); err != nil {
		p.logger.Warn("failed to publish result notice", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) onCollectTimeout(key assemble.Key) {
	ctx := context.Background()
	if err := p.status.SetSection(ctx, key.JobID, key.SectionIndex, protocol.StatusTimeout); err != nil {
		p.logger.Warn("failed to record section timeout", slog.String("error", err.Error()))
	}
	if err := p.status.Set(ctx, key.JobID, protocol.StatusTimeout); err != nil {
		p.logger.Warn("failed to record job timeout", slog.String("error", err.Error()))
	}
	if p.assembliesTimedOut != nil {
		p.assembliesTimedOut.Add(ctx, 1)
	}
}

func (p *Pipeline) markJobError(ctx context.Context, jobID, sectionIndex string) {
	if sectionIndex != "" {
		if err := p.status.SetSection(ctx, jobID, sectionIndex, protocol.StatusError); err != nil {
			p.logger.Warn("failed to record section error", slog.String("error", err.Error()))
		}
	}
	if err := p.status.Set(ctx, jobID, protocol.StatusError); err != nil {
		p.logger.Warn("failed to record job error", slog.String("error", err.Error()))
	}
}
