package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/narrata-labs/narrata-core/internal/artifact"
	"github.com/narrata-labs/narrata-core/internal/config"
	"github.com/narrata-labs/narrata-core/internal/extract"
	"github.com/narrata-labs/narrata-core/internal/protocol"
	"github.com/narrata-labs/narrata-core/internal/segment"
	"github.com/narrata-labs/narrata-core/internal/status"
	"github.com/narrata-labs/narrata-core/internal/synth"
	"github.com/narrata-labs/narrata-core/internal/wavutil"
)

type queuedTask struct {
	queue string
	task  protocol.Task
}

// recordingEnqueuer captures fan-out instead of publishing to NATS.
type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []queuedTask
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, queue string, task protocol.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, queuedTask{queue: queue, task: task})
	return nil
}

func (r *recordingEnqueuer) onQueue(queue string) []protocol.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Task
	for _, qt := range r.tasks {
		if qt.queue == queue {
			out = append(out, qt.task)
		}
	}
	return out
}

type failingSynth struct{}

func (failingSynth) Synthesize(context.Context, synth.Request) ([]byte, error) {
	return nil, errors.New("backend unavailable")
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Status.Path = filepath.Join(t.TempDir(), "status.db")
	cfg.Artifacts.Path = filepath.Join(t.TempDir(), "artifacts.db")
	cfg.Synthesis.SampleRate = 8000
	cfg.Assembly.SampleRate = 8000
	return cfg
}

func newTestPipeline(t *testing.T, cfg config.Config, synthesizer synth.Synthesizer) (*Pipeline, *recordingEnqueuer, *status.Store, *artifact.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	statuses, err := status.Open(ctx, cfg.Status, logger)
	if err != nil {
		t.Fatalf("open status store: %v", err)
	}
	t.Cleanup(func() { statuses.Close() })

	artifacts, err := artifact.Open(ctx, cfg.Artifacts, logger)
	if err != nil {
		t.Fatalf("open artifact store: %v", err)
	}
	t.Cleanup(func() { artifacts.Close() })

	rec := &recordingEnqueuer{}
	p := NewPipeline(cfg, rec, statuses, artifacts, synthesizer, extract.NewInlineExtractor(), logger)
	return p, rec, statuses, artifacts
}

func mustTask(t *testing.T, taskType protocol.TaskType, jobID string, payload any) protocol.Task {
	t.Helper()
	task, err := protocol.NewTask(taskType, jobID, payload)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

func wavChunk(t *testing.T, d time.Duration) []byte {
	t.Helper()
	data, err := wavutil.Encode(wavutil.Silence(8000, 1, d))
	if err != nil {
		t.Fatalf("encode chunk: %v", err)
	}
	return data
}

func TestFormatFansOutOneTaskPerChunk(t *testing.T) {
	cfg := testConfig(t)
	cfg.Segmenter.MaxChars = 3
	p, rec, statuses, _ := newTestPipeline(t, cfg, synth.NewMockSynth(8000, 1))

	task := mustTask(t, protocol.TaskFormat, "job-1", protocol.FormatPayload{
		BookTitle: "My Book",
		Sections:  []segment.Section{{Heading: "Ch1", Content: "A. B. C."}},
	})
	if err := p.HandleFormat(context.Background(), cfg.Queues.Format, task); err != nil {
		t.Fatalf("handle format: %v", err)
	}

	fanned := rec.onQueue(cfg.Queues.Synthesize)
	if len(fanned) != 3 {
		t.Fatalf("expected 3 synthesis tasks, got %d", len(fanned))
	}
	for i, st := range fanned {
		decoded, err := protocol.DecodePayload(st)
		if err != nil {
			t.Fatalf("decode fan-out payload: %v", err)
		}
		sp := decoded.(protocol.SynthesizePayload)
		if sp.ChunkIndex != i || sp.TotalChunks != 3 {
			t.Fatalf("chunk %d: unexpected indices %+v", i, sp)
		}
		if sp.SectionIndex != "1.0.0.0.0" || sp.Heading != "Ch1" {
			t.Fatalf("chunk %d: unexpected section metadata %+v", i, sp)
		}
		if st.JobID != "job-1" {
			t.Fatalf("chunk %d: job id not propagated", i)
		}
	}

	rec2, ok, err := statuses.Get(context.Background(), "job-1")
	if err != nil || !ok {
		t.Fatalf("read job status: ok=%v err=%v", ok, err)
	}
	if rec2.Status != protocol.StatusProcessing {
		t.Fatalf("expected processing, got %s", rec2.Status)
	}
	sec, ok, err := statuses.GetSection(context.Background(), "job-1", "1.0.0.0.0")
	if err != nil || !ok {
		t.Fatalf("read section status: ok=%v err=%v", ok, err)
	}
	if sec.Status != protocol.StatusPending {
		t.Fatalf("expected pending section, got %s", sec.Status)
	}
}

func TestFormatWithNoMatchingSectionCompletes(t *testing.T) {
	cfg := testConfig(t)
	p, rec, statuses, _ := newTestPipeline(t, cfg, synth.NewMockSynth(8000, 1))

	task := mustTask(t, protocol.TaskFormat, "job-2", protocol.FormatPayload{
		BookTitle:    "My Book",
		SectionTitle: "No Such Chapter",
		Sections:     []segment.Section{{Heading: "Ch1", Content: "Text."}},
	})
	if err := p.HandleFormat(context.Background(), cfg.Queues.Format, task); err != nil {
		t.Fatalf("handle format: %v", err)
	}
	if got := rec.onQueue(cfg.Queues.Synthesize); len(got) != 0 {
		t.Fatalf("expected no fan-out, got %d tasks", len(got))
	}
	rec2, _, err := statuses.Get(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if rec2.Status != protocol.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec2.Status)
	}
}

func TestSynthesizeQueuesResult(t *testing.T) {
	cfg := testConfig(t)
	p, rec, _, _ := newTestPipeline(t, cfg, synth.NewMockSynth(8000, 1))

	task := mustTask(t, protocol.TaskSynthesize, "job-3", protocol.SynthesizePayload{
		BookTitle:    "My Book",
		SectionIndex: "1.0.0.0.0",
		ChunkIndex:   1,
		TotalChunks:  2,
		Heading:      "Ch1",
		Text:         "Hello.",
	})
	if err := p.HandleSynthesize(context.Background(), cfg.Queues.Synthesize, task); err != nil {
		t.Fatalf("handle synthesize: %v", err)
	}

	results := rec.onQueue(cfg.Queues.SynthesisResult)
	if len(results) != 1 {
		t.Fatalf("expected 1 result task, got %d", len(results))
	}
	decoded, err := protocol.DecodePayload(results[0])
	if err != nil {
		t.Fatalf("decode result payload: %v", err)
	}
	rp := decoded.(protocol.SynthesisResultPayload)
	if rp.ChunkIndex != 1 || rp.TotalChunks != 2 || len(rp.Audio) == 0 {
		t.Fatalf("unexpected result payload %+v", rp)
	}
	if _, err := wavutil.Decode(rp.Audio); err != nil {
		t.Fatalf("result audio is not valid WAV: %v", err)
	}
}

func TestSynthesizeFailureMarksJobError(t *testing.T) {
	cfg := testConfig(t)
	p, rec, statuses, _ := newTestPipeline(t, cfg, failingSynth{})

	task := mustTask(t, protocol.TaskSynthesize, "job-4", protocol.SynthesizePayload{
		BookTitle:    "My Book",
		SectionIndex: "1.0.0.0.0",
		ChunkIndex:   0,
		TotalChunks:  1,
		Text:         "Hello.",
	})
	err := p.HandleSynthesize(context.Background(), cfg.Queues.Synthesize, task)
	var serr *protocol.SynthesisError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SynthesisError, got %v", err)
	}
	if got := rec.onQueue(cfg.Queues.SynthesisResult); len(got) != 0 {
		t.Fatalf("expected no result task after failure, got %d", len(got))
	}
	rec2, _, err := statuses.Get(context.Background(), "job-4")
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if rec2.Status != protocol.StatusError {
		t.Fatalf("expected error status, got %s", rec2.Status)
	}
}

func TestResultFanInAssemblesAndStoresArtifact(t *testing.T) {
	cfg := testConfig(t)
	p, rec, statuses, artifacts := newTestPipeline(t, cfg, synth.NewMockSynth(8000, 1))
	ctx := context.Background()

	// Arrivals out of order; assembly happens on the completing one.
	for _, idx := range []int{1, 0} {
		task := mustTask(t, protocol.TaskSynthesisResult, "job-5", protocol.SynthesisResultPayload{
			BookTitle:    "My Book",
			SectionIndex: "1.0.0.0.0",
			ChunkIndex:   idx,
			TotalChunks:  2,
			Heading:      "Ch1",
			Audio:        wavChunk(t, 20*time.Millisecond),
		})
		if err := p.HandleSynthesisResult(ctx, cfg.Queues.SynthesisResult, task); err != nil {
			t.Fatalf("handle result %d: %v", idx, err)
		}
	}

	key := artifact.Key("My Book", "1.0.0.0.0", "Ch1")
	audio, ok, err := artifacts.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("artifact missing: ok=%v err=%v", ok, err)
	}
	if _, err := wavutil.Decode(audio); err != nil {
		t.Fatalf("stored artifact is not valid WAV: %v", err)
	}

	rec2, _, err := statuses.Get(ctx, "job-5")
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if rec2.Status != protocol.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec2.Status)
	}
	sec, _, err := statuses.GetSection(ctx, "job-5", "1.0.0.0.0")
	if err != nil {
		t.Fatalf("read section status: %v", err)
	}
	if sec.Status != protocol.StatusCompleted {
		t.Fatalf("expected completed section, got %s", sec.Status)
	}

	notices := rec.onQueue(cfg.Queues.Results)
	if len(notices) != 1 {
		t.Fatalf("expected 1 result notice, got %d", len(notices))
	}
	decoded, err := protocol.DecodePayload(notices[0])
	if err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	jr := decoded.(protocol.JobResultPayload)
	if jr.ArtifactKey != key || jr.Status != protocol.StatusCompleted {
		t.Fatalf("unexpected notice %+v", jr)
	}
}

func TestCollectTimeoutDiscardsPartialAndRecordsTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Assembly.CollectTimeoutMS = 30
	p, _, statuses, artifacts := newTestPipeline(t, cfg, synth.NewMockSynth(8000, 1))
	ctx := context.Background()

	task := mustTask(t, protocol.TaskSynthesisResult, "job-6", protocol.SynthesisResultPayload{
		BookTitle:    "My Book",
		SectionIndex: "1.0.0.0.0",
		ChunkIndex:   0,
		TotalChunks:  2,
		Heading:      "Ch1",
		Audio:        wavChunk(t, 20*time.Millisecond),
	})
	if err := p.HandleSynthesisResult(ctx, cfg.Queues.SynthesisResult, task); err != nil {
		t.Fatalf("handle result: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec2, ok, err := statuses.Get(ctx, "job-6")
		if err != nil {
			t.Fatalf("read status: %v", err)
		}
		if ok && rec2.Status == protocol.StatusTimeout {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout status never recorded, last=%+v", rec2)
		}
		time.Sleep(5 * time.Millisecond)
	}

	exists, err := artifacts.Exists(ctx, artifact.Key("My Book", "1.0.0.0.0", "Ch1"))
	if err != nil {
		t.Fatalf("probe artifact: %v", err)
	}
	if exists {
		t.Fatal("artifact stored despite collection timeout")
	}
	if p.Collector().Pending() != 0 {
		t.Fatalf("expected no pending collections, got %d", p.Collector().Pending())
	}
}

func TestSpeakerCloneRegistersVoice(t *testing.T) {
	cfg := testConfig(t)
	p, _, statuses, _ := newTestPipeline(t, cfg, synth.NewMockSynth(8000, 1))

	task := mustTask(t, protocol.TaskSpeakerClone, "job-7", protocol.SpeakerClonePayload{
		VoiceName:   "narrator",
		SampleAudio: wavChunk(t, 10*time.Millisecond),
	})
	if err := p.HandleSpeakerClone(context.Background(), cfg.Queues.SpeakerClone, task); err != nil {
		t.Fatalf("handle clone: %v", err)
	}
	rec2, _, err := statuses.Get(context.Background(), "job-7")
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if rec2.Status != protocol.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec2.Status)
	}
}
