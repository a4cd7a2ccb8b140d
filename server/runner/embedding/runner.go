package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hrygo/clinote/plugin/ai/vector"
	"github.com/hrygo/clinote/store"
)

const (
	DefaultInterval  = 2 * time.Minute
	DefaultBatchSize = 8
)

// Recorder counts embedding outcomes.
type Recorder interface {
	RecordEmbedding(success bool, n int)
}

// Stats summarizes one pass over pending notes.
type Stats struct {
	Found    int
	Embedded int
	Failed   int
}

// Runner embeds approved notes that have no vector for the configured model yet.
type Runner struct {
	store     *store.Store
	embedder  *vector.Embedder
	interval  time.Duration
	batchSize int
	recorder  Recorder
}

// NewRunner creates a vector embedding runner.
func NewRunner(store *store.Store, embedder *vector.Embedder) *Runner {
	return &Runner{
		store:     store,
		embedder:  embedder,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
	}
}

// SetRecorder attaches an embedding outcome recorder.
func (r *Runner) SetRecorder(recorder Recorder) {
	r.recorder = recorder
}

// Run starts the background task.
func (r *Runner) Run(ctx context.Context) {
	// Process once on startup
	r.processPendingNotes(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.processPendingNotes(ctx)
		case <-ctx.Done():
			slog.Info("embedding runner stopped")
			return
		}
	}
}

// RunOnce processes pending notes once (for manual trigger).
func (r *Runner) RunOnce(ctx context.Context) Stats {
	return r.processPendingNotes(ctx)
}

// Backfill repeats passes until no pending note can be embedded.
func (r *Runner) Backfill(ctx context.Context) Stats {
	var total Stats
	for ctx.Err() == nil {
		stats := r.processPendingNotes(ctx)
		total.Found += stats.Found
		total.Embedded += stats.Embedded
		total.Failed += stats.Failed
		// Stop on an empty pass, or when a pass made no progress so failing notes are not retried forever.
		if stats.Found == 0 || stats.Embedded == 0 {
			break
		}
	}
	return total
}

func (r *Runner) processPendingNotes(ctx context.Context) Stats {
	var stats Stats

	notes, err := r.store.FindNotesWithoutEmbedding(ctx, &store.FindNotesWithoutEmbedding{
		Model: r.embedder.Model(),
		Limit: r.batchSize * 20, // Fetch more data, but process in small batches
	})
	if err != nil {
		slog.Error("failed to find notes without embedding", "error", err)
		return stats
	}

	stats.Found = len(notes)
	if len(notes) == 0 {
		return stats
	}

	slog.Info("processing notes for embedding", "count", len(notes), "model", r.embedder.Model())

	for i := 0; i < len(notes); i += r.batchSize {
		select {
		case <-ctx.Done():
			slog.Info("embedding processing cancelled", "processed", i, "total", len(notes))
			return stats
		default:
		}

		end := min(i+r.batchSize, len(notes))
		embedded, failed := r.processBatch(ctx, notes[i:end])
		stats.Embedded += embedded
		stats.Failed += failed
		slog.Info("batch processed", "embedded", embedded, "failed", failed, "progress", fmt.Sprintf("%d/%d", end, len(notes)))
	}

	r.record(true, stats.Embedded)
	r.record(false, stats.Failed)
	return stats
}

func (r *Runner) processBatch(ctx context.Context, notes []*store.Note) (embedded, failed int) {
	byKey := make(map[string]*store.Note, len(notes))
	items := make([]vector.BatchItem, 0, len(notes))
	for _, n := range notes {
		text := n.Content
		if n.Structured != nil {
			text = n.Structured.CanonicalText()
		}
		if text == "" {
			slog.Warn("skipping note without content", "note_uid", n.UID)
			failed++
			continue
		}
		key := strconv.Itoa(int(n.ID))
		byKey[key] = n
		items = append(items, vector.BatchItem{Key: key, Text: text})
	}
	if len(items) == 0 {
		return embedded, failed
	}

	result := r.embedder.EmbedBatch(ctx, items)
	failed += result.FailedCount

	for _, e := range result.Embeddings {
		n := byKey[e.Key]
		_, err := r.store.UpsertNoteEmbedding(ctx, &store.NoteEmbedding{
			NoteID:     n.ID,
			Embedding:  e.Vector,
			Model:      r.embedder.Model(),
			Normalized: r.embedder.Normalized(),
		})
		if err != nil {
			slog.Error("failed to upsert embedding", "note_uid", n.UID, "error", err)
			failed++
			continue
		}
		embedded++
	}
	return embedded, failed
}

func (r *Runner) record(success bool, n int) {
	if r.recorder != nil {
		r.recorder.RecordEmbedding(success, n)
	}
}
