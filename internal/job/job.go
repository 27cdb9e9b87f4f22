// Package job runs the indexing pipeline locally: parallel emission tasks
// feed the shuffle, and one merge task per partition writes that
// partition's field indexes.
package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/counters"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/emitter"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/index"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/merger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/shuffle"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/tracing"
)

const (
	phaseEmit  = "emit"
	phaseMerge = "merge"
)

// Catalog records the job and every field index it closes.
type Catalog interface {
	StartJob(ctx context.Context, jobID, outputDir, layout string) error
	RecordFields(ctx context.Context, jobID string, part int, summaries []index.Summary) error
	FinishJob(ctx context.Context, jobID string, counters map[string]int64, jobErr error) error
}

// Publisher announces closed field indexes.
type Publisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Committer is implemented by sources that acknowledge consumed input once
// the job has succeeded.
type Committer interface {
	Commit(ctx context.Context) error
}

// Deps are the optional collaborators of a Runner. Nil members are skipped.
type Deps struct {
	Metrics   *metrics.Metrics
	Counters  counters.Sink
	Catalog   Catalog
	Publisher Publisher
	Retry     resilience.RetryConfig
}

// IndexComplete is the event value published for every closed field index.
type IndexComplete struct {
	JobID       string `json:"job_id"`
	Part        int    `json:"part"`
	Field       string `json:"field"`
	Path        string `json:"path"`
	Terms       int64  `json:"terms"`
	Documents   int64  `json:"documents"`
	Occurrences int64  `json:"occurrences"`
	Postings    int64  `json:"postings"`
}

// Result summarizes a finished job.
type Result struct {
	JobID    string
	Counters counters.Counters
	// Parts holds the closed field indexes of every partition.
	Parts    [][]index.Summary
	Duration time.Duration
}

// Runner executes indexing jobs with one configuration.
type Runner struct {
	cfg    *config.Config
	params codec.Params
	deps   Deps
	logger *slog.Logger
}

// New checks the codec configuration and returns a Runner.
func New(cfg *config.Config, deps Deps) (*Runner, error) {
	params, err := Params(cfg)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:    cfg,
		params: params,
		deps:   deps,
		logger: logger.WithComponent("job"),
	}, nil
}

// Params derives the postings codec parameters from the configuration.
func Params(cfg *config.Config) (codec.Params, error) {
	p := codec.Params{
		HasCounts:    true,
		HasPositions: cfg.Job.Positions,
		Quantum:      cfg.Codec.SkipQuantum,
		Height:       cfg.Codec.SkipHeight,
	}
	codings := []struct {
		name string
		dst  *codec.Coding
	}{
		{cfg.Codec.Frequencies, &p.Frequencies},
		{cfg.Codec.Pointers, &p.Pointers},
		{cfg.Codec.Counts, &p.Counts},
		{cfg.Codec.Positions, &p.Positions},
	}
	for _, c := range codings {
		coding, err := codec.ParseCoding(c.name)
		if err != nil {
			return codec.Params{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
		}
		*c.dst = coding
	}
	if err := p.Validate(); err != nil {
		return codec.Params{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
	}
	return p, nil
}

// PartDir returns the output directory of a partition.
func PartDir(outputDir string, partitions, part int) string {
	if partitions <= 1 {
		return outputDir
	}
	return filepath.Join(outputDir, fmt.Sprintf("part-%05d", part))
}

// Run indexes every document of sources. Partitions closed before a failure
// are left in place; all other output is removed.
func (r *Runner) Run(ctx context.Context, jobID string, sources ...document.Source) (res Result, err error) {
	start := time.Now()
	res.JobID = jobID
	job := r.cfg.Job
	log := r.logger.With("job_id", jobID)

	ctx, span := tracing.StartSpan(ctx, "index-job", jobID)
	defer func() {
		span.SetAttr("partitions", job.Partitions)
		span.End(err)
		span.Log(log)
	}()

	if r.deps.Catalog != nil {
		if err := r.deps.Catalog.StartJob(ctx, jobID, job.OutputDir, job.Layout); err != nil {
			return res, fmt.Errorf("recording job start: %w", err)
		}
		defer func() {
			// The job outcome is recorded even when ctx was cancelled.
			finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if ferr := r.deps.Catalog.FinishJob(finishCtx, jobID, res.Counters.Snapshot(), err); ferr != nil {
				log.Error("recording job outcome failed", "error", ferr)
				if err == nil {
					err = fmt.Errorf("recording job outcome: %w", ferr)
				}
			}
		}()
	}

	log.Info("job starting",
		"fields", len(job.Fields),
		"layout", job.Layout,
		"partitions", job.Partitions,
		"emit_workers", job.EmitWorkers,
		"merge_workers", job.MergeWorkers,
		"output_dir", job.OutputDir,
	)

	writers, err := r.createWriters()
	if err != nil {
		return res, err
	}

	spillDir, err := os.MkdirTemp(job.SpillDir, "rdx-shuffle-")
	if err != nil {
		for _, w := range writers {
			w.Abort()
		}
		return res, fmt.Errorf("%w: creating spill directory: %v", apperrors.ErrIO, err)
	}
	defer os.RemoveAll(spillDir)

	emitCtx, emitSpan := tracing.StartChildSpan(ctx, phaseEmit)
	outputs, emitted, err := r.emit(emitCtx, sources, spillDir)
	emitSpan.End(err)
	res.Counters.Add(emitted)
	if err != nil {
		for _, w := range writers {
			w.Abort()
		}
		return res, fmt.Errorf("emission: %w", err)
	}
	log.Info("emission finished", emitted.LogAttrs()...)

	mergeCtx, mergeSpan := tracing.StartChildSpan(ctx, phaseMerge)
	parts, merged, err := r.merge(mergeCtx, jobID, outputs, writers)
	mergeSpan.End(err)
	res.Counters.Add(merged)
	res.Parts = parts
	if err != nil {
		return res, fmt.Errorf("merge: %w", err)
	}

	if err := r.announce(ctx, jobID, parts); err != nil {
		return res, err
	}
	for _, src := range sources {
		c, ok := src.(Committer)
		if !ok {
			continue
		}
		if err := c.Commit(ctx); err != nil {
			return res, fmt.Errorf("committing consumed input: %w", err)
		}
	}

	r.logTotals(ctx, log)

	res.Duration = time.Since(start)
	log.Info("job finished", append(res.Counters.LogAttrs(), "duration", res.Duration)...)
	return res, nil
}

// logTotals logs the counters aggregated across every task of the job when
// the sink keeps them. Tasks of the same job on other machines are included.
func (r *Runner) logTotals(ctx context.Context, log *slog.Logger) {
	t, ok := r.deps.Counters.(counters.Totaler)
	if !ok {
		return
	}
	totals, err := t.Totals(ctx)
	if err != nil {
		log.Warn("reading aggregated counters failed", "error", err)
		return
	}
	if totals == nil {
		return
	}
	attrs := make([]any, 0, 2*len(totals))
	for _, k := range slices.Sorted(maps.Keys(totals)) {
		attrs = append(attrs, k, totals[k])
	}
	log.Info("aggregated job counters", attrs...)
}

func (r *Runner) createWriters() ([]*index.Writer, error) {
	job := r.cfg.Job
	writers := make([]*index.Writer, 0, job.Partitions)
	for p := 0; p < job.Partitions; p++ {
		dir := PartDir(job.OutputDir, job.Partitions, p)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			for _, w := range writers {
				w.Abort()
			}
			return nil, fmt.Errorf("%w: creating output directory: %v", apperrors.ErrIO, err)
		}
		w, err := index.NewWriter(index.WriterOptions{
			Dir:           dir,
			Fields:        job.Fields,
			Params:        r.params,
			Alignment:     job.Layout == config.LayoutVertical,
			TermProcessor: job.TermProcessor,
			RefPrefix:     job.RefPrefix,
			NumDocs:       job.NumDocs,
			Overwrite:     job.Overwrite,
		})
		if err != nil {
			for _, w := range writers {
				w.Abort()
			}
			return nil, err
		}
		writers = append(writers, w)
	}
	return writers, nil
}

type item struct {
	doc document.Document
	err error
}

// emit runs the emission tasks. On error every partial output is discarded.
func (r *Runner) emit(ctx context.Context, sources []document.Source, spillDir string) ([]*shuffle.MapOutput, counters.Counters, error) {
	job := r.cfg.Job
	g, gctx := errgroup.WithContext(ctx)
	items := make(chan item, 4*job.EmitWorkers)

	var feeders sync.WaitGroup
	for _, src := range sources {
		feeders.Add(1)
		g.Go(func() error {
			defer feeders.Done()
			return feed(gctx, src, items)
		})
	}
	go func() {
		feeders.Wait()
		close(items)
	}()

	var malformed atomic.Int64
	outputs := make([]*shuffle.MapOutput, job.EmitWorkers)
	taskCounters := make([]counters.Counters, job.EmitWorkers)
	for t := 0; t < job.EmitWorkers; t++ {
		out := shuffle.NewMapOutput(shuffle.Options{
			Partitions:     job.Partitions,
			SpillThreshold: job.SortBufferRecords,
			SpillDir:       spillDir,
		})
		outputs[t] = out
		g.Go(func() error {
			c, err := r.emitTask(gctx, t, items, out, &malformed)
			taskCounters[t] = c
			return err
		})
	}

	err := g.Wait()
	var total counters.Counters
	for _, c := range taskCounters {
		total.Add(c)
	}
	if err != nil {
		for _, out := range outputs {
			out.Discard()
		}
		return nil, total, err
	}
	return outputs, total, nil
}

// feed forwards the documents of src. Malformed documents are forwarded as
// errors so the receiving task counts them.
func feed(ctx context.Context, src document.Source, items chan<- item) error {
	for {
		doc, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !errors.Is(err, apperrors.ErrMalformedDocument) {
			return err
		}
		select {
		case items <- item{doc: doc, err: err}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runner) emitTask(ctx context.Context, id int, items <-chan item, out *shuffle.MapOutput, malformed *atomic.Int64) (c counters.Counters, err error) {
	ctx = logger.WithTask(ctx, phaseEmit, id)
	log := logger.FromContext(ctx)
	ctx, span := tracing.StartChildSpan(ctx, fmt.Sprintf("%s-%05d", phaseEmit, id))
	start := time.Now()
	e := emitter.New(r.cfg.Job, log)
	defer func() {
		c = e.Counters()
		span.SetAttr("records", c.RecordsProcessed)
		span.End(err)
		r.taskDone(ctx, phaseEmit, id, start, c, err)
	}()

	limit := r.cfg.Job.MaxParseFailures
	for {
		select {
		case <-ctx.Done():
			return c, ctx.Err()
		case it, ok := <-items:
			if !ok {
				return c, nil
			}
			if it.err != nil {
				if err := e.Skip(it.err); err != nil {
					return c, err
				}
				if n := malformed.Add(1); limit > 0 && n > limit {
					return c, fmt.Errorf("%w: %d documents failed parsing, limit %d",
						apperrors.ErrTooManyMalformed, n, limit)
				}
				continue
			}
			if err := e.Process(it.doc, out); err != nil {
				return c, err
			}
		}
	}
}

// merge runs one merge task per partition, at most MergeWorkers at a time.
func (r *Runner) merge(ctx context.Context, jobID string, outputs []*shuffle.MapOutput, writers []*index.Writer) ([][]index.Summary, counters.Counters, error) {
	job := r.cfg.Job
	runs := make([][]shuffle.Run, job.Partitions)
	for _, out := range outputs {
		for p, pr := range out.Finish() {
			runs[p] = append(runs[p], pr...)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(job.MergeWorkers)
	parts := make([][]index.Summary, job.Partitions)
	taskCounters := make([]counters.Counters, job.Partitions)
	for p := 0; p < job.Partitions; p++ {
		g.Go(func() error {
			summaries, c, err := r.mergeTask(gctx, jobID, p, runs[p], writers[p])
			parts[p] = summaries
			taskCounters[p] = c
			return err
		})
	}
	err := g.Wait()

	var total counters.Counters
	for _, c := range taskCounters {
		total.Add(c)
	}
	if err != nil {
		// Tasks that never started still own their runs and writers.
		for p := range runs {
			for _, run := range runs[p] {
				run.Close()
			}
			writers[p].Abort()
		}
	}
	return parts, total, err
}

func (r *Runner) mergeTask(ctx context.Context, jobID string, part int, runs []shuffle.Run, w *index.Writer) (summaries []index.Summary, c counters.Counters, err error) {
	ctx = logger.WithTask(ctx, phaseMerge, part)
	log := logger.FromContext(ctx)
	ctx, span := tracing.StartChildSpan(ctx, fmt.Sprintf("%s-%05d", phaseMerge, part))
	start := time.Now()
	var m *merger.Merger
	defer func() {
		if m != nil {
			c = m.Counters()
			span.SetAttr("groups", m.Groups())
		}
		span.End(err)
		r.taskDone(ctx, phaseMerge, part, start, c, err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, c, err
	}
	stream, err := shuffle.Merge(runs)
	if err != nil {
		w.Abort()
		return nil, c, err
	}
	defer stream.Close()

	job := r.cfg.Job
	m = merger.New(merger.Options{
		Fields:              job.Fields,
		MaxInvertedListSize: job.MaxInvertedListSize,
		MaxPositionListSize: job.MaxPositionListSize,
		StatusEvery:         job.StatusEvery,
	}, w, log)
	if err := m.MergeAll(ctx, shuffle.NewGroups(stream)); err != nil {
		w.Abort()
		r.closed("aborted", 1)
		return nil, c, err
	}

	summaries, err = w.Close()
	r.closed("ok", len(summaries))
	if err != nil {
		r.closed("aborted", 1)
		return summaries, c, err
	}
	if r.deps.Metrics != nil {
		for _, s := range summaries {
			r.deps.Metrics.PostingsWritten.WithLabelValues(s.Field).Add(float64(s.Postings))
		}
	}
	if r.deps.Catalog != nil {
		if err := r.deps.Catalog.RecordFields(ctx, jobID, part, summaries); err != nil {
			return summaries, c, fmt.Errorf("recording field indexes of part %d: %w", part, err)
		}
	}
	log.Info("partition written", "fields", len(summaries), "groups", m.Groups())
	return summaries, c, nil
}

// announce publishes one event per closed field index.
func (r *Runner) announce(ctx context.Context, jobID string, parts [][]index.Summary) error {
	if r.deps.Publisher == nil {
		return nil
	}
	var events []kafka.Event
	for p, summaries := range parts {
		for _, s := range summaries {
			events = append(events, kafka.Event{
				Key: s.Field,
				Value: IndexComplete{
					JobID:       jobID,
					Part:        p,
					Field:       s.Field,
					Path:        s.Base,
					Terms:       s.Terms,
					Documents:   s.Documents,
					Occurrences: s.Occurrences,
					Postings:    s.Postings,
				},
			})
		}
	}
	err := resilience.Retry(ctx, "publish index-complete events", r.deps.Retry, func(ctx context.Context) error {
		return r.deps.Publisher.Publish(ctx, events...)
	})
	if err != nil {
		return fmt.Errorf("announcing field indexes: %w", err)
	}
	return nil
}

func (r *Runner) taskDone(ctx context.Context, phase string, id int, start time.Time, c counters.Counters, err error) {
	log := logger.FromContext(ctx)
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	if m := r.deps.Metrics; m != nil {
		m.TasksTotal.WithLabelValues(phase, status).Inc()
		m.TaskDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Error("task failed", "error", err)
		return
	}
	log.Info("task finished", append(c.LogAttrs(), "duration", time.Since(start))...)
	if r.deps.Counters == nil {
		return
	}
	taskID := fmt.Sprintf("%s-%05d", phase, id)
	if perr := r.deps.Counters.Publish(context.WithoutCancel(ctx), taskID, c); perr != nil {
		// Counters are informational; a sink outage does not fail the job.
		log.Warn("publishing task counters failed", "error", perr)
	}
}

func (r *Runner) closed(status string, n int) {
	if r.deps.Metrics != nil && n > 0 {
		r.deps.Metrics.FieldIndexesClosed.WithLabelValues(status).Add(float64(n))
	}
}
