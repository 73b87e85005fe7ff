// Package pipeline runs the two extraction stages of the Sparkify data lake:
// the song catalog into songs and artists, and the event log into users,
// time and songplays.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sparkify/sparkify-etl/internal/dataset"
	"github.com/sparkify/sparkify-etl/internal/engine"
	apperrors "github.com/sparkify/sparkify-etl/internal/errors"
	"github.com/sparkify/sparkify-etl/internal/logging"
	"github.com/sparkify/sparkify-etl/internal/metrics"
	"github.com/sparkify/sparkify-etl/internal/storage"
	"github.com/sparkify/sparkify-etl/pkg/types"
)

// Stage names used in logs and metrics.
const (
	StageSongs = "songs"
	StageLogs  = "logs"
)

// Options configures a Pipeline.
type Options struct {
	// Input holds song_data/ and log_data/.
	Input *storage.Root
	// Output receives the five datasets.
	Output *storage.Root

	// WorkDir is the parent of the per-run staging directory.
	WorkDir     string
	KeepWorkDir bool

	// Location is the zone start_time is derived in.
	Location *time.Location

	Engine      engine.Config
	Concurrency int

	// RunID names the run directory; generated when empty.
	RunID string

	Logger  *logging.ComponentLogger
	Metrics *metrics.Metrics
}

// Pipeline runs the extraction stages.
type Pipeline struct {
	opts     Options
	transfer *storage.Transfer
	logger   *logging.ComponentLogger
	metrics  *metrics.Metrics
}

// TableResult describes one published dataset.
type TableResult struct {
	Table      string
	Location   string
	Rows       int64
	Files      int
	Bytes      int64
	Partitions int
	Stale      int
	Duration   time.Duration
}

// StageResult describes one completed stage.
type StageResult struct {
	Stage      string
	InputFiles int
	InputRows  int64
	Tables     []TableResult
	Duration   time.Duration
}

// Summary describes a run.
type Summary struct {
	RunID    string
	Stages   []StageResult
	Duration time.Duration
}

// Table returns the result for a table written in this run.
func (s *Summary) Table(name string) (TableResult, bool) {
	for _, st := range s.Stages {
		for _, t := range st.Tables {
			if t.Table == name {
				return t, true
			}
		}
	}
	return TableResult{}, false
}

// New validates opts and creates a pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Input == nil || opts.Output == nil {
		return nil, fmt.Errorf("pipeline: input and output roots are required")
	}
	if opts.WorkDir == "" {
		return nil, fmt.Errorf("pipeline: work dir is required")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	return &Pipeline{
		opts:     opts,
		transfer: storage.NewTransfer(opts.Concurrency),
		logger:   opts.Logger.Named("pipeline").With("run_id", opts.RunID),
		metrics:  opts.Metrics,
	}, nil
}

// RunID returns the identifier of this run.
func (p *Pipeline) RunID() string {
	return p.opts.RunID
}

// Run executes Catalog-Extraction then Event-Extraction.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	return p.run(ctx, true, true)
}

// RunSongs executes Catalog-Extraction only.
func (p *Pipeline) RunSongs(ctx context.Context) (*Summary, error) {
	return p.run(ctx, true, false)
}

// RunLogs executes Event-Extraction only. The songs dataset must already be
// published at the output location.
func (p *Pipeline) RunLogs(ctx context.Context) (*Summary, error) {
	return p.run(ctx, false, true)
}

func (p *Pipeline) run(ctx context.Context, songs, logs bool) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: p.opts.RunID}

	runDir := filepath.Join(p.opts.WorkDir, p.opts.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return summary, apperrors.NewConfigError(apperrors.CodeInvalidConfig, "create run directory", err)
	}
	defer func() {
		if p.opts.KeepWorkDir {
			p.logger.Info().Str("work_dir", runDir).Msg("Keeping work directory")
			return
		}
		if err := os.RemoveAll(runDir); err != nil {
			p.logger.Warn().Err(err).Str("work_dir", runDir).Msg("Failed to remove work directory")
		}
	}()

	engCfg := p.opts.Engine
	if engCfg.TempDir == "" {
		engCfg.TempDir = filepath.Join(runDir, "spill")
	}
	sess, err := engine.Open(ctx, engCfg)
	if err != nil {
		return summary, apperrors.NewEngineError(apperrors.CodeEngineInit, "open engine session", err)
	}
	defer sess.Close()

	r := &runner{p: p, sess: sess, runDir: runDir}

	if songs {
		res, err := p.stage(ctx, StageSongs, r.extractSongs)
		if res != nil {
			summary.Stages = append(summary.Stages, *res)
		}
		if err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
	}
	if logs {
		res, err := p.stage(ctx, StageLogs, r.extractLogs)
		if res != nil {
			summary.Stages = append(summary.Stages, *res)
		}
		if err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
	}

	summary.Duration = time.Since(start)
	return summary, nil
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context, *StageResult) error) (*StageResult, error) {
	p.logger.LogStageStart(name, p.opts.Input.URI(stagePrefix(name)))
	start := time.Now()

	res := &StageResult{Stage: name}
	err := fn(ctx, res)
	res.Duration = time.Since(start)
	p.metrics.ObserveStage(name, res.Duration, err)

	if err != nil {
		p.logger.Error().Err(err).
			Str("stage", name).
			Str("category", string(apperrors.GetCategory(err))).
			Dur("duration", res.Duration).
			Msg("Stage failed")
		return res, fmt.Errorf("%s stage: %w", name, err)
	}

	var rows int64
	for _, t := range res.Tables {
		rows += t.Rows
	}
	p.logger.Info().
		Str("stage", name).
		Int("input_files", res.InputFiles).
		Int64("input_rows", res.InputRows).
		Int("tables", len(res.Tables)).
		Int64("rows_written", rows).
		Dur("duration", res.Duration).
		Msg(completionMessage(name))
	return res, nil
}

func stagePrefix(stage string) string {
	if stage == StageSongs {
		return types.SongDataPrefix
	}
	return types.LogDataPrefix
}

func completionMessage(stage string) string {
	if stage == StageSongs {
		return "Song extract completed"
	}
	return "Log extract completed"
}

// runner holds the per-run state shared by both stages.
type runner struct {
	p      *Pipeline
	sess   *engine.Session
	runDir string
}

// stageInput downloads every JSON object under prefix into the run directory.
func (r *runner) stageInput(ctx context.Context, prefix string) ([]string, error) {
	dest := filepath.Join(r.runDir, "input", prefix)
	res, err := r.p.transfer.DownloadPrefix(ctx, r.p.opts.Input, prefix, dest, isJSON)
	if err != nil {
		code := apperrors.CodeDownloadFailed
		if errors.Is(err, storage.ErrListFailed) {
			code = apperrors.CodeListFailed
		}
		return nil, apperrors.NewStorageError(code, "stage "+r.p.opts.Input.URI(prefix), err)
	}
	if len(res.Files) == 0 {
		return nil, apperrors.NewInputError(apperrors.CodeNoInput,
			"no JSON files under "+r.p.opts.Input.URI(prefix), nil)
	}
	r.p.metrics.AddTransferred(metrics.DirectionDownload, len(res.Files), res.Bytes)
	return res.Files, nil
}

// writeTable materializes query as ds in the run directory, then publishes
// it over the previous contents of the dataset at the output location.
func (r *runner) writeTable(ctx context.Context, ds types.Dataset, query string) (TableResult, error) {
	start := time.Now()
	dir := filepath.Join(r.runDir, "output", ds.Path)

	if err := r.sess.CopyToParquet(ctx, query, dir, ds.PartitionBy); err != nil {
		return TableResult{}, apperrors.NewOutputError(apperrors.CodeWriteFailed, "write "+ds.Name, err)
	}

	stats, err := dataset.Inspect(dir)
	if err != nil {
		return TableResult{}, apperrors.NewOutputError(apperrors.CodeWriteFailed, "inspect "+ds.Name, err)
	}

	pub, err := r.p.transfer.Publish(ctx, r.p.opts.Output, ds.Path, dir)
	if err != nil {
		return TableResult{}, apperrors.NewOutputError(apperrors.CodePublishFailed,
			"publish "+r.p.opts.Output.URI(ds.Path), err)
	}

	r.p.metrics.AddTransferred(metrics.DirectionUpload, len(pub.Uploaded), pub.Bytes)
	r.p.metrics.AddTransferred(metrics.DirectionDelete, pub.Stale, 0)
	r.p.metrics.RecordTable(ds.Name, stats.Rows, stats.Files)

	res := TableResult{
		Table:      ds.Name,
		Location:   r.p.opts.Output.URI(ds.Path),
		Rows:       stats.Rows,
		Files:      stats.Files,
		Bytes:      stats.Bytes,
		Partitions: len(stats.Partitions),
		Stale:      pub.Stale,
		Duration:   time.Since(start),
	}
	r.p.logger.LogTableWritten(res.Table, res.Location, res.Rows, res.Files, res.Stale, res.Duration)
	return res, nil
}

func isJSON(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".json")
}

func isParquet(key string) bool {
	return strings.HasSuffix(key, ".parquet")
}
