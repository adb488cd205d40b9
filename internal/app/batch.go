package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Manifest is a batch of requests read from YAML:
//
//	jobs:
//	  - operation: trim
//	    input: clip.mov
//	    start: "00:00:05"
//	    end: "00:00:10"
//	  - operation: transcode
//	    input: talk.mkv
//	    format: mp3
//	    encoding: mp3
type Manifest struct {
	Jobs []Request `yaml:"jobs"`
}

// BatchResult is the outcome of one manifest entry.
type BatchResult struct {
	Request Request
	JobID   string
	Output  string
	Err     error
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return &m, nil
		}
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &m, nil
}

// ResolvePaths makes relative input and output paths relative to baseDir,
// normally the directory holding the manifest.
func (m *Manifest) ResolvePaths(baseDir string) {
	for i := range m.Jobs {
		job := &m.Jobs[i]
		if job.Input != "" && !filepath.IsAbs(job.Input) {
			job.Input = filepath.Join(baseDir, job.Input)
		}
		if job.Output != "" && !filepath.IsAbs(job.Output) {
			job.Output = filepath.Join(baseDir, job.Output)
		}
	}
}

// RunBatch runs every manifest entry, at most jobs.max_concurrent at a time.
// One entry failing does not stop the others; results are returned in
// manifest order.
func (a *App) RunBatch(ctx context.Context, m *Manifest) ([]BatchResult, error) {
	results := make([]BatchResult, len(m.Jobs))
	if len(m.Jobs) == 0 {
		return results, nil
	}

	if _, err := a.Orchestrator(ctx); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Jobs.MaxConcurrent)

	for i, req := range m.Jobs {
		results[i].Request = req
		g.Go(func() error {
			results[i] = a.runBatchEntry(gctx, req)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	a.logger.Info("batch finished",
		slog.Int("jobs", len(results)),
		slog.Int("failed", failed),
	)
	return results, nil
}

func (a *App) runBatchEntry(ctx context.Context, req Request) BatchResult {
	result := BatchResult{Request: req}

	p, err := a.Prepare(req)
	if err != nil {
		result.Err = err
		return result
	}
	result.JobID = p.Job.ID

	h, err := a.Submit(ctx, p.Job)
	if err != nil {
		result.Err = err
		return result
	}
	if _, err := h.Wait(); err != nil {
		result.Err = err
		return result
	}

	result.Output, result.Err = a.Complete(p)
	return result
}
