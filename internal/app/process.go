package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jmylchreest/mediastage/internal/ffmpeg"
	"github.com/jmylchreest/mediastage/internal/observability"
	"github.com/jmylchreest/mediastage/internal/storage"
)

// ErrInvalidRequest is returned for requests that cannot produce an output.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one media operation on a file on disk. The input is staged,
// processed in the staging area, and the result moved to Output.
type Request struct {
	Operation ffmpeg.Operation `yaml:"operation"`
	Input     string           `yaml:"input"`
	// Output is the final path. Empty means a derived name beside Input.
	Output string `yaml:"output,omitempty"`
	// Format is the target container for remux and transcode. When empty it
	// is taken from Output's extension.
	Format string `yaml:"format,omitempty"`
	// Encoding picks the transcode audio codec. When empty it follows the
	// target format, so an mp3 output is encoded with the mp3 encoder.
	Encoding string `yaml:"encoding,omitempty"`
	Start    string `yaml:"start,omitempty"`
	End      string `yaml:"end,omitempty"`
}

// Prepared is a request whose input has been staged and whose output has
// been planned, ready to run.
type Prepared struct {
	Request   Request
	Job       ffmpeg.Job
	FinalPath string
	session   *storage.Session
}

// Validate checks a request without touching the filesystem.
func (r Request) Validate() error {
	if r.Input == "" {
		return fmt.Errorf("%w: input is required", ErrInvalidRequest)
	}

	switch r.Operation {
	case ffmpeg.OperationRemux, ffmpeg.OperationTranscode:
		if r.format() == "" {
			return fmt.Errorf("%w: %s requires a format or an output with an extension", ErrInvalidRequest, r.Operation)
		}
	case ffmpeg.OperationTrim:
		return ffmpeg.ValidateTrimRange(r.Start, r.End)
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, r.Operation)
	}
	return nil
}

func (r Request) format() string {
	if f := strings.TrimPrefix(strings.TrimSpace(r.Format), "."); f != "" {
		return f
	}
	return strings.TrimPrefix(filepath.Ext(r.Output), ".")
}

func (r Request) encoding() string {
	if e := strings.TrimSpace(r.Encoding); e != "" {
		return e
	}
	return r.format()
}

// finalPath returns where the output ends up.
func (r Request) finalPath() (string, error) {
	if r.Output != "" {
		return r.Output, nil
	}
	name, err := storage.OutputName(filepath.Base(r.Input), string(r.Operation), r.format())
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(r.Input), name), nil
}

// Prepare validates req, stages its input, and plans the staging output.
func (a *App) Prepare(req Request) (*Prepared, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	finalPath, err := req.finalPath()
	if err != nil {
		return nil, err
	}
	if samePath(finalPath, req.Input) {
		return nil, fmt.Errorf("%w: output would overwrite input %s", ErrInvalidRequest, req.Input)
	}

	data, err := os.ReadFile(req.Input)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}

	session := a.staging.NewSession()
	name := filepath.Base(req.Input)

	staged, err := session.Stage(data, name)
	if err != nil {
		return nil, err
	}

	planned, err := session.PlanOutputPath(name, string(req.Operation), req.format())
	if err != nil {
		if rmErr := os.Remove(staged.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			a.logger.Warn("failed to remove staged input",
				slog.String("path", staged.Path),
				slog.String("error", rmErr.Error()),
			)
		}
		return nil, err
	}

	return &Prepared{
		Request: req,
		Job: ffmpeg.Job{
			ID:        uuid.NewString(),
			Operation: req.Operation,
			Input:     staged.Path,
			Output:    planned,
			Encoding:  req.encoding(),
			Start:     req.Start,
			End:       req.End,
		},
		FinalPath: finalPath,
		session:   session,
	}, nil
}

// Complete moves a successful job's output to its final path.
func (a *App) Complete(p *Prepared) (string, error) {
	if err := p.session.Finalize(p.Job.Output, p.FinalPath); err != nil {
		return "", err
	}
	return p.FinalPath, nil
}

// Process runs req end to end and returns the final output path. A failed
// job leaves its partial output in staging and never creates the final path.
func (a *App) Process(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	o, err := a.Orchestrator(ctx)
	if err != nil {
		return "", err
	}

	p, err := a.Prepare(req)
	if err != nil {
		return "", err
	}

	if _, err := o.Run(ctx, p.Job); err != nil {
		logger := observability.WithJob(a.logger, p.Job.ID, string(req.Operation))
		observability.WithOwner(logger, p.session.Owner()).Warn("media job failed, staged files kept",
			slog.String("input", req.Input),
		)
		return "", err
	}

	return a.Complete(p)
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
