package acquire

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/jmylchreest/mediastage/internal/config"
	"github.com/jmylchreest/mediastage/internal/ffmpeg"
	"github.com/jmylchreest/mediastage/internal/observability"
	"github.com/jmylchreest/mediastage/internal/util"
)

// BinaryEnvVar names the environment variable that points at an ffmpeg binary.
const BinaryEnvVar = "MEDIASTAGE_FFMPEG_BINARY"

const (
	lockFileName  = ".mediastage-install.lock"
	probeFileName = ".mediastage-write-test"
	lockRetry     = 250 * time.Millisecond

	defaultArchiveName = "ffmpeg-archive"

	// Versions that do not parse as major.minor report 0.0 and are not warned about.
	minMajorVersion = 4
)

// InstallationState is the outcome of probing for an existing binary.
type InstallationState struct {
	Installed bool
	Path      string
}

// DownloadTask is a resolved download: where from and where to.
type DownloadTask struct {
	SourceURL      string
	DestinationDir string
}

// Archive is a downloaded archive on disk. A usable archive has Size > 0.
type Archive struct {
	Path string
	Size int64
}

// ResolvedBinary is the binary the pipeline settled on. A non-nil VersionErr
// means the binary was found but could not be verified.
type ResolvedBinary struct {
	Path       string
	Version    string
	VersionErr error
}

// Result is returned by a successful pipeline run.
type Result struct {
	State         InstallationState
	Task          *DownloadTask
	Archive       *Archive
	Binary        ResolvedBinary
	LatestVersion string
}

// Degraded reports whether the binary was installed but not verified.
func (r *Result) Degraded() bool {
	return r.Binary.VersionErr != nil
}

// Options configures a pipeline.
type Options struct {
	BinaryName string
	// BinaryPath is an explicit ffmpeg path. When set, it is the only
	// pre-existing installation considered besides the destination.
	BinaryPath   string
	Destination  string
	DownloadURL  string
	CheckLatest  bool
	MinFreeSpace uint64
}

// OptionsFromConfig builds pipeline options from configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BinaryName:   cfg.Acquire.BinaryName,
		BinaryPath:   cfg.FFmpeg.BinaryPath,
		Destination:  cfg.Acquire.Destination,
		DownloadURL:  cfg.Acquire.DownloadURL,
		CheckLatest:  cfg.Acquire.CheckLatest,
		MinFreeSpace: cfg.Acquire.MinFreeSpace.Bytes(),
	}
}

// Downloader fetches archives and small documents over HTTP.
type Downloader interface {
	Download(ctx context.Context, rawURL, destPath string) (int64, error)
	GetBody(ctx context.Context, rawURL string, limit int64) ([]byte, error)
}

// Pipeline drives acquisition through its steps:
//
//	probe -> resolve source -> resolve destination -> ensure writable ->
//	download -> verify archive -> extract -> locate binary -> verify version
//
// Every step except version verification is fatal.
type Pipeline struct {
	opts       Options
	downloader Downloader
	logger     *slog.Logger

	platform      Platform
	executableDir func() (string, error)
	findBinary    func(name, explicitPath, envVar string) (string, error)
	freeSpace     func(path string) (uint64, error)
	extract       func(archivePath, destDir string, logger *slog.Logger) error
	version       func(ctx context.Context, path string) (*ffmpeg.VersionInfo, error)
}

// NewPipeline creates a pipeline for the current platform.
func NewPipeline(opts Options, downloader Downloader, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BinaryName == "" {
		opts.BinaryName = "ffmpeg"
	}
	return &Pipeline{
		opts:          opts,
		downloader:    downloader,
		logger:        observability.WithComponent(logger, "acquire"),
		platform:      Platform{OS: runtime.GOOS, Arch: runtime.GOARCH},
		executableDir: executableDir,
		findBinary:    util.FindBinary,
		freeSpace:     freeSpace,
		extract:       Extract,
		version:       ffmpeg.DetectVersion,
	}
}

// Run makes an ffmpeg binary available and returns where it is.
func (p *Pipeline) Run(ctx context.Context) (result *Result, err error) {
	done := observability.TimedOperationWithError(ctx, p.logger, "acquire", &err)
	defer done()

	binaryName := util.ExecutableName(p.opts.BinaryName)

	dest, destErr := p.resolveDestination()
	if state := p.probeInstalled(dest, destErr, binaryName); state.Installed {
		return &Result{State: state, Binary: ResolvedBinary{Path: state.Path}}, nil
	}

	sourceURL, err := ResolveSource(p.platform, p.opts.DownloadURL)
	if err != nil {
		return nil, err
	}

	if destErr != nil {
		return nil, destErr
	}

	result = &Result{Task: &DownloadTask{SourceURL: sourceURL, DestinationDir: dest}}

	if p.opts.CheckLatest {
		result.LatestVersion = p.latestVersion(ctx)
	}

	unlock, err := p.ensureWritable(ctx, dest)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another process may have finished an install while we waited on the lock.
	if existing, locateErr := LocateBinary(dest, binaryName); locateErr == nil {
		p.logger.Info("ffmpeg installed by another process", slog.String("path", existing))
		result.State = InstallationState{Installed: true, Path: existing}
		result.Binary = p.verifyVersion(ctx, existing)
		return result, nil
	}

	archive, err := p.download(ctx, sourceURL, dest)
	if err != nil {
		return nil, err
	}
	result.Archive = archive

	if err := p.verifyArchive(archive); err != nil {
		return nil, err
	}

	extractErr := p.extract(archive.Path, dest, p.logger)
	if err := os.Remove(archive.Path); err != nil {
		p.logger.Warn("failed to remove archive",
			slog.String("path", archive.Path),
			slog.String("error", err.Error()),
		)
	}
	if extractErr != nil {
		return nil, extractErr
	}

	binaryPath, err := LocateBinary(dest, binaryName)
	if err != nil {
		return nil, err
	}

	result.State = InstallationState{Installed: true, Path: binaryPath}
	result.Binary = p.verifyVersion(ctx, binaryPath)
	return result, nil
}

// probeInstalled looks for an existing binary: explicit path or env var,
// then PATH, then a previous install in the destination. It never writes.
func (p *Pipeline) probeInstalled(dest string, destErr error, binaryName string) InstallationState {
	found, err := p.findBinary(binaryName, p.opts.BinaryPath, BinaryEnvVar)
	if err == nil {
		p.logger.Info("ffmpeg already installed", slog.String("path", found))
		return InstallationState{Installed: true, Path: found}
	}
	if p.opts.BinaryPath != "" {
		p.logger.Warn("configured ffmpeg binary unusable",
			slog.String("path", p.opts.BinaryPath),
			slog.String("error", err.Error()),
		)
	}

	if destErr == nil {
		if existing, err := LocateBinary(dest, binaryName); err == nil {
			p.logger.Info("ffmpeg previously acquired", slog.String("path", existing))
			return InstallationState{Installed: true, Path: existing}
		}
	}

	p.logger.Info("ffmpeg not installed, acquiring")
	return InstallationState{}
}

// Destination returns the directory the pipeline installs into.
func (p *Pipeline) Destination() (string, error) {
	return p.resolveDestination()
}

// resolveDestination applies the destination hint. Relative hints are taken
// relative to the running executable. It does not create anything.
func (p *Pipeline) resolveDestination() (string, error) {
	hint := p.opts.Destination
	if hint != "" && filepath.IsAbs(hint) {
		return util.NormalizePath(hint), nil
	}

	exeDir, err := p.executableDir()
	if err != nil {
		return "", stepErr(StepResolveDest, ErrIO, fmt.Errorf("locating executable: %w", err))
	}
	if hint == "" {
		return exeDir, nil
	}
	return util.NormalizePath(exeDir + string(filepath.Separator) + hint), nil
}

// ensureWritable creates dest, proves it is writable, checks free space, and
// takes the install lock. The returned function releases the lock.
func (p *Pipeline) ensureWritable(ctx context.Context, dest string) (func(), error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, stepErr(StepResolveDest, fsKind(err), fmt.Errorf("creating destination: %w", err))
	}

	probe := filepath.Join(dest, probeFileName)
	f, err := os.Create(probe)
	if err != nil {
		return nil, stepErr(StepEnsureWritable, ErrPermission, fmt.Errorf("destination not writable: %w", err))
	}
	f.Close()
	if err := os.Remove(probe); err != nil {
		return nil, stepErr(StepEnsureWritable, ErrPermission, fmt.Errorf("removing write probe: %w", err))
	}

	if p.opts.MinFreeSpace > 0 {
		free, err := p.freeSpace(dest)
		if err != nil {
			p.logger.Warn("could not determine free space",
				slog.String("path", dest),
				slog.String("error", err.Error()),
			)
		} else if free < p.opts.MinFreeSpace {
			return nil, stepErr(StepEnsureWritable, ErrIO, fmt.Errorf("insufficient space: %s free, %s required",
				humanize.IBytes(free), humanize.IBytes(p.opts.MinFreeSpace)))
		}
	}

	lock := flock.New(filepath.Join(dest, lockFileName))
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, stepErr(StepEnsureWritable, ErrIO, fmt.Errorf("acquiring install lock: %w", err))
	}
	if !locked {
		return nil, stepErr(StepEnsureWritable, ErrIO, errors.New("install lock not acquired"))
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			p.logger.Warn("failed to release install lock", slog.String("error", err.Error()))
		}
	}, nil
}

func (p *Pipeline) download(ctx context.Context, sourceURL, dest string) (*Archive, error) {
	archivePath := filepath.Join(dest, archiveName(sourceURL))

	p.logger.Info("downloading ffmpeg", slog.String("url", sourceURL))
	size, err := p.downloader.Download(ctx, sourceURL, archivePath)
	if err != nil {
		kind := ErrNetwork
		if errors.Is(err, fs.ErrPermission) {
			kind = ErrPermission
		}
		return nil, stepErr(StepDownload, kind, err)
	}

	return &Archive{Path: archivePath, Size: size}, nil
}

// verifyArchive rejects missing or empty archives before extraction.
func (p *Pipeline) verifyArchive(archive *Archive) error {
	info, err := os.Stat(archive.Path)
	if err != nil {
		return stepErr(StepVerifyArchive, fsKind(err), err)
	}
	archive.Size = info.Size()

	if archive.Size == 0 {
		if err := os.Remove(archive.Path); err != nil {
			p.logger.Warn("failed to remove empty archive", slog.String("error", err.Error()))
		}
		return stepErr(StepVerifyArchive, ErrCorruptArchive, errors.New("downloaded archive is empty"))
	}

	p.logger.Debug("archive downloaded",
		slog.String("path", archive.Path),
		slog.String("size", humanize.IBytes(uint64(archive.Size))),
	)
	return nil
}

// verifyVersion runs the binary. Failure degrades the result but does not fail it.
func (p *Pipeline) verifyVersion(ctx context.Context, binaryPath string) ResolvedBinary {
	resolved := ResolvedBinary{Path: binaryPath}

	info, err := p.version(ctx, binaryPath)
	if err != nil {
		resolved.VersionErr = stepErr(StepVerifyVersion, ErrVersionCheck, err)
		p.logger.Warn("ffmpeg installed but version check failed",
			slog.String("path", binaryPath),
			slog.String("error", err.Error()),
		)
		return resolved
	}

	resolved.Version = info.Full
	if !info.SupportsMinVersion(minMajorVersion, 0) {
		p.logger.Warn("ffmpeg is older than supported",
			slog.String("version", info.Full),
			slog.Int("min_major", minMajorVersion),
		)
	}
	p.logger.Info("ffmpeg ready",
		slog.String("path", binaryPath),
		slog.String("version", info.Full),
	)
	return resolved
}

func (p *Pipeline) latestVersion(ctx context.Context) string {
	latest, err := LatestVersion(ctx, p.downloader, p.platform)
	if err != nil {
		p.logger.Warn("failed to check latest ffmpeg version", slog.String("error", err.Error()))
		return ""
	}
	p.logger.Info("latest ffmpeg release", slog.String("version", latest))
	return latest
}

// archiveName picks a local file name for the download. The format is
// sniffed from content later, so the name only needs to be stable.
func archiveName(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return defaultArchiveName
	}
	name := path.Base(u.Path)
	switch name {
	case "", ".", "/", "zip":
		return defaultArchiveName
	}
	return name
}

func fsKind(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return ErrPermission
	}
	return ErrIO
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

func freeSpace(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
