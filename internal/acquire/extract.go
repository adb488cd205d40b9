package acquire

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"

	"github.com/jmylchreest/mediastage/internal/storage"
)

// ArchiveFormat is the container detected from an archive's leading bytes.
type ArchiveFormat string

const (
	FormatZip     ArchiveFormat = "zip"
	FormatTarGzip ArchiveFormat = "tar.gz"
	FormatTarBz2  ArchiveFormat = "tar.bz2"
	FormatTarXz   ArchiveFormat = "tar.xz"
	FormatTar     ArchiveFormat = "tar"
)

var (
	magicZip   = []byte("PK\x03\x04")
	magicGzip  = []byte{0x1f, 0x8b}
	magicBzip2 = []byte("BZh")
	magicXz    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// DetectFormat sniffs the archive format from its first bytes. Anything that
// is not zip or a known compressor is assumed to be a plain tar stream.
func DetectFormat(header []byte) ArchiveFormat {
	switch {
	case bytes.HasPrefix(header, magicZip):
		return FormatZip
	case bytes.HasPrefix(header, magicGzip):
		return FormatTarGzip
	case bytes.HasPrefix(header, magicBzip2):
		return FormatTarBz2
	case bytes.HasPrefix(header, magicXz):
		return FormatTarXz
	default:
		return FormatTar
	}
}

// ExtractDirPrefix names the scratch directory an archive is unpacked into
// before its contents are moved into the destination.
const ExtractDirPrefix = ".mediastage-extract-"

// Extract unpacks the archive into destDir. Entries are first written to a
// scratch directory inside destDir and moved into place only once the whole
// archive has been read, so a failed extraction leaves nothing behind that
// LocateBinary could mistake for an install. Every entry is resolved through
// a sandbox rooted at the scratch directory; an entry that would land outside
// it makes the archive corrupt. Returns a *StepError for StepExtract on failure.
func Extract(archivePath, destDir string, logger *slog.Logger) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return stepErr(StepExtract, fsKind(err), err)
	}
	scratch, err := os.MkdirTemp(destDir, ExtractDirPrefix+"*")
	if err != nil {
		return stepErr(StepExtract, fsKind(err), fmt.Errorf("creating scratch directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("failed to remove extraction scratch directory",
				slog.String("path", scratch),
				slog.String("error", err.Error()),
			)
		}
	}()

	count, err := extractArchive(archivePath, scratch, logger)
	if err != nil {
		return err
	}
	if count == 0 {
		return stepErr(StepExtract, ErrCorruptArchive, fmt.Errorf("archive contained no files"))
	}

	if err := promote(scratch, destDir); err != nil {
		return stepErr(StepExtract, fsKind(err), err)
	}

	logger.Debug("archive extracted", slog.Int("files", count))
	return nil
}

func extractArchive(archivePath, dir string, logger *slog.Logger) (int, error) {
	sb, err := storage.NewSandbox(dir)
	if err != nil {
		return 0, stepErr(StepExtract, ErrIO, err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return 0, stepErr(StepExtract, ErrIO, fmt.Errorf("opening archive: %w", err))
	}
	defer f.Close()

	br := bufio.NewReader(f)
	header, err := br.Peek(6)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, stepErr(StepExtract, ErrIO, fmt.Errorf("peeking header: %w", err))
	}

	format := DetectFormat(header)
	logger.Debug("extracting archive",
		slog.String("archive", path.Base(archivePath)),
		slog.String("format", string(format)),
	)

	if format == FormatZip {
		info, err := f.Stat()
		if err != nil {
			return 0, stepErr(StepExtract, ErrIO, err)
		}
		return extractZip(f, info.Size(), sb, logger)
	}

	r, err := decompressor(format, br)
	if err != nil {
		return 0, stepErr(StepExtract, ErrCorruptArchive, err)
	}
	return extractTar(r, sb, logger)
}

// promote moves each top-level entry of scratch into destDir, replacing
// whatever a previous install left under the same name. Each move is a
// single rename within destDir.
func promote(scratch, destDir string) error {
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return fmt.Errorf("reading scratch directory: %w", err)
	}
	for _, entry := range entries {
		target := filepath.Join(destDir, entry.Name())
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("replacing %s: %w", entry.Name(), err)
		}
		if err := os.Rename(filepath.Join(scratch, entry.Name()), target); err != nil {
			return fmt.Errorf("moving %s into place: %w", entry.Name(), err)
		}
	}
	return nil
}

func decompressor(format ArchiveFormat, r io.Reader) (io.Reader, error) {
	switch format {
	case FormatTarGzip:
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, nil
	case FormatTarBz2:
		bzr, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, fmt.Errorf("creating bzip2 reader: %w", err)
		}
		return bzr, nil
	case FormatTarXz:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xzr, nil
	default:
		return r, nil
	}
}

func extractTar(r io.Reader, sb *storage.Sandbox, logger *slog.Logger) (int, error) {
	tr := tar.NewReader(r)
	var count int

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, stepErr(StepExtract, ErrCorruptArchive, fmt.Errorf("reading tar: %w", err))
		}

		name, ok := entryName(hdr.Name)
		if !ok {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := sb.MkdirAll(name); err != nil {
				return count, entryErr(err)
			}
		case tar.TypeReg:
			if err := writeEntry(sb, name, hdr.FileInfo().Mode(), tr); err != nil {
				return count, err
			}
			count++
		default:
			logger.Debug("skipping archive entry",
				slog.String("name", hdr.Name),
				slog.String("type", string(hdr.Typeflag)),
			)
		}
	}
}

func extractZip(r io.ReaderAt, size int64, sb *storage.Sandbox, logger *slog.Logger) (int, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return 0, stepErr(StepExtract, ErrCorruptArchive, fmt.Errorf("reading zip: %w", err))
	}

	var count int
	for _, zf := range zr.File {
		name, ok := entryName(zf.Name)
		if !ok {
			continue
		}

		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := sb.MkdirAll(name); err != nil {
				return count, entryErr(err)
			}
		case mode.IsRegular():
			rc, err := zf.Open()
			if err != nil {
				return count, stepErr(StepExtract, ErrCorruptArchive, fmt.Errorf("opening %s: %w", zf.Name, err))
			}
			err = writeEntry(sb, name, mode, rc)
			rc.Close()
			if err != nil {
				return count, err
			}
			count++
		default:
			logger.Debug("skipping archive entry", slog.String("name", zf.Name))
		}
	}
	return count, nil
}

// entryName normalizes an archive entry name to a slash-separated relative
// path. Entries naming the archive root are skipped. Escaping names are left
// intact so the sandbox rejects them.
func entryName(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return name, true
	}
	cleaned := path.Clean(name)
	if cleaned == "." {
		return "", false
	}
	return cleaned, true
}

// writeEntry writes an entry without execute permission and only applies
// the archive's mode once the body has been copied in full.
func writeEntry(sb *storage.Sandbox, name string, mode os.FileMode, r io.Reader) error {
	f, err := sb.CreateFile(name, 0o600)
	if err != nil {
		return entryErr(err)
	}

	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		// A truncated or damaged stream shows up as a read error here.
		return stepErr(StepExtract, ErrCorruptArchive, fmt.Errorf("extracting %s: %w", name, copyErr))
	}
	if closeErr != nil {
		return stepErr(StepExtract, ErrIO, fmt.Errorf("closing %s: %w", name, closeErr))
	}

	if err := os.Chmod(f.Name(), mode.Perm()|0o600); err != nil {
		return stepErr(StepExtract, ErrIO, err)
	}
	return nil
}

func entryErr(err error) error {
	if errors.Is(err, storage.ErrPathEscape) {
		return stepErr(StepExtract, ErrCorruptArchive, err)
	}
	if errors.Is(err, os.ErrPermission) {
		return stepErr(StepExtract, ErrPermission, err)
	}
	return stepErr(StepExtract, ErrIO, err)
}
