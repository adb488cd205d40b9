package acquire

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// stubScript is a fake ffmpeg that answers -version.
const stubScript = "#!/bin/sh\necho \"ffmpeg version 7.0.2-static https://johnvansickle.com/ffmpeg/\"\n"

type archiveEntry struct {
	Name string
	Body string
	Mode int64
	Dir  bool
}

func ffmpegEntries(prefix string) []archiveEntry {
	return []archiveEntry{
		{Name: prefix + "/", Dir: true, Mode: 0o755},
		{Name: prefix + "/ffmpeg", Body: stubScript, Mode: 0o755},
		{Name: prefix + "/readme.txt", Body: "static build", Mode: 0o644},
	}
}

func buildTar(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.Name, Mode: e.Mode, Size: int64(len(e.Body)), Typeflag: tar.TypeReg}
		if e.Dir {
			hdr.Typeflag = tar.TypeDir
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.Dir {
			_, err := tw.Write([]byte(e.Body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func buildTarGz(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(buildTar(t, entries))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func buildTarBz2(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, nil)
	require.NoError(t, err)
	_, err = bw.Write(buildTar(t, entries))
	require.NoError(t, err)
	require.NoError(t, bw.Close())
	return buf.Bytes()
}

func buildTarXz(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = xw.Write(buildTar(t, entries))
	require.NoError(t, err)
	require.NoError(t, xw.Close())
	return buf.Bytes()
}

func buildZip(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		fh := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		mode := os.FileMode(e.Mode)
		if e.Dir {
			mode |= os.ModeDir
		}
		fh.SetMode(mode)
		w, err := zw.CreateHeader(fh)
		require.NoError(t, err)
		if !e.Dir {
			_, err = io.WriteString(w, e.Body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// fakeDownloader writes canned bytes instead of talking to the network.
type fakeDownloader struct {
	data    []byte
	err     error
	bodies  map[string]string
	calls   int
	lastURL string
}

func (f *fakeDownloader) Download(_ context.Context, rawURL, destPath string) (int64, error) {
	f.calls++
	f.lastURL = rawURL
	if f.err != nil {
		return 0, f.err
	}
	if err := os.WriteFile(destPath, f.data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(f.data)), nil
}

func (f *fakeDownloader) GetBody(_ context.Context, rawURL string, _ int64) ([]byte, error) {
	f.calls++
	body, ok := f.bodies[rawURL]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(body), nil
}
