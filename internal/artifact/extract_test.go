package artifact

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payload = []byte("\xab\xcd\xefMaxMind.com fake database payload")

func writeTemp(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func compress(t *testing.T, f Format, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch f {
	case FormatGzip:
		w := gzip.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case FormatZstd:
		w, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case FormatLZ4:
		w := lz4.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	default:
		return data
	}
	return buf.Bytes()
}

func TestStreamExtractors(t *testing.T) {
	ex := DefaultExtractors()
	for _, f := range []Format{FormatGzip, FormatZstd, FormatLZ4} {
		t.Run(f.String(), func(t *testing.T) {
			dir := t.TempDir()
			src := writeTemp(t, dir, "download.bin", compress(t, f, payload))
			out, err := ex[f].Extract(context.Background(), Request{Src: src, DstDir: dir, Name: "GeoLite2-City.mmdb"})
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "GeoLite2-City.mmdb"), out)
			got, err := os.ReadFile(out)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestStreamExtractor_Corrupt(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "download.bin", []byte("plain text, not compressed"))
	_, err := DefaultExtractors()[FormatGzip].Extract(context.Background(), Request{Src: src, DstDir: dir, Name: "db.mmdb"})
	assert.Error(t, err)
}

func TestStreamExtractor_EmptyPayload(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "download.bin", compress(t, FormatGzip, nil))
	_, err := DefaultExtractors()[FormatGzip].Extract(context.Background(), Request{Src: src, DstDir: dir, Name: "db.mmdb"})
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestStreamExtractor_Canceled(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "download.bin", compress(t, FormatGzip, payload))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DefaultExtractors()[FormatGzip].Extract(ctx, Request{Src: src, DstDir: dir, Name: "db.mmdb"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPassthrough(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "download.bin", payload)
	out, err := DefaultExtractors()[FormatRaw].Extract(context.Background(), Request{Src: src, DstDir: dir})
	require.NoError(t, err)
	assert.Equal(t, src, out)

	empty := writeTemp(t, dir, "empty.bin", nil)
	_, err = DefaultExtractors()[FormatRaw].Extract(context.Background(), Request{Src: empty, DstDir: dir})
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestArchiveNotWiredByDefault(t *testing.T) {
	_, ok := DefaultExtractors()[FormatArchive]
	assert.False(t, ok)
	_, ok = DefaultExtractors().WithArchive()[FormatArchive]
	assert.True(t, ok)
}

func tarBytes(t *testing.T, entries [][2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: e[0], Mode: 0o644, Size: int64(len(e[1])), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(e[1]))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestArchiveExtractor_Tar(t *testing.T) {
	entries := [][2]string{
		{"GeoLite2-City_20240101/COPYRIGHT.txt", "copyright"},
		{"GeoLite2-City_20240101/GeoLite2-ASN.mmdb", "asn"},
		{"GeoLite2-City_20240101/GeoLite2-City.mmdb", "city"},
	}
	for _, f := range []Format{FormatRaw, FormatGzip, FormatZstd, FormatLZ4} {
		t.Run(f.String(), func(t *testing.T) {
			dir := t.TempDir()
			src := writeTemp(t, dir, "download.bin", compress(t, f, tarBytes(t, entries)))
			out, err := ArchiveExtractor{}.Extract(context.Background(), Request{Src: src, DstDir: dir, Name: "GeoLite2-City.mmdb"})
			require.NoError(t, err)
			got, err := os.ReadFile(out)
			require.NoError(t, err)
			assert.Equal(t, "city", string(got))
		})
	}
}

func TestArchiveExtractor_TarFirstDatabaseWhenNameDiffers(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "download.bin", tarBytes(t, [][2]string{{"x/README", "r"}, {"x/Other.mmdb", "other"}}))
	out, err := ArchiveExtractor{}.Extract(context.Background(), Request{Src: src, DstDir: dir, Name: "GeoLite2-City.mmdb"})
	require.NoError(t, err)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "other", string(got))
}

func TestArchiveExtractor_NoDatabase(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "download.bin", tarBytes(t, [][2]string{{"x/README", "r"}}))
	_, err := ArchiveExtractor{}.Extract(context.Background(), Request{Src: src, DstDir: dir, Name: "db.mmdb"})
	assert.ErrorIs(t, err, ErrNoDatabase)
}

func TestArchiveExtractor_Zip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{"pkg/a.mmdb": "a", "pkg/GeoLite2-City.mmdb": "city"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	dir := t.TempDir()
	src := writeTemp(t, dir, "download.bin", buf.Bytes())
	out, err := ArchiveExtractor{}.Extract(context.Background(), Request{Src: src, DstDir: dir, Name: "GeoLite2-City.mmdb"})
	require.NoError(t, err)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "city", string(got))
}
