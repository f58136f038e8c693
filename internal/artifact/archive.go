package artifact

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"errors"
	"geoip-api/internal/logger"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrNoDatabase：归档中找不到 .mmdb 条目
var ErrNoDatabase = errors.New("artifact: no .mmdb entry in archive")

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4  = []byte{0x04, 0x22, 0x4d, 0x18}
	magicZip  = []byte("PK\x03\x04")
)

// 文档注释：多文件归档解包器（tar / tar.gz / tar.zst / tar.lz4 / zip）
// 背景：MaxMind 官方发布包形如 GeoLite2-City_20240101/GeoLite2-City.mmdb；外层压缩按魔数识别而非后缀。
// 约束：优先选择与 Name 同名的条目，否则取第一个 .mmdb；只写出选中的那一个文件，不展开整个归档。
type ArchiveExtractor struct{}

func (ArchiveExtractor) Extract(ctx context.Context, req Request) (string, error) {
	f, err := os.Open(req.Src)
	if err != nil {
		return "", err
	}
	defer f.Close()
	br := bufio.NewReader(f)
	head, _ := br.Peek(4)
	out := filepath.Join(req.DstDir, filepath.Base(req.Name))
	if bytes.HasPrefix(head, magicZip) {
		return out, extractZip(ctx, req.Src, req.Name, out)
	}
	var r io.Reader = br
	switch {
	case bytes.HasPrefix(head, magicGzip):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return "", err
		}
		defer zr.Close()
		r = zr
	case bytes.HasPrefix(head, magicZstd):
		d, err := zstd.NewReader(br)
		if err != nil {
			return "", err
		}
		defer d.Close()
		r = d
	case bytes.HasPrefix(head, magicLZ4):
		r = lz4.NewReader(br)
	}
	return out, extractTar(ctx, r, req.Name, out)
}

// extractTar 顺序扫描：先写出第一个 .mmdb 条目，之后遇到与 want 同名的条目则覆盖并结束。
func extractTar(ctx context.Context, r io.Reader, want, out string) error {
	tr := tar.NewReader(r)
	found := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if h.Typeflag != tar.TypeReg || !isDatabaseEntry(h.Name) {
			continue
		}
		exact := path.Base(h.Name) == want
		if found && !exact {
			continue
		}
		if err := writeFile(ctx, out, tr); err != nil {
			return err
		}
		logger.L().Debug("artifact_archive_entry", "entry", h.Name, "exact", exact)
		found = true
		if exact {
			return nil
		}
	}
	if !found {
		return ErrNoDatabase
	}
	return nil
}

func extractZip(ctx context.Context, src, want, out string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()
	var pick *zip.File
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || !isDatabaseEntry(zf.Name) {
			continue
		}
		if path.Base(zf.Name) == want {
			pick = zf
			break
		}
		if pick == nil {
			pick = zf
		}
	}
	if pick == nil {
		return ErrNoDatabase
	}
	rc, err := pick.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	logger.L().Debug("artifact_archive_entry", "entry", pick.Name)
	return writeFile(ctx, out, rc)
}

func isDatabaseEntry(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".mmdb")
}
