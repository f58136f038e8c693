package artifact

import (
	"context"
	"errors"
	"fmt"
	"geoip-api/internal/logger"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrEmptyPayload：解包后没有得到任何数据
var ErrEmptyPayload = errors.New("artifact: empty payload")

// Request：一次解包的输入
// Src 为已下载的制品文件；DstDir 为本次刷新独占的临时目录；Name 为期望输出的库文件名。
type Request struct {
	Src    string
	DstDir string
	Name   string
}

// 文档注释：制品解包契约
// 背景：返回内嵌查询库文件的路径；输出只能落在 DstDir 内，由调用方统一清理。
// 约束：实现需遵守 ctx 取消；失败视为制品损坏。
type Extractor interface {
	Extract(ctx context.Context, req Request) (string, error)
}

type ExtractorFunc func(ctx context.Context, req Request) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Extractors：格式到解包器的映射；缺失的格式即视为未装配
type Extractors map[Format]Extractor

// 文档注释：默认解包器集合
// 背景：直接库文件原样返回，单流压缩（gzip/zstd/lz4）解压到临时目录；多文件归档默认不装配，
// 需显式调用 WithArchive 开启。
func DefaultExtractors() Extractors {
	return Extractors{
		FormatRaw:  ExtractorFunc(passthrough),
		FormatGzip: streamExtractor(openGzip),
		FormatZstd: streamExtractor(openZstd),
		FormatLZ4:  streamExtractor(openLZ4),
	}
}

// WithArchive 装配多文件归档解包器
func (e Extractors) WithArchive() Extractors {
	e[FormatArchive] = ArchiveExtractor{}
	return e
}

func passthrough(ctx context.Context, req Request) (string, error) {
	fi, err := os.Stat(req.Src)
	if err != nil {
		return "", err
	}
	if fi.Size() == 0 {
		return "", ErrEmptyPayload
	}
	return req.Src, nil
}

type opener func(r io.Reader) (io.Reader, func(), error)

func openGzip(r io.Reader) (io.Reader, func(), error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return zr, func() { _ = zr.Close() }, nil
}

func openZstd(r io.Reader) (io.Reader, func(), error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return d, d.Close, nil
}

func openLZ4(r io.Reader) (io.Reader, func(), error) {
	return lz4.NewReader(r), func() {}, nil
}

// streamExtractor 构造单流解压器：Src 解压写入 DstDir/Name
func streamExtractor(open opener) Extractor {
	return ExtractorFunc(func(ctx context.Context, req Request) (string, error) {
		in, err := os.Open(req.Src)
		if err != nil {
			return "", err
		}
		defer in.Close()
		r, done, err := open(in)
		if err != nil {
			return "", err
		}
		defer done()
		out := filepath.Join(req.DstDir, filepath.Base(req.Name))
		if err := writeFile(ctx, out, r); err != nil {
			return "", err
		}
		logger.L().Debug("artifact_decompressed", "path", out)
		return out, nil
	})
}

func writeFile(ctx context.Context, path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	n, err := copyContext(ctx, f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", filepath.Base(path), ErrEmptyPayload)
	}
	return nil
}
