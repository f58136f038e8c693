package artifact

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options：S3 兼容存储连接参数；AccessKey 为空时从 AWS_* 环境变量读取凭据
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// 文档注释：S3 兼容存储获取器
// 背景：私有部署常把库文件镜像到对象存储；定位符形如 s3://bucket/path/GeoLite2-City.mmdb.gz。
type S3Fetcher struct {
	client *minio.Client
}

func NewS3Fetcher(o S3Options) (*S3Fetcher, error) {
	creds := credentials.NewEnvAWS()
	if o.AccessKey != "" {
		creds = credentials.NewStaticV4(o.AccessKey, o.SecretKey, "")
	}
	c, err := minio.New(o.Endpoint, &minio.Options{Creds: creds, Secure: o.UseSSL, Region: o.Region})
	if err != nil {
		return nil, err
	}
	return &S3Fetcher{client: c}, nil
}

func parseS3(locator string) (bucket, key string, err error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", "", err
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("bad s3 locator %q", locator)
	}
	return bucket, key, nil
}

func (s *S3Fetcher) Fetch(ctx context.Context, locator string, dst io.Writer) (int64, error) {
	bucket, key, err := parseS3(locator)
	if err != nil {
		return 0, &FetchError{Locator: locator, Err: err}
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, s.wrap(locator, err)
	}
	defer obj.Close()
	n, err := io.Copy(dst, obj)
	if err != nil {
		return n, s.wrap(locator, err)
	}
	return n, nil
}

func (s *S3Fetcher) wrap(locator string, err error) error {
	resp := minio.ToErrorResponse(err)
	return &FetchError{Locator: locator, StatusCode: resp.StatusCode, Err: err}
}
