package geoip

import (
	"archive/tar"
	"bytes"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"

	"geoip-api/internal/logger"

	"github.com/klauspost/compress/gzip"
	"github.com/maxmind/mmdbwriter"
	"github.com/maxmind/mmdbwriter/mmdbtype"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Use(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// buildCityDB 生成一个最小 City 库：81.2.69.0/24 带完整位置信息，2001:4860::/32 只有国家
func buildCityDB(t *testing.T, city string) []byte {
	t.Helper()
	tree, err := mmdbwriter.New(mmdbwriter.Options{DatabaseType: "GeoIP2-City", RecordSize: 24})
	require.NoError(t, err)

	_, full, err := net.ParseCIDR("81.2.69.0/24")
	require.NoError(t, err)
	require.NoError(t, tree.Insert(full, mmdbtype.Map{
		"city": mmdbtype.Map{"names": mmdbtype.Map{
			"en": mmdbtype.String(city),
			"de": mmdbtype.String(city + "-de"),
		}},
		"continent": mmdbtype.Map{"names": mmdbtype.Map{"en": mmdbtype.String("Europe")}},
		"country": mmdbtype.Map{
			"iso_code": mmdbtype.String("GB"),
			"names":    mmdbtype.Map{"en": mmdbtype.String("United Kingdom")},
		},
		"location": mmdbtype.Map{
			"latitude":  mmdbtype.Float64(51.5142),
			"longitude": mmdbtype.Float64(-0.0931),
			"time_zone": mmdbtype.String("Europe/London"),
		},
		"postal": mmdbtype.Map{"code": mmdbtype.String("EC2V")},
		"traits": mmdbtype.Map{
			"isp":                      mmdbtype.String("Andrews & Arnold Ltd"),
			"autonomous_system_number": mmdbtype.Uint32(20712),
			"is_anonymous_proxy":       mmdbtype.Bool(false),
		},
	}))

	_, sparse, err := net.ParseCIDR("2001:4860::/32")
	require.NoError(t, err)
	require.NoError(t, tree.Insert(sparse, mmdbtype.Map{
		"country": mmdbtype.Map{
			"iso_code": mmdbtype.String("US"),
			"names":    mmdbtype.Map{"en": mmdbtype.String("United States")},
		},
	}))

	var buf bytes.Buffer
	_, err = tree.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func writeCityDB(t *testing.T, path, city string) []byte {
	t.Helper()
	data := buildCityDB(t, city)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return data
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// tarGz 打包为 MaxMind 发布包的目录结构
func tarGz(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	for name, data := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func cityOf(t *testing.T, m *Manager, ip string) string {
	t.Helper()
	rec, err := m.Query(ip)
	require.NoError(t, err)
	require.NotNil(t, rec.City)
	return *rec.City
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, ents, "scratch files left behind in %s", dir)
}
