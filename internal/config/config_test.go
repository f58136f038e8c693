package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv 屏蔽宿主环境与工作目录下的 .env，保证用例只看到自己设置的变量
func clearEnv(t *testing.T) {
	t.Helper()
	old := DotenvFiles
	DotenvFiles = nil
	t.Cleanup(func() { DotenvFiles = old })
	for _, k := range []string{
		"GEOIP_DATABASE_PATH", "GEOIP_DOWNLOAD_URL", "GEOIP_UPDATE_CRON", "GEOIP_INITIAL_DELAY",
		"GEOIP_LOCALE", "GEOIP_ARCHIVE_EXTRACT", "GEOIP_WATCH_FILE", "GEOIP_USER_AGENT", "GEOIP_TEMP_DIR",
		"GEOIP_S3_ENDPOINT", "GEOIP_S3_ACCESS_KEY", "GEOIP_S3_SECRET_KEY", "GEOIP_S3_REGION", "GEOIP_S3_USE_SSL",
		"REDIS_ENABLE", "STATS_ENABLE", "ADDR", "API_BASE", "ADMIN_TOKEN", "TLS_ENABLE", "TLS_CERT_PATH",
		"TLS_KEY_PATH", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "ALLOW_CIDRS",
	} {
		if v, ok := os.LookupEnv(k); ok {
			require.NoError(t, os.Unsetenv(k))
			t.Cleanup(func() { _ = os.Setenv(k, v) })
		}
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "geoip.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	clearEnv(t)
	_, err := Load("")
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "GEOIP_DATABASE_PATH")
}

func TestLoad_EnvOnlyDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEOIP_DATABASE_PATH", "/var/lib/geoip/GeoLite2-City.mmdb")
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/geoip/GeoLite2-City.mmdb", s.DatabasePath)
	assert.Equal(t, 15*time.Second, s.InitialDelay)
	assert.Equal(t, "en", s.Locale)
	assert.Empty(t, s.DownloadURL)
	assert.Empty(t, s.UpdateSchedule)
	assert.False(t, s.ArchiveExtract)
	assert.Equal(t, "/api", s.HTTP.APIBase)
	assert.Equal(t, ":8080", s.HTTP.Addr)
}

func TestLoad_YAMLThenEnvOverride(t *testing.T) {
	clearEnv(t)
	p := writeYAML(t, `
database_path: /data/GeoLite2-City.mmdb
download_url: https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&suffix=tar.gz
update_schedule: "0 3 * * 3"
initial_delay: 30s
locale: de
archive_extract: true
http:
  api_base: /v1/
  allow_cidrs: ["10.0.0.0/8"]
`)
	t.Setenv("GEOIP_LOCALE", "fr")
	t.Setenv("RATE_LIMIT_RPS", "5")
	s, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "/data/GeoLite2-City.mmdb", s.DatabasePath)
	assert.Equal(t, "0 3 * * 3", s.UpdateSchedule)
	assert.Equal(t, 30*time.Second, s.InitialDelay)
	assert.Equal(t, "fr", s.Locale)
	assert.True(t, s.ArchiveExtract)
	assert.Equal(t, "/v1", s.HTTP.APIBase)
	assert.Equal(t, []string{"10.0.0.0/8"}, s.HTTP.AllowCIDRs)
	assert.Equal(t, 5.0, s.HTTP.RateLimitRPS)
	assert.Equal(t, 100, s.HTTP.RateLimitBurst)
}

func TestLoad_UnknownYAMLField(t *testing.T) {
	clearEnv(t)
	p := writeYAML(t, "database_path: /x.mmdb\ndownload_uri: typo\n")
	_, err := Load(p)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoad_EmptyYAMLFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEOIP_DATABASE_PATH", "/x.mmdb")
	_, err := Load(writeYAML(t, ""))
	assert.NoError(t, err)
}

func TestLoad_BadEnvValues(t *testing.T) {
	for key, val := range map[string]string{
		"GEOIP_INITIAL_DELAY":   "soon",
		"GEOIP_ARCHIVE_EXTRACT": "maybe",
		"RATE_LIMIT_BURST":      "lots",
		"ALLOW_CIDRS":           "10.0.0.0/8,not-a-cidr",
	} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("GEOIP_DATABASE_PATH", "/x.mmdb")
			t.Setenv(key, val)
			_, err := Load("")
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestLoad_S3RequiresEndpoint(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEOIP_DATABASE_PATH", "/x.mmdb")
	t.Setenv("GEOIP_DOWNLOAD_URL", "s3://mirror/GeoLite2-City.mmdb.gz")
	_, err := Load("")
	require.ErrorIs(t, err, ErrConfig)

	t.Setenv("GEOIP_S3_ENDPOINT", "minio.internal:9000")
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "minio.internal:9000", s.S3.Endpoint)
}

func TestLoad_Dotenv(t *testing.T) {
	clearEnv(t)
	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(p, []byte("GEOIP_DATABASE_PATH=/from/dotenv.mmdb\n"), 0o644))
	DotenvFiles = []string{p}
	t.Cleanup(func() { _ = os.Unsetenv("GEOIP_DATABASE_PATH") })
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/from/dotenv.mmdb", s.DatabasePath)
}

func TestSettings_FetchHelpers(t *testing.T) {
	s := Defaults()
	assert.Nil(t, s.S3Options())
	assert.Contains(t, s.FetchUserAgent(), "geoip-api-updater/")

	s.UserAgent = "custom/1"
	s.S3 = S3{Endpoint: "minio:9000", Region: "us-east-1", UseSSL: true}
	assert.Equal(t, "custom/1", s.FetchUserAgent())
	o := s.S3Options()
	require.NotNil(t, o)
	assert.Equal(t, "minio:9000", o.Endpoint)
	assert.True(t, o.UseSSL)
}
