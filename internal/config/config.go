// 包 config：汇总服务配置；来源优先级从低到高为 默认值 < YAML 文件 < .env < 进程环境变量
package config

import (
	"bytes"
	"errors"
	"fmt"
	"geoip-api/internal/artifact"
	"geoip-api/internal/geoip"
	"geoip-api/internal/version"
	"io"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfig：配置缺失或非法；与 geoip.ErrConfig 为同一哨兵，进程应拒绝启动
var ErrConfig = geoip.ErrConfig

// DotenvFiles：按顺序尝试加载的 .env 文件；已存在的环境变量不会被覆盖
var DotenvFiles = []string{".env", filepath.Join("data", "env", ".env")}

// S3：s3:// 定位符使用的对象存储连接参数
type S3 struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// HTTP：对外查询接口
type HTTP struct {
	Addr           string   `yaml:"addr"`
	APIBase        string   `yaml:"api_base"`
	AdminToken     string   `yaml:"admin_token"`
	TLSEnable      bool     `yaml:"tls_enable"`
	TLSCertPath    string   `yaml:"tls_cert_path"`
	TLSKeyPath     string   `yaml:"tls_key_path"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	AllowCIDRs     []string `yaml:"allow_cidrs"`
}

// 文档注释：服务配置
// 背景：数据库路径为唯一必填项；下载地址缺失时刷新被跳过，调度缺失时只在启动时刷新一次。
type Settings struct {
	DatabasePath   string        `yaml:"database_path"`
	DownloadURL    string        `yaml:"download_url"`
	UpdateSchedule string        `yaml:"update_schedule"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	Locale         string        `yaml:"locale"`
	ArchiveExtract bool          `yaml:"archive_extract"`
	WatchFile      bool          `yaml:"watch_file"`
	UserAgent      string        `yaml:"user_agent"`
	TempDir        string        `yaml:"temp_dir"`
	RedisEnable    bool          `yaml:"redis_enable"`
	StatsEnable    bool          `yaml:"stats_enable"`
	S3             S3            `yaml:"s3"`
	HTTP           HTTP          `yaml:"http"`
}

// Defaults 返回内置默认值
func Defaults() Settings {
	return Settings{
		InitialDelay: 15 * time.Second,
		Locale:       "en",
		HTTP: HTTP{
			Addr:           ":8080",
			APIBase:        "/api",
			TLSCertPath:    filepath.Join("data", "certs", "server.crt"),
			TLSKeyPath:     filepath.Join("data", "certs", "server.key"),
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
	}
}

// 文档注释：加载配置
// 背景：path 为空时跳过 YAML；随后加载 DotenvFiles 并以环境变量覆盖，最后统一校验。
// 异常：文件不可读、YAML 含未知字段、环境变量无法解析、校验失败均返回包装 ErrConfig 的 error。
func Load(path string) (*Settings, error) {
	s := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
		}
		if err := decodeYAML(b, &s); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
		}
	}
	for _, f := range DotenvFiles {
		_ = godotenv.Load(f)
	}
	if err := s.applyEnv(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func decodeYAML(b []byte, s *Settings) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Settings) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}
	str("GEOIP_DATABASE_PATH", &s.DatabasePath)
	str("GEOIP_DOWNLOAD_URL", &s.DownloadURL)
	str("GEOIP_UPDATE_CRON", &s.UpdateSchedule)
	if v := os.Getenv("GEOIP_INITIAL_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("GEOIP_INITIAL_DELAY: %v", err))
		} else {
			s.InitialDelay = d
		}
	}
	str("GEOIP_LOCALE", &s.Locale)
	boolean("GEOIP_ARCHIVE_EXTRACT", &s.ArchiveExtract)
	boolean("GEOIP_WATCH_FILE", &s.WatchFile)
	str("GEOIP_USER_AGENT", &s.UserAgent)
	str("GEOIP_TEMP_DIR", &s.TempDir)
	boolean("REDIS_ENABLE", &s.RedisEnable)
	boolean("STATS_ENABLE", &s.StatsEnable)

	str("GEOIP_S3_ENDPOINT", &s.S3.Endpoint)
	str("GEOIP_S3_ACCESS_KEY", &s.S3.AccessKey)
	str("GEOIP_S3_SECRET_KEY", &s.S3.SecretKey)
	str("GEOIP_S3_REGION", &s.S3.Region)
	boolean("GEOIP_S3_USE_SSL", &s.S3.UseSSL)

	str("ADDR", &s.HTTP.Addr)
	str("API_BASE", &s.HTTP.APIBase)
	str("ADMIN_TOKEN", &s.HTTP.AdminToken)
	boolean("TLS_ENABLE", &s.HTTP.TLSEnable)
	str("TLS_CERT_PATH", &s.HTTP.TLSCertPath)
	str("TLS_KEY_PATH", &s.HTTP.TLSKeyPath)
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: %v", err))
		} else {
			s.HTTP.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST: %v", err))
		} else {
			s.HTTP.RateLimitBurst = n
		}
	}
	if v, ok := os.LookupEnv("ALLOW_CIDRS"); ok {
		s.HTTP.AllowCIDRs = splitList(v)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrConfig, errors.Join(errs...))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// 文档注释：校验配置
// 约束：数据库路径必填；s3:// 下载地址要求配置 endpoint；限流参数非负；放行网段需为合法 CIDR。
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.DatabasePath) == "" {
		return fmt.Errorf("%w: database_path (GEOIP_DATABASE_PATH) is required", ErrConfig)
	}
	if s.InitialDelay < 0 {
		return fmt.Errorf("%w: initial_delay must not be negative", ErrConfig)
	}
	if s.Locale == "" {
		s.Locale = "en"
	}
	if s.DownloadURL != "" {
		u, err := url.Parse(s.DownloadURL)
		if err != nil {
			return fmt.Errorf("%w: download_url: %v", ErrConfig, err)
		}
		if strings.EqualFold(u.Scheme, "s3") && s.S3.Endpoint == "" {
			return fmt.Errorf("%w: s3 download_url requires s3.endpoint (GEOIP_S3_ENDPOINT)", ErrConfig)
		}
	}
	if s.HTTP.RateLimitRPS < 0 || s.HTTP.RateLimitBurst < 0 {
		return fmt.Errorf("%w: rate limit values must not be negative", ErrConfig)
	}
	for _, c := range s.HTTP.AllowCIDRs {
		if _, err := netip.ParsePrefix(c); err != nil {
			return fmt.Errorf("%w: allow_cidrs: %v", ErrConfig, err)
		}
	}
	if !strings.HasPrefix(s.HTTP.APIBase, "/") {
		s.HTTP.APIBase = "/" + s.HTTP.APIBase
	}
	s.HTTP.APIBase = strings.TrimRight(s.HTTP.APIBase, "/")
	return nil
}

// FetchUserAgent 返回下载使用的 User-Agent，未配置时带上构建版本
func (s *Settings) FetchUserAgent() string {
	if s.UserAgent != "" {
		return s.UserAgent
	}
	return version.UserAgent()
}

// S3Options 在配置了 endpoint 时返回对象存储参数，否则返回 nil
func (s *Settings) S3Options() *artifact.S3Options {
	if s.S3.Endpoint == "" {
		return nil
	}
	return &artifact.S3Options{
		Endpoint:  s.S3.Endpoint,
		AccessKey: s.S3.AccessKey,
		SecretKey: s.S3.SecretKey,
		Region:    s.S3.Region,
		UseSSL:    s.S3.UseSSL,
	}
}
