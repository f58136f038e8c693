// 包 version：构建信息，由 -ldflags "-X geoip-api/internal/version.Commit=<sha>" 注入
package version

// Commit：构建时的提交号；本地构建为 dev
var Commit = "dev"

// UserAgent 返回下载查询库时使用的默认 User-Agent
func UserAgent() string { return "geoip-api-updater/" + Commit }
