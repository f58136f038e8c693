package geoip

import (
	"errors"
	"fmt"
)

// 查询侧错误：调用方错误与“无记录”均不属于刷新失败，不会重试
var (
	ErrInvalidInput = errors.New("geoip: invalid ip address")
	ErrNotFound     = errors.New("geoip: address not found")
	// ErrNotLoaded：尚未安装任何数据库；errors.Is(err, ErrNotFound) 同样成立
	ErrNotLoaded = fmt.Errorf("%w: database not loaded", ErrNotFound)
)

// 刷新侧错误种类：均只记录日志并放弃本次刷新，当前数据库保持可用
var (
	ErrNetwork           = errors.New("geoip: network error")
	ErrUnsupportedFormat = errors.New("geoip: unsupported artifact format")
	ErrCorruptArtifact   = errors.New("geoip: corrupt artifact")
	ErrOpen              = errors.New("geoip: open database failed")
	ErrInstall           = errors.New("geoip: install database failed")
	ErrCanceled          = errors.New("geoip: refresh canceled")
)

// 文档注释：刷新失败错误
// 背景：Kind 为上面的种类哨兵，Err 为底层原因；Unwrap 同时暴露两者，
// 调用方可以 errors.Is(err, ErrNetwork) 判断种类，也可以 errors.Is(err, context.Canceled) 判断原因。
type RefreshError struct {
	Kind error
	Err  error
}

func (e *RefreshError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *RefreshError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func refreshErr(kind, err error) *RefreshError { return &RefreshError{Kind: kind, Err: err} }
