package geoip

import (
	"errors"
	"time"
)

// Status：一次刷新尝试的结果类别
type Status int

const (
	StatusSuccess Status = iota
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// 文档注释：刷新结果
// 背景：仅用于日志与指标，不持久化；Skipped 时 Reason 说明原因，Failed 时 Err 为 *RefreshError。
type Outcome struct {
	Status     Status
	Reason     string
	Err        error
	Path       string
	BuildEpoch uint
	Duration   time.Duration
}

func skipped(reason string) Outcome { return Outcome{Status: StatusSkipped, Reason: reason} }

// Kind 返回失败种类的短名，用作指标标签；非失败返回空串
func (o Outcome) Kind() string {
	if o.Status != StatusFailed {
		return ""
	}
	switch {
	case errors.Is(o.Err, ErrCanceled):
		return "canceled"
	case errors.Is(o.Err, ErrNetwork):
		return "network"
	case errors.Is(o.Err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(o.Err, ErrCorruptArtifact):
		return "corrupt_artifact"
	case errors.Is(o.Err, ErrOpen):
		return "open"
	case errors.Is(o.Err, ErrInstall):
		return "install"
	}
	return "unknown"
}
