package submit

import (
	"fmt"
)

// Kind：提交失败分类
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindServer
	KindNetwork
	KindFallbackExhausted
	KindEncode
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server_error"
	case KindNetwork:
		return "network_error"
	case KindFallbackExhausted:
		return "fallback_exhausted"
	case KindEncode:
		return "encode_error"
	}
	return "unknown"
}

// Error：带分类的提交错误；FallbackExhausted 时 Err 为原始失败原因
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Status：提交结果状态
type Status int

const (
	StatusSuccess Status = iota
	StatusRecovered
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRecovered:
		return "recovered"
	}
	return "failed"
}

// 文档注释：一次提交的最终结果
// 约束：Success/Recovered 携带绝对跳转地址；Recovered 与 Failed 的 Err 记录触发兜底或失败的原因
type Outcome struct {
	Status         Status
	RedirectTarget string
	Err            error
}

func (o Outcome) OK() bool { return o.Status != StatusFailed }
