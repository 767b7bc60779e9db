package domain

import "errors"

// 账本错误分类：授权失败与数据问题分开，便于监控区分"调用方配置错误"和"预言机故障"
var (
	// ErrUnauthorized 调用方不具备所需角色
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoPriceSet 尚未记录任何价格
	ErrNoPriceSet = errors.New("no price set")

	// ErrStaleData 最新价格超过心跳时长
	ErrStaleData = errors.New("stale data")

	// ErrIndexOutOfRange 历史区间超出已记录长度
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrUpstreamCallFailed 旧版预言机调用未完成
	ErrUpstreamCallFailed = errors.New("upstream call failed")

	// ErrInvalidOwner 新 owner 为空
	ErrInvalidOwner = errors.New("invalid owner")

	// ErrInvalidRole 未知角色
	ErrInvalidRole = errors.New("invalid role")

	// ErrLastAdmin 不允许撤销最后一个管理员
	ErrLastAdmin = errors.New("cannot revoke last admin")
)

// UpstreamError wraps a failed call to the legacy oracle.
// It matches both ErrUpstreamCallFailed and the underlying cause with errors.Is.
type UpstreamError struct {
	Op  string // "update_price", "transfer_ownership"
	Err error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return "upstream " + e.Op + ": " + ErrUpstreamCallFailed.Error()
	}
	return "upstream " + e.Op + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstreamCallFailed}
	}
	return []error{ErrUpstreamCallFailed, e.Err}
}

// NewUpstreamError creates an UpstreamError for op.
func NewUpstreamError(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Err: err}
}
