package session

import (
	"errors"
	"fmt"
)

// FailureKind 失败分类
// 前四类是致命错误并导致终态Error；上传和解码失败是可恢复的，
// 只在来源处记日志吞掉，绝不升级为致命
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailurePermissionDenied 设备访问被拒或安全上下文不可用
	FailurePermissionDenied
	// FailurePolicyViolation 屏幕共享表面错误或缺少共享音频
	FailurePolicyViolation
	// FailureAlreadyCompleted 该职位/候选人的会话已结束过，需独立UI文案
	FailureAlreadyCompleted
	// FailureChannel 未经end_session的意外通道关闭或错误
	FailureChannel
	// FailureUpload 录像或标定图上传失败（非致命）
	FailureUpload
	// FailureDecode 单个音频块解码失败（非致命，丢弃后继续）
	FailureDecode
	// FailureInternal 其他未分类的致命失败（注册被拒、校验失败等）
	FailureInternal
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "NONE"
	case FailurePermissionDenied:
		return "PERMISSION_DENIED"
	case FailurePolicyViolation:
		return "POLICY_VIOLATION"
	case FailureAlreadyCompleted:
		return "ALREADY_COMPLETED"
	case FailureChannel:
		return "CHANNEL_FAILURE"
	case FailureUpload:
		return "UPLOAD_FAILURE"
	case FailureDecode:
		return "DECODE_FAILURE"
	case FailureInternal:
		return "INTERNAL_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Failure 带分类的会话失败
type Failure struct {
	Kind    FailureKind
	Message string // 面向用户的修复提示文案
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure 创建分类失败
func NewFailure(kind FailureKind, message string, err error) *Failure {
	return &Failure{Kind: kind, Message: message, Err: err}
}

// KindOf 提取错误的失败分类，非Failure错误返回FailureInternal
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	return FailureInternal
}
