package fetch

import (
	"errors"
	"fmt"
)

// Kind 区分错误来源，便于调用方决定是否重试或降级。
type Kind string

const (
	KindCancelled  Kind = "cancelled"
	KindHTTPStatus Kind = "http_status"
	KindTransport  Kind = "transport_failure"
	KindDecode     Kind = "decode_failure"
)

const (
	// CodeCancelled 是取消传输时使用的固定错误码。
	CodeCancelled = -999
	// CodeTransportFailure 标记连接层失败（DNS、TLS、超时等）。
	CodeTransportFailure = -1
	// CodeDecodeFailure 标记字节无法解码为 Asset。
	CodeDecodeFailure = -2
)

// ErrCancelled 可与 errors.Is 搭配判断取消。
var ErrCancelled = errors.New("fetch cancelled")

// Error 是回调中唯一的错误类型。Code 在 HTTP 状态错误时为状态码。
type Error struct {
	Kind Kind
	Code int
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("fetch: http status %d", e.Code)
	case KindCancelled:
		return "fetch: cancelled"
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrCancelled) 对取消错误成立。
func (e *Error) Is(target error) bool {
	return target == ErrCancelled && e.Kind == KindCancelled
}

func cancelledError() *Error {
	return &Error{Kind: KindCancelled, Code: CodeCancelled}
}

func statusError(code int) *Error {
	return &Error{Kind: KindHTTPStatus, Code: code}
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Code: CodeTransportFailure, Err: err}
}

func decodeError(err error) *Error {
	return &Error{Kind: KindDecode, Code: CodeDecodeFailure, Err: err}
}

// Code 提取错误码；非 *Error 返回 0。
func Code(err error) int {
	var fetchErr *Error
	if errors.As(err, &fetchErr) {
		return fetchErr.Code
	}
	return 0
}

func isSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}
