package errors

import (
	stdErrors "errors"
	"fmt"
	"sort"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志与事件。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
//
// Terminal 表示一旦在运行阶段出现，该次执行必须直接进入 Failed，
// Local 表示错误只影响调用方（表单字段、启动请求），不会改变执行状态。
type Attributes struct {
	Message  string
	Severity Severity
	Terminal bool
	Local    bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
	CodeForbidden             Code = "FORBIDDEN"
	CodeRateLimited           Code = "RATE_LIMITED"

	CodeValidation          Code = "VALIDATION_FAILED"
	CodeResolution          Code = "RESOLUTION_FAILED"
	CodeQuoteUnavailable    Code = "QUOTE_UNAVAILABLE"
	CodeNoQuote             Code = "NO_QUOTE"
	CodeNetworkSwitch       Code = "NETWORK_SWITCH_FAILED"
	CodeNetworkNotFound     Code = "NETWORK_NOT_CONFIGURED"
	CodeTransactionRejected Code = "TRANSACTION_REJECTED"
	CodeContractReverted    Code = "CONTRACT_REVERTED"
	CodeConfirmationTimeout Code = "CONFIRMATION_TIMEOUT"
	CodeNoAccount           Code = "NO_FUNDING_ACCOUNT"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Terminal: true},
		CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo, Local: true},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo, Local: true},
		CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning, Local: true},
		CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning},
		CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Terminal: true},
		CodeForbidden:             {Message: "operation not permitted", Severity: SeverityInfo, Local: true},
		CodeRateLimited:           {Message: "too many requests", Severity: SeverityInfo, Local: true},

		CodeValidation:          {Message: "graph validation failed", Severity: SeverityInfo, Local: true},
		CodeResolution:          {Message: "name resolution failed", Severity: SeverityInfo, Local: true},
		CodeQuoteUnavailable:    {Message: "quote unavailable", Severity: SeverityWarning, Local: true},
		CodeNoQuote:             {Message: "no quote for this amount", Severity: SeverityInfo, Local: true},
		CodeNetworkSwitch:       {Message: "network switch failed", Severity: SeverityWarning, Terminal: true},
		CodeNetworkNotFound:     {Message: "network not configured", Severity: SeverityInfo},
		CodeTransactionRejected: {Message: "transaction rejected", Severity: SeverityInfo, Terminal: true},
		CodeContractReverted:    {Message: "execution reverted", Severity: SeverityWarning, Terminal: true},
		CodeConfirmationTimeout: {Message: "confirmation timed out", Severity: SeverityWarning, Terminal: true},
		CodeNoAccount:           {Message: "no funding account attached", Severity: SeverityInfo, Local: true},
		CodeInvalidTransition:   {Message: "invalid state transition", Severity: SeverityInfo, Local: true},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Codes 返回所有已注册的错误码，按字典序排列。
func Codes() []Code {
	registryMu.RLock()
	defer registryMu.RUnlock()
	codes := make([]Code, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	severity *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf 使用格式化字符串创建错误。
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含错误码前缀的可读信息。对于合约回滚，这里保存的是原始回滚原因。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Terminal 判断错误在执行阶段是否终止本次运行。
func (e *Error) Terminal() bool {
	if e == nil {
		return false
	}
	return AttributesOf(e.code).Terminal
}

// Local 判断错误是否只影响调用方。
func (e *Error) Local() bool {
	if e == nil {
		return false
	}
	return AttributesOf(e.code).Local
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HasCode 判断错误链中是否包含指定错误码。
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, &Error{code: code})
}

// Reason 返回适合直接展示给用户的失败原因。
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := From(err); ok {
		return e.Message()
	}
	return err.Error()
}

// IsTerminal 判断任意 error 在执行阶段是否终止运行。未编码的错误一律视为终止。
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := From(err); ok {
		return e.Terminal()
	}
	return true
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
