package command

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/engine"
	"DefiFlow/internal/flow"
)

// Type 表示命令类型。
type Type string

// 支持的命令类型
const (
	TypeStart Type = "start"
	TypeStop  Type = "stop"
	TypeReset Type = "reset"
)

// Valid 判断命令类型是否受支持。
func (t Type) Valid() bool {
	switch t {
	case TypeStart, TypeStop, TypeReset:
		return true
	}
	return false
}

// Command 是进入执行引擎的唯一入口消息。
type Command struct {
	ID       string      `json:"id"`
	Type     Type        `json:"type"`
	Graph    *flow.Graph `json:"graph,omitempty"`
	IssuedAt time.Time   `json:"issuedAt"`
}

// Validate 检查命令是否完整。
func (c Command) Validate() error {
	if !c.Type.Valid() {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "未知命令类型: %q", c.Type)
	}
	if c.Type == TypeStart && c.Graph == nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "start 命令必须携带工作流图")
	}
	return nil
}

// Encode 序列化命令，用于写入队列。
func Encode(c Command) ([]byte, error) {
	return json.Marshal(c)
}

// Decode 反序列化队列中的命令。
func Decode(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("解析命令失败: %w", err)
	}
	return c, nil
}

// Outcome 记录命令的执行结果。
type Outcome struct {
	CommandID string         `json:"commandId"`
	Type      Type           `json:"type"`
	State     engine.State   `json:"state"`
	Code      apperrors.Code `json:"code,omitempty"`
	Message   string         `json:"message,omitempty"`
	Err       error          `json:"-"`
	At        time.Time      `json:"at"`
}

func newOutcome(c Command, state engine.State, err error) Outcome {
	o := Outcome{CommandID: c.ID, Type: c.Type, State: state, Err: err, At: time.Now().UTC()}
	if err != nil {
		o.Code = apperrors.CodeOf(err)
		o.Message = apperrors.Reason(err)
	}
	return o
}
