package pipeline

import (
	"context"
	"fmt"
)

// Result 状态：批次里只要有失败又有成功就是 partial
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// Result 每个 agent 执行一步的统一返回
type Result struct {
	Status  string
	Message string
	Data    map[string]interface{}
}

// Agent 流水线里单一职责的读-生成-写步骤。
// 经编排器调用时不允许向上抛异常，错误一律折叠进 Result。
type Agent interface {
	Name() string
	Execute(ctx context.Context, projectID string) Result
}

func okResult(format string, args ...interface{}) Result {
	return Result{Status: StatusSuccess, Message: fmt.Sprintf(format, args...)}
}

func partialResult(format string, args ...interface{}) Result {
	return Result{Status: StatusPartial, Message: fmt.Sprintf(format, args...)}
}

func errResult(format string, args ...interface{}) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}
