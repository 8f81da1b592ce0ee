package rag

import (
	"errors"
	"fmt"
)

// ErrorKind 检索引擎错误分类
type ErrorKind string

const (
	KindEmptyInput        ErrorKind = "EmptyInput"
	KindDimensionMismatch ErrorKind = "DimensionMismatch"
	KindIndexUnavailable  ErrorKind = "IndexUnavailable"
	KindStoreFailure      ErrorKind = "StoreFailure"
	KindRetrievalFailure  ErrorKind = "RetrievalFailure"
	KindGenerationFailure ErrorKind = "GenerationFailure"
)

// Error 带分类的错误，Op 记录出错的操作
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 支持 errors.Is(err, &Error{Kind: ...}) 按分类匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf 返回错误链上第一个 *Error 的分类，没有则返回空
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind 判断错误是否属于指定分类
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

var errEmptyQuestion = errors.New("问题不能为空")
