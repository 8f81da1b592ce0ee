package parsers

import (
	"errors"
	"io"
)

// ErrEmptyDocument 解析后没有可用文本
var ErrEmptyDocument = errors.New("文档内容为空")

// ErrUnsupportedType 没有匹配的解析器
var ErrUnsupportedType = errors.New("不支持的文件类型")

// Parser 把上传的文件转换为纯文本，供分块与向量化使用
type Parser interface {
	// Parse 读取全部内容并返回纯文本
	Parse(reader io.Reader) (string, error)
	// Extensions 支持的扩展名，如 ".txt"
	Extensions() []string
	// MimeTypes 支持的 MIME 类型
	MimeTypes() []string
}
