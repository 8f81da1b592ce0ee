package parsers

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// TextParser 纯文本与 Markdown
type TextParser struct{}

// NewTextParser 创建文本解析器
func NewTextParser() *TextParser {
	return &TextParser{}
}

// Parse 解析文本文件，非法 UTF-8 字节被替换
func (p *TextParser) Parse(reader io.Reader) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}

	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

func (p *TextParser) Extensions() []string {
	return []string{".txt", ".md", ".markdown"}
}

func (p *TextParser) MimeTypes() []string {
	return []string{"text/plain", "text/markdown", "text/x-markdown"}
}
