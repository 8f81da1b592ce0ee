package parsers

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
)

// Registry 按扩展名或 MIME 类型选择解析器
type Registry struct {
	byExt  map[string]Parser
	byMime map[string]Parser
}

// NewRegistry 创建注册表并注册内置解析器
func NewRegistry() *Registry {
	r := &Registry{
		byExt:  make(map[string]Parser),
		byMime: make(map[string]Parser),
	}
	r.Register(NewTextParser())
	r.Register(NewPDFParser())
	r.Register(NewHTMLParser())
	return r
}

// Register 注册解析器，后注册的覆盖先注册的
func (r *Registry) Register(p Parser) {
	for _, ext := range p.Extensions() {
		r.byExt[strings.ToLower(ext)] = p
	}
	for _, mt := range p.MimeTypes() {
		r.byMime[strings.ToLower(mt)] = p
	}
}

// Lookup 先按 MIME 类型查找，再按文件扩展名查找
func (r *Registry) Lookup(fileName, mimeType string) (Parser, bool) {
	if mimeType != "" {
		if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
			if p, ok := r.byMime[strings.ToLower(mediaType)]; ok {
				return p, true
			}
		}
	}
	p, ok := r.byExt[strings.ToLower(filepath.Ext(fileName))]
	return p, ok
}

// Parse 选择合适的解析器解析文件，返回文本与实际使用的 MIME 类型
func (r *Registry) Parse(fileName, mimeType string, reader io.Reader) (string, string, error) {
	p, ok := r.Lookup(fileName, mimeType)
	if !ok {
		return "", "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, filepath.Ext(fileName), mimeType)
	}
	resolved := p.MimeTypes()[0]
	text, err := p.Parse(reader)
	if err != nil {
		return "", resolved, err
	}
	return text, resolved, nil
}

// Supported 全部支持的扩展名
func (r *Registry) Supported() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}
