package parsers

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

var (
	htmlDropRegex    = regexp.MustCompile(`(?is)<(script|style|nav|header|footer|aside|noscript)[^>]*>.*?</(script|style|nav|header|footer|aside|noscript)>`)
	htmlCommentRegex = regexp.MustCompile(`(?s)<!--.*?-->`)
	htmlBlockRegex   = regexp.MustCompile(`(?i)</(p|div|section|article|h[1-6]|li|tr)>|<(br|hr)\s*/?>`)
	htmlTagRegex     = regexp.MustCompile(`<[^>]+>`)
	htmlSpaceRegex   = regexp.MustCompile(`[ \t]+`)
	htmlNewlineRegex = regexp.MustCompile(`\n\s*\n+`)
	htmlMainRegexes  = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<main[^>]*>(.*?)</main>`),
		regexp.MustCompile(`(?is)<article[^>]*>(.*?)</article>`),
		regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`),
	}
)

// HTMLParser 提取网页正文
type HTMLParser struct{}

// NewHTMLParser 创建 HTML 解析器
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{}
}

// Parse 优先取 main/article/body 中的内容，去掉脚本样式与导航
func (p *HTMLParser) Parse(reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取 HTML 失败: %w", err)
	}

	doc := string(data)
	for _, re := range htmlMainRegexes {
		if m := re.FindStringSubmatch(doc); len(m) > 1 {
			doc = m[1]
			break
		}
	}

	doc = htmlDropRegex.ReplaceAllString(doc, "")
	doc = htmlCommentRegex.ReplaceAllString(doc, "")
	doc = htmlBlockRegex.ReplaceAllString(doc, "\n")
	doc = htmlTagRegex.ReplaceAllString(doc, " ")
	doc = html.UnescapeString(doc)
	doc = htmlSpaceRegex.ReplaceAllString(doc, " ")
	doc = htmlNewlineRegex.ReplaceAllString(doc, "\n\n")

	text := strings.TrimSpace(doc)
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

func (p *HTMLParser) Extensions() []string {
	return []string{".html", ".htm"}
}

func (p *HTMLParser) MimeTypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}
