package rag

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

// sentenceBoundaries 句子边界，按最靠后的匹配位置取值
var sentenceBoundaries = [][2]rune{{'.', ' '}, {'!', ' '}, {'?', ' '}, {'\n', '\n'}}

// TokenCounter 统计文本 Token 数
type TokenCounter func(text string) int

// Chunker 文档分块器
type Chunker struct {
	ChunkSize    int // 分块大小(字符数)
	ChunkOverlap int // 重叠窗口(字符数)

	countTokens TokenCounter
}

// NewChunker 创建新的分块器
// chunkSize: 每个分块的字符数
// chunkOverlap: 相邻分块之间向前回看寻找句子边界的字符数
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}

	return &Chunker{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		countTokens:  estimateTokenCount,
	}
}

// WithTokenCounter 替换 Token 计数方式
func (c *Chunker) WithTokenCounter(counter TokenCounter) *Chunker {
	if counter != nil {
		c.countTokens = counter
	}
	return c
}

// ChunkResult 分块结果
type ChunkResult struct {
	Content     string // 分块内容(已去除首尾空白)
	ChunkIndex  int    // 分块索引(从0开始)
	TokenCount  int    // Token数量
	ContentHash string // 内容哈希(SHA256)
}

// Split 对文档分块并补充索引、哈希与 Token 数
func (c *Chunker) Split(content string) []ChunkResult {
	pieces := Chunk(content, c.ChunkSize, c.ChunkOverlap)
	results := make([]ChunkResult, len(pieces))
	for i, piece := range pieces {
		results[i] = ChunkResult{
			Content:     piece,
			ChunkIndex:  i,
			TokenCount:  c.countTokens(piece),
			ContentHash: hashContent(piece),
		}
	}
	return results
}

// Chunk 按滑动窗口切分文本，尽量让分块的起止落在句子边界上。
// 空白输入返回空结果。位置按字符(rune)计算。
// 起点回退到重叠窗口内的边界时终点不动，所以单块最长可到 size+overlap。
func Chunk(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	step := size / 2
	if step < 1 {
		step = 1
	}

	runes := []rune(text)
	textLen := len(runes)
	maxChunks := textLen / 50
	chunks := make([]string, 0, textLen/size+1)

	start := 0
	for start < textLen {
		end := start + size
		if end > textLen {
			end = textLen
		}
		piece := runes[start:end]
		origin := start

		// 非首块: 在重叠窗口内寻找最后一个句子边界，把起点对齐到边界之后
		if start > 0 && start >= overlap {
			if best := lastBoundary(runes[start-overlap : start]); best != -1 {
				start = start - overlap + best + 2
				piece = runes[start:end]
			}
		}

		// 非末块: 把终点回拉到块内最后一个句子边界，回拉后仍需越过窗口起点
		if end < textLen {
			if best := lastBoundary(piece); best != -1 && start+best+2 > origin {
				piece = piece[:best+2]
			}
		}

		leading := 0
		for leading < len(piece) && unicode.IsSpace(piece[leading]) {
			leading++
		}
		content := strings.TrimSpace(string(piece))
		// 前导空白计入前进距离；完全落在已覆盖区域内的块不再重复输出
		chunkEnd := start + leading + utf8.RuneCountInString(content)
		if content != "" && chunkEnd > origin {
			chunks = append(chunks, content)
		}

		next := chunkEnd
		if next <= origin {
			next = start + len(piece)
		}
		if next <= origin {
			next = origin + step
		}
		start = next

		if len(chunks) > maxChunks {
			break
		}
	}

	return chunks
}

// lastBoundary 返回任一句子边界在 text 中最后出现的位置，没有则返回 -1
func lastBoundary(text []rune) int {
	for i := len(text) - 2; i >= 0; i-- {
		for _, sep := range sentenceBoundaries {
			if text[i] == sep[0] && text[i+1] == sep[1] {
				return i
			}
		}
	}
	return -1
}

// estimateTokenCount 估算Token数量
// 简单规则: 英文按单词数, 中文按字符数/1.5
func estimateTokenCount(text string) int {
	wordCount := len(strings.Fields(text))

	chineseCount := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			chineseCount++
		}
	}

	return wordCount + int(float64(chineseCount)/1.5)
}

// NewTiktokenCounter 基于 tiktoken 的 Token 计数器，模型未知时回退 cl100k_base
func NewTiktokenCounter(model string) (TokenCounter, error) {
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("加载 tiktoken 编码失败: %w", err)
		}
	}

	var mu sync.Mutex
	return func(text string) int {
		mu.Lock()
		defer mu.Unlock()
		return len(tkm.Encode(text, nil, nil))
	}, nil
}

// hashContent 计算内容哈希
func hashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)
}
