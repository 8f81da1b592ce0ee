package rag

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/viant/bintly"
)

const (
	// DefaultDimension all-MiniLM-L6-v2 输出维度
	DefaultDimension = 384

	indexMagic   = "KAIDX"
	indexVersion = 1
)

// Neighbor 一条近邻检索结果，Position 为向量在索引中的插入位置
type Neighbor struct {
	Distance float32
	Position int
	ID       string
}

// FlatIndex 暴力检索的平面索引，使用平方欧氏距离。
// 构建完成后只读，可被多个 goroutine 并发检索。
type FlatIndex struct {
	dim  int
	ids  []string
	data []float32 // 连续存放，第 i 个向量为 data[i*dim:(i+1)*dim]
}

// NewFlatIndex 创建指定维度的空索引
func NewFlatIndex(dim int) *FlatIndex {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &FlatIndex{dim: dim}
}

// Build 批量初始化索引，覆盖已有内容。维度取第一个向量的长度。
func (x *FlatIndex) Build(vectors [][]float32, ids []string) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("向量数量 %d 与 ID 数量 %d 不一致", len(vectors), len(ids))
	}
	if len(vectors) == 0 {
		x.ids = nil
		x.data = nil
		return nil
	}

	dim := len(vectors[0])
	if dim == 0 {
		return newError(KindDimensionMismatch, "index.build", fmt.Errorf("向量维度不能为 0"))
	}
	data := make([]float32, 0, dim*len(vectors))
	for i, vec := range vectors {
		if len(vec) != dim {
			return newError(KindDimensionMismatch, "index.build",
				fmt.Errorf("第 %d 个向量维度 %d, 期望 %d", i, len(vec), dim))
		}
		data = append(data, vec...)
	}

	x.dim = dim
	x.ids = append([]string(nil), ids...)
	x.data = data
	return nil
}

// Size 索引中的向量数
func (x *FlatIndex) Size() int {
	return len(x.ids)
}

// Dimension 向量维度
func (x *FlatIndex) Dimension() int {
	return x.dim
}

// IDAt 返回指定位置对应的外部 ID
func (x *FlatIndex) IDAt(position int) (string, bool) {
	if position < 0 || position >= len(x.ids) {
		return "", false
	}
	return x.ids[position], true
}

// Search 返回距离最近的 min(k, N) 个向量，按距离升序，距离相同按位置升序
func (x *FlatIndex) Search(query []float32, k int) ([]Neighbor, error) {
	n := len(x.ids)
	if n == 0 || k <= 0 {
		return []Neighbor{}, nil
	}
	if len(query) != x.dim {
		return nil, newError(KindDimensionMismatch, "index.search",
			fmt.Errorf("查询向量维度 %d, 索引维度 %d", len(query), x.dim))
	}
	if k > n {
		k = n
	}

	// 大顶堆保留当前最近的 k 个
	h := make(neighborHeap, 0, k)
	for pos := 0; pos < n; pos++ {
		d := squaredL2(query, x.data[pos*x.dim:(pos+1)*x.dim])
		if h.Len() < k {
			heap.Push(&h, Neighbor{Distance: d, Position: pos})
			continue
		}
		if closer(Neighbor{Distance: d, Position: pos}, h[0]) {
			h[0] = Neighbor{Distance: d, Position: pos}
			heap.Fix(&h, 0)
		}
	}

	results := []Neighbor(h)
	sort.Slice(results, func(i, j int) bool { return closer(results[i], results[j]) })
	for i := range results {
		results[i].ID = x.ids[results[i].Position]
	}
	return results, nil
}

// EncodeBinary 实现 bintly 编码
func (x *FlatIndex) EncodeBinary(stream *bintly.Writer) error {
	stream.String(indexMagic)
	stream.Int(indexVersion)
	stream.Int(x.dim)
	stream.Int(len(x.ids))
	stream.Strings(x.ids)
	stream.Float32s(x.data)
	return nil
}

// DecodeBinary 实现 bintly 解码，并校验各段长度
func (x *FlatIndex) DecodeBinary(stream *bintly.Reader) error {
	var magic string
	var version, dim, count int
	stream.String(&magic)
	if magic != indexMagic {
		return fmt.Errorf("索引文件标识不匹配: %q", magic)
	}
	stream.Int(&version)
	if version != indexVersion {
		return fmt.Errorf("不支持的索引文件版本: %d", version)
	}
	stream.Int(&dim)
	stream.Int(&count)
	if dim <= 0 || count < 0 {
		return fmt.Errorf("索引头部非法: dim=%d count=%d", dim, count)
	}

	var ids []string
	var data []float32
	stream.Strings(&ids)
	stream.Float32s(&data)
	if len(ids) != count || len(data) != count*dim {
		return fmt.Errorf("索引数据长度不一致: ids=%d vectors=%d dim=%d count=%d", len(ids), len(data), dim, count)
	}

	x.dim = dim
	x.ids = ids
	x.data = data
	return nil
}

// MarshalIndex 编码为字节
func MarshalIndex(x *FlatIndex) ([]byte, error) {
	writers := bintly.NewWriters()
	writer := writers.Get()
	defer writers.Put(writer)

	if err := x.EncodeBinary(writer); err != nil {
		return nil, err
	}
	data := writer.Bytes()
	return append([]byte(nil), data...), nil
}

// UnmarshalIndex 从字节解码，损坏的数据返回错误而不是 panic
func UnmarshalIndex(data []byte) (idx *FlatIndex, err error) {
	defer func() {
		if r := recover(); r != nil {
			idx = nil
			err = fmt.Errorf("索引数据损坏: %v", r)
		}
	}()

	readers := bintly.NewReaders()
	reader := readers.Get()
	defer readers.Put(reader)
	if err := reader.FromBytes(data); err != nil {
		return nil, fmt.Errorf("读取索引数据失败: %w", err)
	}

	idx = &FlatIndex{}
	if err := idx.DecodeBinary(reader); err != nil {
		return nil, err
	}
	return idx, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// closer a 是否排在 b 之前
func closer(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Position < b.Position
}

type neighborHeap []Neighbor

func (h neighborHeap) Len() int           { return len(h) }
func (h neighborHeap) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h neighborHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *neighborHeap) Push(x interface{}) {
	*h = append(*h, x.(Neighbor))
}

func (h *neighborHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
