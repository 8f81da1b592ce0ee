package rag

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestIndex(t *testing.T) *FlatIndex {
	t.Helper()
	idx := NewFlatIndex(2)
	require.NoError(t, idx.Build(
		[][]float32{{0, 0}, {1, 0}, {0, 2}, {3, 3}, {1, 0}},
		[]string{"a", "b", "c", "d", "e"},
	))
	return idx
}

func TestFlatIndex_SearchOrdersByDistance(t *testing.T) {
	idx := buildTestIndex(t)

	got, err := idx.Search([]float32{0.9, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// b 与 e 距离相同，按插入位置排序
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "e", got[1].ID)
	assert.Equal(t, "a", got[2].ID)
	assert.InDelta(t, 0.01, got[0].Distance, 1e-6)
	assert.InDelta(t, 0.81, got[2].Distance, 1e-6)
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i].Distance < got[j].Distance }))
}

func TestFlatIndex_SearchReturnsMinKN(t *testing.T) {
	idx := buildTestIndex(t)
	for _, k := range []int{1, 5, 10} {
		got, err := idx.Search([]float32{0, 0}, k)
		require.NoError(t, err)
		assert.Len(t, got, min(k, idx.Size()))
		for i, n := range got {
			id, ok := idx.IDAt(n.Position)
			require.True(t, ok)
			assert.Equal(t, id, got[i].ID)
		}
	}
}

func TestFlatIndex_EmptyIndex(t *testing.T) {
	idx := NewFlatIndex(0)
	assert.Equal(t, DefaultDimension, idx.Dimension())

	require.NoError(t, idx.Build(nil, nil))
	got, err := idx.Search(make([]float32, 3), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFlatIndex_BuildValidation(t *testing.T) {
	idx := NewFlatIndex(2)
	assert.Error(t, idx.Build([][]float32{{1, 2}}, []string{"a", "b"}))

	err := idx.Build([][]float32{{1, 2}, {1, 2, 3}}, []string{"a", "b"})
	assert.True(t, IsKind(err, KindDimensionMismatch))
	assert.Equal(t, 0, idx.Size())
}

func TestFlatIndex_QueryDimensionMismatch(t *testing.T) {
	idx := buildTestIndex(t)
	_, err := idx.Search([]float32{1, 2, 3}, 1)
	assert.True(t, IsKind(err, KindDimensionMismatch))
}

func TestIndexCodec_RoundTripPreservesSearch(t *testing.T) {
	idx := buildTestIndex(t)
	data, err := MarshalIndex(idx)
	require.NoError(t, err)

	loaded, err := UnmarshalIndex(data)
	require.NoError(t, err)
	assert.Equal(t, idx.Size(), loaded.Size())
	assert.Equal(t, idx.Dimension(), loaded.Dimension())

	for _, q := range [][]float32{{0, 0}, {2, 2}, {-1, 5}} {
		want, err := idx.Search(q, 4)
		require.NoError(t, err)
		got, err := loaded.Search(q, 4)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestIndexCodec_RejectsCorruptData(t *testing.T) {
	data, err := MarshalIndex(buildTestIndex(t))
	require.NoError(t, err)

	_, err = UnmarshalIndex(data[:len(data)/2])
	assert.Error(t, err)

	_, err = UnmarshalIndex([]byte("definitely not an index"))
	assert.Error(t, err)
}

func TestIndexArtifact_WriteRead(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "faiss_index.bin")
	artifact := NewIndexArtifact(path)

	idx := buildTestIndex(t)
	require.NoError(t, artifact.Write(ctx, idx))
	// 覆盖写入
	require.NoError(t, artifact.Write(ctx, idx))

	loaded, err := artifact.Read(ctx)
	require.NoError(t, err)
	want, _ := idx.Search([]float32{1, 1}, 5)
	got, _ := loaded.Search([]float32{1, 1}, 5)
	assert.Equal(t, want, got)
}

func TestIndexArtifact_WriteLeavesOnlyFinalFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, name := range []string{"faiss_index.bin", "index"} {
		artifact := NewIndexArtifact(filepath.Join(dir, name))
		require.NoError(t, artifact.Write(ctx, buildTestIndex(t)))
		require.NoError(t, artifact.Write(ctx, buildTestIndex(t)))

		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.False(t, info.IsDir(), name)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"faiss_index.bin", "index"}, names)
}

func TestIndexArtifact_MissingOrCorrupt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := NewIndexArtifact(filepath.Join(dir, "missing.bin")).Read(ctx)
	assert.True(t, IsKind(err, KindIndexUnavailable))

	corrupt := filepath.Join(dir, "corrupt.bin")
	require.NoError(t, os.WriteFile(corrupt, []byte{0x01, 0x02, 0x03}, 0o644))
	_, err = NewIndexArtifact(corrupt).Read(ctx)
	assert.True(t, IsKind(err, KindIndexUnavailable))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity(0))
	prev := Similarity(0)
	for _, d := range []float32{0.1, 0.5, 1, 4, 100, 1e6} {
		s := Similarity(d)
		assert.Greater(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
		assert.Less(t, s, prev)
		prev = s
	}
}
