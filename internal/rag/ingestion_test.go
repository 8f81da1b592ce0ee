package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestion_EmptyContent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	e.ingest(t, "Animals", "Cats are mammals.")
	before := e.index.Size()

	doc := &Document{Title: "Blank", Content: "  \n "}
	res, err := e.ingestion.IngestDocument(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Chunks)
	assert.Equal(t, before, res.IndexSize)
	assert.Equal(t, before, e.index.Size())

	stored, err := e.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, DocumentStatusIndexed, stored.Status)
	assert.Equal(t, 0, stored.ChunkCount)
}

func TestIngestion_ReingestReplacesChunks(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	doc := e.ingest(t, "Notes", strings.Repeat("Old sentence here. ", 150))

	first, err := e.store.CountChunks(ctx)
	require.NoError(t, err)
	require.Greater(t, first, int64(1))

	doc.Content = "Fresh content only."
	res, err := e.ingestion.IngestDocument(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.True(t, res.Rebuilt)

	count, err := e.store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, e.index.Size())

	r, err := e.retriever.Search(ctx, "old sentence", 3)
	require.NoError(t, err)
	require.Len(t, r.Results, 1)
	assert.Equal(t, "Fresh content only.", r.Results[0].Content)
}

func TestIngestion_IdentityResolution(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	a := &Document{Title: "Report", ExternalID: "drive-42", Content: "Quarterly numbers went up."}
	_, err := e.ingestion.IngestDocument(ctx, a)
	require.NoError(t, err)

	b := &Document{Title: "Report v2", ExternalID: "drive-42", Content: "Quarterly numbers went down."}
	_, err = e.ingestion.IngestDocument(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	docs, total, err := e.store.ListDocuments(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, docs, 1)
	assert.Equal(t, "Report v2", docs[0].Title)

	_, err = e.ingestion.IngestDocument(ctx, &Document{ID: "not-a-uuid", Content: "x"})
	assert.True(t, IsKind(err, KindEmptyInput))

	_, err = e.ingestion.IngestDocument(ctx, nil)
	assert.True(t, IsKind(err, KindEmptyInput))
}

func TestIngestion_StoreFailureKeepsPriorChunks(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	doc := e.ingest(t, "Animals", "Cats are mammals.")

	e.ingestion.chunks = &failingChunkStore{ChunkStore: e.store, replaceErr: errBoom}
	_, err := e.ingestion.IngestDocument(ctx, &Document{ID: doc.ID, Title: "Renamed", Content: "Birds fly."})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindStoreFailure))
	assert.ErrorIs(t, err, errBoom)

	found, err := e.store.GetChunksByIDs(ctx, []string{e.index.Current().Index.ids[0]})
	require.NoError(t, err)
	require.Len(t, found, 1)
	for _, c := range found {
		assert.Equal(t, "Cats are mammals.", c.Content)
	}

	stored, err := e.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, DocumentStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "boom")
	assert.Equal(t, "Animals", stored.Title)
	assert.Equal(t, "Cats are mammals.", stored.Content)
	assert.Equal(t, 1, stored.ChunkCount)
}

func TestIngestion_DimensionMismatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	e.embedder.dim = testDim / 2

	doc := &Document{Title: "Animals", Content: "Cats are mammals."}
	_, err := e.ingestion.IngestDocument(ctx, doc)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDimensionMismatch))

	_, err = e.store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	count, err := e.store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngestion_EmbeddingErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	e.embedder.err = errBoom

	doc := &Document{Title: "Animals", Content: "Cats are mammals."}
	_, err := e.ingestion.IngestDocument(ctx, doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	_, err = e.store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

type recordingQueue struct {
	ids []string
	err error
}

func (q *recordingQueue) EnqueueIngestDocument(ctx context.Context, documentID string) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, documentID)
	return nil
}

func TestIngestion_EnqueueThenProcess(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	queue := &recordingQueue{}
	e.ingestion.queue = queue

	doc := &Document{Title: "Animals", Content: "Cats are mammals."}
	res, err := e.ingestion.EnqueueDocument(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, []string{doc.ID}, queue.ids)
	assert.Equal(t, 0, res.Chunks)
	assert.Equal(t, 0, e.index.Size())

	stored, err := e.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, DocumentStatusPending, stored.Status)

	res, err = e.ingestion.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 1, e.index.Size())

	_, err = e.ingestion.ProcessDocument(ctx, "5f0c8a4e-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestIngestion_EnqueueFailureMarksDocument(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	e.ingestion.queue = &recordingQueue{err: errors.New("redis down")}

	doc := &Document{Title: "Animals", Content: "Cats are mammals."}
	_, err := e.ingestion.EnqueueDocument(ctx, doc)
	require.Error(t, err)

	stored, err := e.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, DocumentStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "redis down")
}

func TestIngestion_DeleteDocument(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	doc := e.ingest(t, "Animals", "Cats are mammals.")
	e.ingest(t, "Geography", "Paris is the capital of France.")
	require.Equal(t, 2, e.index.Size())

	require.NoError(t, e.ingestion.DeleteDocument(ctx, doc.ID))
	assert.Equal(t, 1, e.index.Size())
	_, err := e.store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	err = e.ingestion.DeleteDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestIngestion_MarkFailedTruncatesRunes(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	doc := e.ingest(t, "Animals", "Cats are mammals.")

	e.ingestion.markFailed(ctx, doc.ID, errors.New(strings.Repeat("错", 1500)))
	stored, err := e.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000, len([]rune(stored.ErrorMessage)))
}
