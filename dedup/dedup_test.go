package dedup_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	aimock "github.com/poiesic/sluice/ai/mock"
	"github.com/poiesic/sluice/core"
	"github.com/poiesic/sluice/dedup"
	"github.com/poiesic/sluice/retry"
	"github.com/poiesic/sluice/vectorstore"
	"github.com/poiesic/sluice/vectorstore/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const collection = "documents"

func makeChunks(path string, n int) []*core.Chunk {
	chunks := make([]*core.Chunk, n)
	for i := range chunks {
		text := fmt.Sprintf("%s chunk %d", path, i)
		chunks[i] = &core.Chunk{
			ID:     core.ChunkID(path, i),
			Vector: aimock.GenerateVector(text, 8),
			Text:   text,
		}
	}
	return chunks
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond}
}

func TestNew_Validation(t *testing.T) {
	_, err := dedup.New(nil, collection)
	assert.ErrorIs(t, err, vectorstore.ErrStoreRequired)

	_, err = dedup.New(mock.NewStore(), "")
	assert.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)

	_, err = dedup.New(mock.NewStore(), collection, dedup.WithInsertBatchSize(0))
	assert.Error(t, err)

	_, err = dedup.New(mock.NewStore(), collection, dedup.WithConfirmation(retry.Policy{}))
	assert.ErrorIs(t, err, retry.ErrInvalidMaxAttempts)
}

func TestAddChunksWithDedup_InsertsNewChunks(t *testing.T) {
	store := mock.NewStore()
	d, err := dedup.New(store, collection, dedup.WithInsertBatchSize(10))
	require.NoError(t, err)

	chunks := makeChunks("a.txt", 25)
	result, err := d.AddChunksWithDedup(context.Background(), chunks)
	require.NoError(t, err)

	assert.Equal(t, dedup.Result{Inserted: 25, Skipped: 0}, result)
	assert.Equal(t, 3, store.Calls(mock.OpUpsert), "25 chunks in batches of 10")
	assert.Equal(t, 8, store.Dimension(collection), "collection created with the vector dimension")
	for _, c := range chunks {
		assert.Equal(t, 1, store.Writes(c.ID))
	}
}

func TestAddChunksWithDedup_SecondSubmissionWritesNothing(t *testing.T) {
	store := mock.NewStore()
	d, err := dedup.New(store, collection)
	require.NoError(t, err)

	chunks := makeChunks("a.txt", 12)
	_, err = d.AddChunksWithDedup(context.Background(), chunks)
	require.NoError(t, err)
	writes := store.TotalWrites()

	result, err := d.AddChunksWithDedup(context.Background(), makeChunks("a.txt", 12))
	require.NoError(t, err)

	assert.Equal(t, dedup.Result{Inserted: 0, Skipped: 12}, result)
	assert.Equal(t, writes, store.TotalWrites(), "no store writes for duplicates")
}

func TestAddChunksWithDedup_PartialOverlap(t *testing.T) {
	store := mock.NewStore()
	d, err := dedup.New(store, collection)
	require.NoError(t, err)

	_, err = d.AddChunksWithDedup(context.Background(), makeChunks("a.txt", 5))
	require.NoError(t, err)

	result, err := d.AddChunksWithDedup(context.Background(), makeChunks("a.txt", 8))
	require.NoError(t, err)
	assert.Equal(t, dedup.Result{Inserted: 3, Skipped: 5}, result)

	count, err := store.Count(context.Background(), collection)
	require.NoError(t, err)
	assert.Equal(t, 8, count)
}

func TestAddChunksWithDedup_RepeatedIDInOneBatch(t *testing.T) {
	store := mock.NewStore()
	d, err := dedup.New(store, collection)
	require.NoError(t, err)

	chunks := makeChunks("a.txt", 3)
	chunks = append(chunks, chunks[0])

	result, err := d.AddChunksWithDedup(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, dedup.Result{Inserted: 3, Skipped: 1}, result)
	assert.Equal(t, 1, store.Writes(chunks[0].ID))
}

func TestAddChunksWithDedup_Empty(t *testing.T) {
	store := mock.NewStore()
	d, err := dedup.New(store, collection)
	require.NoError(t, err)

	result, err := d.AddChunksWithDedup(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, dedup.Result{}, result)
	assert.Equal(t, 0, store.Calls(mock.OpCollection))
}

func TestAddChunksWithDedup_InvalidChunk(t *testing.T) {
	store := mock.NewStore()
	d, err := dedup.New(store, collection)
	require.NoError(t, err)

	chunks := makeChunks("a.txt", 2)
	chunks[1].Vector = nil

	_, err = d.AddChunksWithDedup(context.Background(), chunks)
	assert.ErrorIs(t, err, core.ErrInvalidChunk)
	assert.Equal(t, 0, store.TotalWrites())
}

func TestAddChunksWithDedup_StoreFailure(t *testing.T) {
	store := mock.NewStore()
	d, err := dedup.New(store, collection)
	require.NoError(t, err)

	store.FailNext(mock.OpUpsert, 1, nil)
	_, err = d.AddChunksWithDedup(context.Background(), makeChunks("a.txt", 4))
	assert.ErrorIs(t, err, mock.ErrInjected)

	store.FailNext(mock.OpExists, 1, nil)
	_, err = d.AddChunksWithDedup(context.Background(), makeChunks("a.txt", 4))
	assert.ErrorIs(t, err, mock.ErrInjected)
}

func TestAddChunksWithDedup_ConfirmsEventualVisibility(t *testing.T) {
	store := mock.NewStore()
	store.VisibilityDelay = 2
	d, err := dedup.New(store, collection, dedup.WithConfirmation(fastPolicy(5)))
	require.NoError(t, err)

	chunks := makeChunks("a.txt", 4)
	result, err := d.AddChunksWithDedup(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Inserted)

	missing, err := d.Missing(context.Background(), core.ChunkIDs("a.txt", 4))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestAddChunksWithDedup_ConfirmationGivesUp(t *testing.T) {
	store := mock.NewStore()
	store.VisibilityDelay = 10
	d, err := dedup.New(store, collection, dedup.WithConfirmation(fastPolicy(3)))
	require.NoError(t, err)

	_, err = d.AddChunksWithDedup(context.Background(), makeChunks("a.txt", 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, dedup.ErrNotVisible)
	assert.True(t, retry.IsExhausted(err))
}

func TestMissing(t *testing.T) {
	store := mock.NewStore()
	d, err := dedup.New(store, collection)
	require.NoError(t, err)

	ids := core.ChunkIDs("a.txt", 3)
	missing, err := d.Missing(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, ids, missing, "missing collection means nothing is stored")

	_, err = d.AddChunksWithDedup(context.Background(), makeChunks("a.txt", 2))
	require.NoError(t, err)

	missing, err = d.Missing(context.Background(), append(ids, ids[2]))
	require.NoError(t, err)
	assert.Equal(t, []core.ID{ids[2]}, missing)
}

func TestResult_Add(t *testing.T) {
	r := dedup.Result{Inserted: 1, Skipped: 2}
	r.Add(dedup.Result{Inserted: 3, Skipped: 4})
	assert.Equal(t, dedup.Result{Inserted: 4, Skipped: 6}, r)
}
