package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuchat/internal/model"
	"docuchat/internal/rag"
)

type fakeDocs struct {
	docs map[string]*model.Document
}

func (f *fakeDocs) GetByIDAndUserID(id string, userID uint) (*model.Document, error) {
	doc, ok := f.docs[fmt.Sprintf("%d/%s", userID, id)]
	if !ok {
		return nil, nil
	}
	return doc, nil
}

type fakeLoader struct {
	pairs map[string]*ActiveDocument
	fail  map[string]error
}

func (f *fakeLoader) Load(_ context.Context, indexLoc, _, _ string) (*rag.FlatIndex, []rag.Passage, error) {
	if err, ok := f.fail[indexLoc]; ok {
		return nil, nil, err
	}
	pair, ok := f.pairs[indexLoc]
	if !ok {
		return nil, nil, fmt.Errorf("unexpected location %s", indexLoc)
	}
	return pair.Index, pair.Passages, nil
}

func newFixture(t *testing.T) (*Registry, *fakeDocs, *fakeLoader) {
	t.Helper()
	docs := &fakeDocs{docs: make(map[string]*model.Document)}
	loader := &fakeLoader{pairs: make(map[string]*ActiveDocument), fail: make(map[string]error)}
	return NewRegistry(docs, loader, "embed-v1"), docs, loader
}

func addDocument(t *testing.T, docs *fakeDocs, loader *fakeLoader, userID uint, documentID, text string) {
	t.Helper()
	idx, err := rag.BuildIndex([][]float32{{1, 0}}, "embed-v1")
	require.NoError(t, err)
	indexLoc := fmt.Sprintf("users/%d/documents/%s/index/index.gob", userID, documentID)
	chunksLoc := fmt.Sprintf("users/%d/documents/%s/chunks/chunks.json", userID, documentID)
	docs.docs[fmt.Sprintf("%d/%s", userID, documentID)] = &model.Document{
		ID:             documentID,
		UserID:         userID,
		IndexLocation:  indexLoc,
		ChunksLocation: chunksLoc,
	}
	loader.pairs[indexLoc] = &ActiveDocument{
		DocumentID: documentID,
		Index:      idx,
		Passages:   []rag.Passage{{Text: text, Seq: 0}},
	}
}

func TestActivate_ReplacesActivePair(t *testing.T) {
	ctx := context.Background()
	reg, docs, loader := newFixture(t)
	addDocument(t, docs, loader, 1, "doc-a", "first")
	addDocument(t, docs, loader, 1, "doc-b", "second")

	require.NoError(t, reg.Activate(ctx, 1, "doc-a"))
	active, err := reg.Active(1)
	require.NoError(t, err)
	assert.Equal(t, "doc-a", active.DocumentID)
	assert.Equal(t, "first", active.Passages[0].Text)

	require.NoError(t, reg.Activate(ctx, 1, "doc-b"))
	active, err = reg.Active(1)
	require.NoError(t, err)
	assert.Equal(t, "doc-b", active.DocumentID)
	assert.Equal(t, "second", active.Passages[0].Text)
}

func TestActivate_UnknownDocument(t *testing.T) {
	reg, _, _ := newFixture(t)
	err := reg.Activate(context.Background(), 1, "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = reg.Active(1)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestActivate_OtherUsersDocumentInvisible(t *testing.T) {
	ctx := context.Background()
	reg, docs, loader := newFixture(t)
	addDocument(t, docs, loader, 1, "doc-a", "mine")

	err := reg.Activate(ctx, 2, "doc-a")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestActivate_FailedLoadKeepsPriorState(t *testing.T) {
	ctx := context.Background()
	reg, docs, loader := newFixture(t)
	addDocument(t, docs, loader, 1, "doc-a", "good")
	addDocument(t, docs, loader, 1, "doc-b", "bad")
	loader.fail["users/1/documents/doc-b/index/index.gob"] = fmt.Errorf("decode failed")

	require.NoError(t, reg.Activate(ctx, 1, "doc-a"))
	require.Error(t, reg.Activate(ctx, 1, "doc-b"))

	active, err := reg.Active(1)
	require.NoError(t, err)
	assert.Equal(t, "doc-a", active.DocumentID)
}

func TestActivate_NoStoredArtifacts(t *testing.T) {
	reg, docs, _ := newFixture(t)
	docs.docs["1/doc-a"] = &model.Document{ID: "doc-a", UserID: 1}

	err := reg.Activate(context.Background(), 1, "doc-a")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestActivate_ConcurrentUsersIsolated(t *testing.T) {
	ctx := context.Background()
	reg, docs, loader := newFixture(t)
	const users = 8
	for u := uint(1); u <= users; u++ {
		addDocument(t, docs, loader, u, fmt.Sprintf("doc-%d", u), fmt.Sprintf("text-%d", u))
	}

	var wg sync.WaitGroup
	for u := uint(1); u <= users; u++ {
		wg.Add(1)
		go func(u uint) {
			defer wg.Done()
			assert.NoError(t, reg.Activate(ctx, u, fmt.Sprintf("doc-%d", u)))
		}(u)
	}
	wg.Wait()

	for u := uint(1); u <= users; u++ {
		active, err := reg.Active(u)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("doc-%d", u), active.DocumentID)
		assert.Equal(t, fmt.Sprintf("text-%d", u), active.Passages[0].Text)
	}
}

func TestTranscript_BoundsRecentExchanges(t *testing.T) {
	reg, _, _ := newFixture(t)
	for i := 0; i < 8; i++ {
		reg.AppendHistory(1, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	transcript := reg.Transcript(1, 5)
	require.Len(t, transcript, 5)
	assert.Equal(t, "q3", transcript[0].Query)
	assert.Equal(t, "a7", transcript[4].Answer)

	assert.Nil(t, reg.Transcript(1, 0))
	assert.Nil(t, reg.Transcript(99, 5))
}

func TestTranscript_ReturnsCopy(t *testing.T) {
	reg, _, _ := newFixture(t)
	reg.AppendHistory(1, "q", "a")

	transcript := reg.Transcript(1, 5)
	transcript[0].Answer = "mutated"

	again := reg.Transcript(1, 5)
	assert.Equal(t, "a", again[0].Answer)
}

func TestHistorySurvivesDocumentSwitch(t *testing.T) {
	ctx := context.Background()
	reg, docs, loader := newFixture(t)
	addDocument(t, docs, loader, 1, "doc-a", "first")
	addDocument(t, docs, loader, 1, "doc-b", "second")

	require.NoError(t, reg.Activate(ctx, 1, "doc-a"))
	reg.AppendHistory(1, "q1", "a1")
	require.NoError(t, reg.Activate(ctx, 1, "doc-b"))

	transcript := reg.Transcript(1, 5)
	require.Len(t, transcript, 1)
	assert.Equal(t, "q1", transcript[0].Query)
}

func TestDeactivate_OnlyMatchingDocument(t *testing.T) {
	ctx := context.Background()
	reg, docs, loader := newFixture(t)
	addDocument(t, docs, loader, 1, "doc-a", "first")

	require.NoError(t, reg.Activate(ctx, 1, "doc-a"))
	reg.AppendHistory(1, "q", "a")

	reg.Deactivate(1, "doc-other")
	_, err := reg.Active(1)
	require.NoError(t, err)

	reg.Deactivate(1, "doc-a")
	_, err = reg.Active(1)
	assert.ErrorIs(t, err, ErrNotActive)

	// History outlives the active pair.
	assert.Len(t, reg.Transcript(1, 5), 1)
}

func TestClear_DropsEverything(t *testing.T) {
	ctx := context.Background()
	reg, docs, loader := newFixture(t)
	addDocument(t, docs, loader, 1, "doc-a", "first")

	require.NoError(t, reg.Activate(ctx, 1, "doc-a"))
	reg.AppendHistory(1, "q", "a")

	reg.Clear(1)

	_, err := reg.Active(1)
	assert.ErrorIs(t, err, ErrNotActive)
	assert.Nil(t, reg.Transcript(1, 5))
}
