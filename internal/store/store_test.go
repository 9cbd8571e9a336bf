package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamim/examforge/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTopics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.AddTopic(ctx, models.Topic{CourseID: "cse", Name: "Graphs", Weight: 0.5})
	require.NoError(t, err)
	id2, err := s.AddTopic(ctx, models.Topic{CourseID: "cse", Name: "Sorting", Weight: 0})
	require.NoError(t, err)
	_, err = s.AddTopic(ctx, models.Topic{CourseID: "ece", Name: "Signals", Weight: 1})
	require.NoError(t, err)

	// Re-adding updates the weight and keeps the id
	again, err := s.AddTopic(ctx, models.Topic{CourseID: "cse", Name: "Graphs", Weight: 0.7})
	require.NoError(t, err)
	assert.Equal(t, id1, again)

	topics, err := s.ListTopics(ctx, "cse")
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, id1, topics[0].ID)
	assert.Equal(t, 0.7, topics[0].Weight)
	assert.Equal(t, id2, topics[1].ID)

	got, err := s.GetTopic(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, models.Topic{ID: id2, CourseID: "cse", Name: "Sorting", Weight: 0}, got)
	_, err = s.GetTopic(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.AddTopic(ctx, models.Topic{CourseID: "cse", Name: " "})
	assert.Error(t, err)
	_, err = s.AddTopic(ctx, models.Topic{CourseID: "cse", Name: "x", Weight: -1})
	assert.Error(t, err)
}

func TestItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	topicID, err := s.AddTopic(ctx, models.Topic{CourseID: "cse", Name: "Graphs", Weight: 1})
	require.NoError(t, err)

	first := &models.PersistedItem{
		TopicID: topicID,
		Slot:    "S1",
		CandidateItem: models.CandidateItem{
			Statement: "BFS uses which structure?",
			Type:      models.ItemSingleSelect,
			Options:   []string{"Stack", "Queue", "Heap", "Trie"},
			Answer:    "B",
		},
		Scoring: models.Scoring{CorrectMarks: 1, IncorrectMarks: -0.33, TimeSeconds: 120},
	}
	_, err = s.InsertItem(ctx, first)
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.Equal(t, models.ValidationPending, first.ValidationStatus)

	second := &models.PersistedItem{
		TopicID:       topicID,
		CandidateItem: models.CandidateItem{Statement: "DFS uses which structure?", Type: models.ItemSingleSelect, Options: []string{"Stack", "Queue", "Heap", "Trie"}, Answer: "A"},
	}
	_, err = s.InsertItem(ctx, second)
	require.NoError(t, err)

	numeric := &models.PersistedItem{
		TopicID:       topicID,
		CandidateItem: models.CandidateItem{Statement: "Edges in K4?", Type: models.ItemNumeric, Answer: "6"},
	}
	_, err = s.InsertItem(ctx, numeric)
	require.NoError(t, err)

	n, err := s.CountItems(ctx, topicID, models.ItemSingleSelect)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := s.AcceptedItems(ctx, topicID, models.ItemSingleSelect, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID, "newest first")
	assert.Equal(t, []string{"Stack", "Queue", "Heap", "Trie"}, items[1].Options)
	assert.Equal(t, -0.33, items[1].IncorrectMarks)
	assert.Equal(t, "S1", items[1].Slot)

	limited, err := s.AcceptedItems(ctx, topicID, models.ItemSingleSelect, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	nat, err := s.AcceptedItems(ctx, topicID, models.ItemNumeric, 0)
	require.NoError(t, err)
	require.Len(t, nat, 1)
	assert.Nil(t, nat[0].Options)
	assert.Equal(t, models.FlexString("6"), nat[0].Answer)
}

func TestValidationState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	topicID, err := s.AddTopic(ctx, models.Topic{CourseID: "cse", Name: "Graphs", Weight: 1})
	require.NoError(t, err)
	other, err := s.AddTopic(ctx, models.Topic{CourseID: "cse", Name: "Trees", Weight: 1})
	require.NoError(t, err)

	a := &models.PersistedItem{TopicID: topicID, CandidateItem: models.CandidateItem{Statement: "a", Type: models.ItemNumeric, Answer: "1"}}
	b := &models.PersistedItem{TopicID: other, CandidateItem: models.CandidateItem{Statement: "b", Type: models.ItemNumeric, Answer: "2"}}
	for _, it := range []*models.PersistedItem{a, b} {
		_, err := s.InsertItem(ctx, it)
		require.NoError(t, err)
	}

	require.NoError(t, s.MarkValidation(ctx, a.ID, models.Verdict{Valid: false, Reason: "wrong"}))
	assert.ErrorIs(t, s.MarkValidation(ctx, 9999, models.Verdict{Valid: true}), ErrNotFound)

	pending, err := s.ItemsForValidation(ctx, nil, true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)

	all, err := s.ItemsForValidation(ctx, []int64{topicID}, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.ValidationInvalid, all[0].ValidationStatus)
	assert.Equal(t, "wrong", all[0].ValidationReason)
}

func TestReferenceItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	topicID, err := s.AddTopic(ctx, models.Topic{CourseID: "cse", Name: "Graphs", Weight: 1})
	require.NoError(t, err)

	solved := &models.ReferenceItem{TopicID: topicID, Statement: "old", Type: models.ItemSingleSelect,
		Options: []string{"a", "b", "c", "d"}, Answer: "A", Explanation: "because", Year: 2019}
	unsolved := &models.ReferenceItem{TopicID: topicID, Statement: "new", Type: models.ItemSingleSelect,
		Options: []string{"a", "b", "c", "d"}, Year: 2023, Image: []byte{0x89, 'P', 'N', 'G'}, ImageMIME: "image/png"}
	for _, r := range []*models.ReferenceItem{solved, unsolved} {
		_, err := s.InsertReferenceItem(ctx, r)
		require.NoError(t, err)
	}

	refs, err := s.ReferenceItems(ctx, topicID, models.ItemSingleSelect, 5)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "new", refs[0].Statement, "most recent year first")
	assert.Equal(t, "image/png", refs[0].ImageMIME)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, refs[0].Image)

	total, err := s.CountReferenceItems(ctx, []int64{topicID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	need, err := s.QueryItemsNeedingSolutions(ctx, []int64{topicID})
	require.NoError(t, err)
	require.Len(t, need, 1)
	assert.Equal(t, unsolved.ID, need[0].ID)
	assert.True(t, need[0].NeedsSolution())

	require.NoError(t, s.UpdateSolution(ctx, unsolved.ID, models.SolutionFields{Answer: "C", Explanation: "work"}))
	need, err = s.QueryItemsNeedingSolutions(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, need)

	refs, err = s.ReferenceItems(ctx, topicID, models.ItemSingleSelect, 0)
	require.NoError(t, err)
	assert.Equal(t, "new", refs[0].Statement)
	assert.Equal(t, "C", refs[0].Answer)
	assert.Equal(t, []string{"a", "b", "c", "d"}, refs[0].Options, "solution update leaves other fields alone")

	assert.ErrorIs(t, s.UpdateSolution(ctx, 424242, models.SolutionFields{}), ErrNotFound)
}

func TestForeignKeys(t *testing.T) {
	s := openTestStore(t)
	_, err := s.InsertItem(context.Background(), &models.PersistedItem{
		TopicID:       12345,
		CandidateItem: models.CandidateItem{Statement: "orphan", Type: models.ItemNumeric},
	})
	assert.Error(t, err)
}

func TestDSNEnablesForeignKeys(t *testing.T) {
	db, err := sql.Open("sqlite", dsn(filepath.Join(t.TempDir(), "raw.db")))
	require.NoError(t, err)
	defer db.Close()

	var on int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(&on))
	assert.Equal(t, 1, on)

	s := openTestStore(t)
	require.NoError(t, s.db.QueryRow(`PRAGMA foreign_keys`).Scan(&on))
	assert.Equal(t, 1, on)
}
