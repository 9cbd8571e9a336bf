package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lamim/examforge/internal/api"
	"github.com/lamim/examforge/internal/config"
	"github.com/lamim/examforge/pkg/models"
)

const testTOML = `
[generation]
course_id = "GATE-CSE"
item_type = "MCQ"
target_total = 3

[models.generator]
base_url = "http://localhost:1"
model_name = "test-model"
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(testTOML))
	require.NoError(t, err)
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func mcqJSON(statement string) string {
	return fmt.Sprintf(`[{"question": %q, "type": "MCQ", "options": ["one", "two", "three", "four"], "answer": "A", "explanation": "because"}]`, statement)
}

// fakeStore is an in-memory Store
type fakeStore struct {
	mu         sync.Mutex
	topics     []models.Topic
	items      []models.PersistedItem
	refs       []models.ReferenceItem
	verdicts   map[int64]models.Verdict
	solutions  map[int64]models.SolutionFields
	insertErrs []error // consumed by InsertItem, nil entries succeed
	updateErr  map[int64]error
	countErrs  map[int64][]error // consumed per topic by CountItems
	nextID     int64
}

func newFakeStore(topics ...models.Topic) *fakeStore {
	return &fakeStore{
		topics:    topics,
		verdicts:  map[int64]models.Verdict{},
		solutions: map[int64]models.SolutionFields{},
		updateErr: map[int64]error{},
		countErrs: map[int64][]error{},
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) ListTopics(_ context.Context, courseID string) ([]models.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Topic
	for _, t := range s.topics {
		if t.CourseID == courseID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) CountItems(_ context.Context, topicID int64, t models.ItemType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errs := s.countErrs[topicID]; len(errs) > 0 {
		s.countErrs[topicID] = errs[1:]
		return 0, errs[0]
	}
	n := 0
	for _, it := range s.items {
		if it.TopicID == topicID && it.Type == t {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) InsertItem(_ context.Context, item *models.PersistedItem) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.insertErrs) > 0 {
		err := s.insertErrs[0]
		s.insertErrs = s.insertErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	item.ID = s.id()
	s.items = append(s.items, *item)
	return item.ID, nil
}

func (s *fakeStore) AcceptedItems(_ context.Context, topicID int64, t models.ItemType, limit int) ([]models.PersistedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PersistedItem
	for i := len(s.items) - 1; i >= 0; i-- {
		it := s.items[i]
		if it.TopicID == topicID && it.Type == t {
			out = append(out, it)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) ItemsForValidation(_ context.Context, _ []int64, pendingOnly bool) ([]models.PersistedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PersistedItem
	for _, it := range s.items {
		if pendingOnly && it.ValidationStatus != models.ValidationPending {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *fakeStore) MarkValidation(_ context.Context, id int64, v models.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[id] = v
	return nil
}

func (s *fakeStore) ReferenceItems(_ context.Context, topicID int64, t models.ItemType, limit int) ([]models.ReferenceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReferenceItem
	for _, r := range s.refs {
		if r.TopicID == topicID && r.Type == t {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Year > out[j].Year })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) InsertReferenceItem(_ context.Context, ref *models.ReferenceItem) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref.ID = s.id()
	s.refs = append(s.refs, *ref)
	return ref.ID, nil
}

func (s *fakeStore) QueryItemsNeedingSolutions(_ context.Context, _ []int64) ([]models.ReferenceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReferenceItem
	for _, r := range s.refs {
		if r.NeedsSolution() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) CountReferenceItems(_ context.Context, _ []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refs), nil
}

func (s *fakeStore) UpdateSolution(_ context.Context, id int64, f models.SolutionFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateErr[id]; err != nil {
		return err
	}
	s.solutions[id] = f
	return nil
}

// scriptedCompleter replies from a script and records every request
type scriptedCompleter struct {
	mu       sync.Mutex
	script   []func(ctx context.Context, req api.CompletionRequest) (string, error)
	requests []api.CompletionRequest
}

func (c *scriptedCompleter) reply(text string) *scriptedCompleter {
	return c.then(func(context.Context, api.CompletionRequest) (string, error) { return text, nil })
}

func (c *scriptedCompleter) fail(err error) *scriptedCompleter {
	return c.then(func(context.Context, api.CompletionRequest) (string, error) { return "", err })
}

func (c *scriptedCompleter) then(fn func(ctx context.Context, req api.CompletionRequest) (string, error)) *scriptedCompleter {
	c.script = append(c.script, fn)
	return c
}

func (c *scriptedCompleter) Complete(ctx context.Context, req api.CompletionRequest) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	if len(c.script) == 0 {
		c.mu.Unlock()
		return "", errors.New("script exhausted")
	}
	fn := c.script[0]
	c.script = c.script[1:]
	c.mu.Unlock()
	return fn(ctx, req)
}

func (c *scriptedCompleter) calls() []api.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]api.CompletionRequest(nil), c.requests...)
}

// sleepRecorder records cooldowns instead of waiting
type sleepRecorder struct {
	mu     sync.Mutex
	waits  []time.Duration
	onWait func()
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	hook := r.onWait
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ctx.Err()
}

func (r *sleepRecorder) all() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

// fakeEvaluator returns verdicts keyed by statement
type fakeEvaluator struct {
	verdicts map[string]models.Verdict
	errs     map[string]error
}

func (e *fakeEvaluator) Evaluate(_ context.Context, item models.CandidateItem) (models.Verdict, error) {
	if err := e.errs[item.Statement]; err != nil {
		return models.Verdict{}, err
	}
	if v, ok := e.verdicts[item.Statement]; ok {
		return v, nil
	}
	return models.Verdict{Valid: true}, nil
}

// recordingArchive collects archived items
type recordingArchive struct {
	items []models.PersistedItem
}

func (a *recordingArchive) WriteItem(item models.PersistedItem) error {
	a.items = append(a.items, item)
	return nil
}
