// Package store persists topics, reference items (PYQs) and generated items in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lamim/examforge/pkg/models"
)

// ErrNotFound is returned when a row addressed by id does not exist
var ErrNotFound = errors.New("not found")

// Store wraps the database handle
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the SQLite database and runs schema migrations.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection keeps an in-memory database alive and serializes writers.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := migrate(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

// dsn enables foreign keys on every connection the driver opens
func dsn(path string) string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path)
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS topics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			course_id TEXT NOT NULL,
			name TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 0 CHECK(weight >= 0),
			created_at DATETIME NOT NULL,
			UNIQUE(course_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS reference_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic_id INTEGER NOT NULL,
			question TEXT NOT NULL,
			item_type TEXT NOT NULL CHECK(item_type IN ('MCQ','MSQ','NAT','SUBJECTIVE')),
			options TEXT,
			answer TEXT NOT NULL DEFAULT '',
			explanation TEXT NOT NULL DEFAULT '',
			year INTEGER NOT NULL DEFAULT 0,
			image BLOB,
			image_mime TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY(topic_id) REFERENCES topics(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic_id INTEGER NOT NULL,
			question TEXT NOT NULL,
			item_type TEXT NOT NULL CHECK(item_type IN ('MCQ','MSQ','NAT','SUBJECTIVE')),
			options TEXT,
			answer TEXT NOT NULL DEFAULT '',
			explanation TEXT NOT NULL DEFAULT '',
			slot TEXT NOT NULL DEFAULT '',
			part TEXT NOT NULL DEFAULT '',
			correct_marks REAL NOT NULL DEFAULT 0,
			incorrect_marks REAL NOT NULL DEFAULT 0,
			skipped_marks REAL NOT NULL DEFAULT 0,
			partial_marks REAL NOT NULL DEFAULT 0,
			time_seconds INTEGER NOT NULL DEFAULT 0,
			is_invalid INTEGER NOT NULL DEFAULT 0,
			invalid_reason TEXT NOT NULL DEFAULT '',
			validation_status TEXT NOT NULL DEFAULT 'pending' CHECK(validation_status IN ('pending','valid','invalid')),
			validation_reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY(topic_id) REFERENCES topics(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_items_topic_type ON items(topic_id, item_type);`,
		`CREATE INDEX IF NOT EXISTS idx_reference_topic_type ON reference_items(topic_id, item_type);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("execute %q: %w", stmt, err)
		}
	}
	return nil
}

// AddTopic creates a topic or updates the weight of an existing one with the same name
func (s *Store) AddTopic(ctx context.Context, t models.Topic) (int64, error) {
	if strings.TrimSpace(t.Name) == "" {
		return 0, fmt.Errorf("topic name is required")
	}
	if t.Weight < 0 {
		return 0, fmt.Errorf("topic weight must not be negative")
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO topics (course_id, name, weight, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(course_id, name) DO UPDATE SET weight = excluded.weight;
	`, t.CourseID, t.Name, t.Weight, s.now()); err != nil {
		return 0, fmt.Errorf("insert topic: %w", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT id FROM topics WHERE course_id = ? AND name = ?;
	`, t.CourseID, t.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup topic: %w", err)
	}
	return id, nil
}

// ListTopics returns the topics of a course in insertion order
func (s *Store) ListTopics(ctx context.Context, courseID string) ([]models.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, course_id, name, weight FROM topics WHERE course_id = ? ORDER BY id;
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	var topics []models.Topic
	for rows.Next() {
		var t models.Topic
		if err := rows.Scan(&t.ID, &t.CourseID, &t.Name, &t.Weight); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// GetTopic returns one topic by ID, or ErrNotFound
func (s *Store) GetTopic(ctx context.Context, id int64) (models.Topic, error) {
	var t models.Topic
	err := s.db.QueryRowContext(ctx, `
		SELECT id, course_id, name, weight FROM topics WHERE id = ?;
	`, id).Scan(&t.ID, &t.CourseID, &t.Name, &t.Weight)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Topic{}, fmt.Errorf("topic %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Topic{}, fmt.Errorf("query topic: %w", err)
	}
	return t, nil
}

// CountItems counts stored items for a topic and type
func (s *Store) CountItems(ctx context.Context, topicID int64, t models.ItemType) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM items WHERE topic_id = ? AND item_type = ?;
	`, topicID, string(t)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// InsertItem stores an accepted item and fills in its id and timestamp
func (s *Store) InsertItem(ctx context.Context, item *models.PersistedItem) (int64, error) {
	options, err := encodeOptions(item.Options)
	if err != nil {
		return 0, err
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	if item.ValidationStatus == "" {
		item.ValidationStatus = models.ValidationPending
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items (topic_id, question, item_type, options, answer, explanation, slot, part,
			correct_marks, incorrect_marks, skipped_marks, partial_marks, time_seconds,
			is_invalid, invalid_reason, validation_status, validation_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, item.TopicID, item.Statement, string(item.Type), options, item.Answer.String(), item.Explanation,
		item.Slot, item.Part,
		item.CorrectMarks, item.IncorrectMarks, item.SkippedMarks, item.PartialMarks, item.TimeSeconds,
		item.FlaggedInvalid, item.InvalidReason, item.ValidationStatus, item.ValidationReason, item.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert item id: %w", err)
	}
	item.ID = id
	return id, nil
}

const itemColumns = `id, topic_id, question, item_type, options, answer, explanation, slot, part,
	correct_marks, incorrect_marks, skipped_marks, partial_marks, time_seconds,
	is_invalid, invalid_reason, validation_status, validation_reason, created_at`

// AcceptedItems returns stored items for a topic and type, newest first.
// limit <= 0 returns all of them.
func (s *Store) AcceptedItems(ctx context.Context, topicID int64, t models.ItemType, limit int) ([]models.PersistedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE topic_id = ? AND item_type = ? ORDER BY id DESC`
	args := []any{topicID, string(t)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryItems(ctx, query, args...)
}

// ItemsForValidation returns items of the given topics (all topics when empty)
// in id order. With pendingOnly, items that already have a verdict are skipped.
func (s *Store) ItemsForValidation(ctx context.Context, topicIDs []int64, pendingOnly bool) ([]models.PersistedItem, error) {
	where, args := topicFilter(topicIDs)
	if pendingOnly {
		where += ` AND validation_status = 'pending'`
	}
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM items WHERE `+where+` ORDER BY id`, args...)
}

// MarkValidation records the verdict of the semantic check
func (s *Store) MarkValidation(ctx context.Context, id int64, v models.Verdict) error {
	status := models.ValidationInvalid
	if v.Valid {
		status = models.ValidationValid
	}
	return s.expectOne(s.db.ExecContext(ctx, `
		UPDATE items SET validation_status = ?, validation_reason = ? WHERE id = ?;
	`, status, v.Reason, id))
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]models.PersistedItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []models.PersistedItem
	for rows.Next() {
		var (
			it      models.PersistedItem
			itype   string
			options sql.NullString
			answer  string
		)
		if err := rows.Scan(&it.ID, &it.TopicID, &it.Statement, &itype, &options, &answer, &it.Explanation,
			&it.Slot, &it.Part,
			&it.CorrectMarks, &it.IncorrectMarks, &it.SkippedMarks, &it.PartialMarks, &it.TimeSeconds,
			&it.FlaggedInvalid, &it.InvalidReason, &it.ValidationStatus, &it.ValidationReason, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Type = models.ItemType(itype)
		it.Answer = models.FlexString(answer)
		if it.Options, err = decodeOptions(options); err != nil {
			return nil, fmt.Errorf("item %d: %w", it.ID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// InsertReferenceItem stores a PYQ
func (s *Store) InsertReferenceItem(ctx context.Context, ref *models.ReferenceItem) (int64, error) {
	options, err := encodeOptions(ref.Options)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reference_items (topic_id, question, item_type, options, answer, explanation, year, image, image_mime, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, ref.TopicID, ref.Statement, string(ref.Type), options, ref.Answer, ref.Explanation, ref.Year,
		ref.Image, ref.ImageMIME, s.now())
	if err != nil {
		return 0, fmt.Errorf("insert reference item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert reference item id: %w", err)
	}
	ref.ID = id
	return id, nil
}

const referenceColumns = `id, topic_id, question, item_type, options, answer, explanation, year, image, image_mime`

// ReferenceItems returns PYQs for a topic and type, most recent exam year first.
// limit <= 0 returns all of them.
func (s *Store) ReferenceItems(ctx context.Context, topicID int64, t models.ItemType, limit int) ([]models.ReferenceItem, error) {
	query := `SELECT ` + referenceColumns + ` FROM reference_items WHERE topic_id = ? AND item_type = ? ORDER BY year DESC, id DESC`
	args := []any{topicID, string(t)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryReferences(ctx, query, args...)
}

// QueryItemsNeedingSolutions returns PYQs of the given topics (all topics when
// empty) whose answer or explanation is still blank
func (s *Store) QueryItemsNeedingSolutions(ctx context.Context, topicIDs []int64) ([]models.ReferenceItem, error) {
	where, args := topicFilter(topicIDs)
	return s.queryReferences(ctx, `SELECT `+referenceColumns+` FROM reference_items WHERE `+where+
		` AND (TRIM(answer) = '' OR TRIM(explanation) = '') ORDER BY id`, args...)
}

// CountReferenceItems counts PYQs of the given topics (all topics when empty)
func (s *Store) CountReferenceItems(ctx context.Context, topicIDs []int64) (int, error) {
	where, args := topicFilter(topicIDs)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reference_items WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reference items: %w", err)
	}
	return n, nil
}

// UpdateSolution writes only the answer and explanation of a PYQ
func (s *Store) UpdateSolution(ctx context.Context, id int64, f models.SolutionFields) error {
	return s.expectOne(s.db.ExecContext(ctx, `
		UPDATE reference_items SET answer = ?, explanation = ? WHERE id = ?;
	`, f.Answer, f.Explanation, id))
}

func (s *Store) queryReferences(ctx context.Context, query string, args ...any) ([]models.ReferenceItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reference items: %w", err)
	}
	defer rows.Close()

	var refs []models.ReferenceItem
	for rows.Next() {
		var (
			r       models.ReferenceItem
			itype   string
			options sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.TopicID, &r.Statement, &itype, &options, &r.Answer, &r.Explanation,
			&r.Year, &r.Image, &r.ImageMIME); err != nil {
			return nil, fmt.Errorf("scan reference item: %w", err)
		}
		r.Type = models.ItemType(itype)
		if r.Options, err = decodeOptions(options); err != nil {
			return nil, fmt.Errorf("reference item %d: %w", r.ID, err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func (s *Store) expectOne(res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func topicFilter(topicIDs []int64) (string, []any) {
	if len(topicIDs) == 0 {
		return "1 = 1", nil
	}
	args := make([]any, len(topicIDs))
	for i, id := range topicIDs {
		args[i] = id
	}
	return "topic_id IN (" + strings.TrimSuffix(strings.Repeat("?,", len(topicIDs)), ",") + ")", args
}

// Options are stored as a JSON array; NULL means the item has none
func encodeOptions(options []string) (any, error) {
	if len(options) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	return string(b), nil
}

func decodeOptions(v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var options []string
	if err := json.Unmarshal([]byte(v.String), &options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return options, nil
}
