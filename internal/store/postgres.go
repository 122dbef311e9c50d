package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mcastelli/vidmatch/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tasks ---

// validTransitions encodes the task state machine. Terminal states have no
// outgoing edges; processing is re-entrant because every poll that still finds
// the provider job unfinished leaves the row at processing.
var validTransitions = map[string][]string{
	models.TaskStatusProcessing: {
		models.TaskStatusProcessing, models.TaskStatusCompleted, models.TaskStatusFailed,
		models.TaskStatusRetrying, models.TaskStatusAbandoned,
	},
	models.TaskStatusRetrying: {
		models.TaskStatusProcessing, models.TaskStatusCompleted, models.TaskStatusFailed,
		models.TaskStatusRetrying, models.TaskStatusAbandoned,
	},
	models.TaskStatusCompleted: {},
	models.TaskStatusFailed:    {},
	models.TaskStatusAbandoned: {},
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, message_id, provider_job_id, object_bucket, object_key, status, attempts, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID, task.MessageID, task.ProviderJobID, task.ObjectRef.Bucket, task.ObjectRef.Key,
		task.Status, task.Attempts, task.ErrorMessage, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

const taskColumns = `id, message_id, provider_job_id, object_bucket, object_key, status, attempts, error_message, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.MessageID, &t.ProviderJobID, &t.ObjectRef.Bucket, &t.ObjectRef.Key,
		&t.Status, &t.Attempts, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTaskByMessageID(ctx context.Context, messageID string) (*models.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE message_id = $1`, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task by message id: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTaskStatusByMessageID(ctx context.Context, messageID, status string, opts ...TaskUpdateOption) error {
	params := ApplyTaskUpdateOptions(opts)

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM tasks WHERE message_id = $1`, messageID).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get task status: %w", err)
	}

	allowed := validTransitions[currentStatus]
	valid := false
	for _, a := range allowed {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	query := `UPDATE tasks SET status = $2, updated_at = $3`
	args := []any{messageID, status, time.Now().UTC()}
	argIdx := 4

	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.IncrementAttempt {
		query += ", attempts = attempts + 1"
	}

	query += " WHERE message_id = $1"

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, page, limit int) ([]*models.Task, int, error) {
	limit, offset := normalizePage(page, limit)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

// --- Videos ---

// UpsertVideoWithSegments persists a video and all of its segments in a single
// transaction. An existing row for the same object is updated and its segments
// replaced, which makes a consumer re-fetch after a failed persist idempotent:
// re-processing the same tracking message never produces duplicate rows.
func (s *PostgresStore) UpsertVideoWithSegments(ctx context.Context, video *models.Video, segments []models.Segment) (*models.Video, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	var stored models.Video
	err = tx.QueryRow(ctx,
		`INSERT INTO videos (object_bucket, object_key, filename, duration, height, width, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (object_bucket, object_key) DO UPDATE SET
		   filename = EXCLUDED.filename,
		   duration = EXCLUDED.duration,
		   height = EXCLUDED.height,
		   width = EXCLUDED.width,
		   updated_at = NOW()
		 RETURNING id, object_bucket, object_key, filename, duration, height, width, created_at, updated_at`,
		video.ObjectRef.Bucket, video.ObjectRef.Key, video.Filename, video.Duration,
		video.Height, video.Width, now,
	).Scan(&stored.ID, &stored.ObjectRef.Bucket, &stored.ObjectRef.Key, &stored.Filename,
		&stored.Duration, &stored.Height, &stored.Width, &stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert video: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM video_segments WHERE video_id = $1`, stored.ID); err != nil {
		return nil, fmt.Errorf("clear existing segments: %w", err)
	}

	batch := &pgx.Batch{}
	for _, seg := range segments {
		batch.Queue(
			`INSERT INTO video_segments (video_id, modality, scope, start_time, end_time, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6::vector)`,
			stored.ID, seg.Modality, seg.Scope, seg.StartTime, seg.EndTime,
			pgvector.NewVector(seg.Embedding))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert segments: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit video with segments: %w", err)
	}
	return &stored, nil
}

const videoColumns = `id, object_bucket, object_key, filename, duration, height, width, created_at, updated_at`

func scanVideo(row pgx.Row) (*models.Video, error) {
	var v models.Video
	err := row.Scan(&v.ID, &v.ObjectRef.Bucket, &v.ObjectRef.Key, &v.Filename,
		&v.Duration, &v.Height, &v.Width, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) GetVideoByObject(ctx context.Context, ref models.ObjectRef) (*models.Video, error) {
	v, err := scanVideo(s.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE object_bucket = $1 AND object_key = $2`,
		ref.Bucket, ref.Key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video by object: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListVideos(ctx context.Context, page, limit int) ([]*models.Video, int, error) {
	limit, offset := normalizePage(page, limit)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM videos`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count videos: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, total, rows.Err()
}

// DeleteVideoByObject removes a video row; its segments go with it via the
// ON DELETE CASCADE foreign key. Returns false when nothing matched.
func (s *PostgresStore) DeleteVideoByObject(ctx context.Context, ref models.ObjectRef) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM videos WHERE object_bucket = $1 AND object_key = $2`, ref.Bucket, ref.Key)
	if err != nil {
		return false, fmt.Errorf("delete video: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// normalizePage clamps pagination inputs. Pages are 1-indexed.
func normalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
