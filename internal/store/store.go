package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mcastelli/vidmatch/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid task status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetTaskByMessageID(ctx context.Context, messageID string) (*models.Task, error)
	UpdateTaskStatusByMessageID(ctx context.Context, messageID, status string, opts ...TaskUpdateOption) error
	ListTasks(ctx context.Context, page, limit int) ([]*models.Task, int, error)

	UpsertVideoWithSegments(ctx context.Context, video *models.Video, segments []models.Segment) (*models.Video, error)
	GetVideoByObject(ctx context.Context, ref models.ObjectRef) (*models.Video, error)
	ListVideos(ctx context.Context, page, limit int) ([]*models.Video, int, error)
	DeleteVideoByObject(ctx context.Context, ref models.ObjectRef) (bool, error)

	Searcher
}

// Searcher runs nearest-neighbor queries over stored segment vectors.
type Searcher interface {
	FindSimilar(ctx context.Context, embedding []float32, filter models.SearchFilter, pageLimit int, minSimilarity float64) ([]models.SegmentMatch, error)
	FindSimilarBatch(ctx context.Context, embeddings [][]float32, filter models.SearchFilter, pageLimit int, minSimilarity float64) ([]models.SegmentMatch, error)
}

// TaskUpdateParams is the resolved form of a set of TaskUpdateOptions.
type TaskUpdateParams struct {
	ErrorMessage     *string
	IncrementAttempt bool
}

type TaskUpdateOption func(*TaskUpdateParams)

func WithErrorMessage(msg string) TaskUpdateOption {
	return func(p *TaskUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithAttemptIncrement() TaskUpdateOption {
	return func(p *TaskUpdateParams) {
		p.IncrementAttempt = true
	}
}

// ApplyTaskUpdateOptions folds option funcs into their resolved parameters.
// Exported so alternate Store implementations can honor the same options.
func ApplyTaskUpdateOptions(opts []TaskUpdateOption) TaskUpdateParams {
	var params TaskUpdateParams
	for _, opt := range opts {
		opt(&params)
	}
	return params
}
