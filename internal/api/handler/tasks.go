package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mcastelli/vidmatch/internal/api/response"
	"github.com/mcastelli/vidmatch/internal/store"
	"github.com/mcastelli/vidmatch/pkg/models"
)

// TaskStore defines the task operations the handlers depend on.
type TaskStore interface {
	ListTasks(ctx context.Context, page, limit int) ([]*models.Task, int, error)
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
}

// NewListTasksHandler returns an http.HandlerFunc for GET /api/v1/tasks.
func NewListTasksHandler(st TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, limit := pagination(r)

		tasks, total, err := st.ListTasks(r.Context(), page, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not list tasks", nil)
			return
		}
		if tasks == nil {
			tasks = []*models.Task{}
		}

		response.Collection(w, tasks, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewGetTaskHandler returns an http.HandlerFunc for GET /api/v1/tasks/{taskID}.
func NewGetTaskHandler(st TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "taskID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"taskID must be a valid UUID", nil)
			return
		}

		task, err := st.GetTask(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not fetch task", nil)
			return
		}
		response.JSON(w, task)
	}
}
