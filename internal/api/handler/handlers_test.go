package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcastelli/vidmatch/internal/api/handler"
	"github.com/mcastelli/vidmatch/internal/search"
	"github.com/mcastelli/vidmatch/internal/store"
	"github.com/mcastelli/vidmatch/pkg/models"
)

// --- fakes ---

type fakeSearchService struct {
	results []search.Result
	err     error
	lastReq search.Request
	called  string
}

func (f *fakeSearchService) Text(_ context.Context, req search.Request) ([]search.Result, error) {
	f.called, f.lastReq = "text", req
	return f.results, f.err
}

func (f *fakeSearchService) Image(_ context.Context, req search.Request) ([]search.Result, error) {
	f.called, f.lastReq = "image", req
	return f.results, f.err
}

func (f *fakeSearchService) Video(_ context.Context, req search.Request) ([]search.Result, error) {
	f.called, f.lastReq = "video", req
	return f.results, f.err
}

type fakeVideoStore struct {
	videos  []*models.Video
	total   int
	deleted bool
	err     error
}

func (f *fakeVideoStore) ListVideos(context.Context, int, int) ([]*models.Video, int, error) {
	return f.videos, f.total, f.err
}

func (f *fakeVideoStore) GetVideoByObject(_ context.Context, ref models.ObjectRef) (*models.Video, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, v := range f.videos {
		if v.ObjectRef == ref {
			return v, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeVideoStore) DeleteVideoByObject(context.Context, models.ObjectRef) (bool, error) {
	return f.deleted, f.err
}

type fakeTaskStore struct {
	tasks []*models.Task
	total int
	err   error
}

func (f *fakeTaskStore) ListTasks(context.Context, int, int) ([]*models.Task, int, error) {
	return f.tasks, f.total, f.err
}

func (f *fakeTaskStore) GetTask(_ context.Context, id uuid.UUID) (*models.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, task := range f.tasks {
		if task.ID == id {
			return task, nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeRemover struct {
	removed []string
	err     error
}

func (f *fakeRemover) Remove(_ context.Context, ref models.ObjectRef) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, ref.Bucket+"/"+ref.Key)
	return nil
}

type fakeSigner struct {
	url string
	err error
}

func (f *fakeSigner) PresignedPutURL(context.Context, models.ObjectRef, time.Duration) (string, error) {
	return f.url, f.err
}

// --- search handler ---

func postSearch(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSearchHandler_DispatchesByQueryType(t *testing.T) {
	cases := []struct {
		queryType string
		want      string
	}{
		{"text", "text"},
		{"image", "image"},
		{"video", "video"},
	}
	for _, tc := range cases {
		t.Run(tc.queryType, func(t *testing.T) {
			svc := &fakeSearchService{}
			h := handler.NewSearchHandler(svc)

			w := postSearch(t, h, `{"query_type":"`+tc.queryType+`","query_text":"q","media_url":"https://x/y.mp4"}`)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tc.want, svc.called)
		})
	}
}

func TestSearchHandler_PassesParams(t *testing.T) {
	svc := &fakeSearchService{}
	h := handler.NewSearchHandler(svc)

	w := postSearch(t, h, `{
		"query_type": "text",
		"query_text": "red car",
		"filter": {"scope": "clip", "modality": "visual-text"},
		"page_limit": 5,
		"min_similarity": 0.4
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "red car", svc.lastReq.QueryText)
	assert.Equal(t, models.ScopeClip, svc.lastReq.Filter.Scope)
	assert.Equal(t, 5, svc.lastReq.PageLimit)
	assert.Equal(t, 0.4, svc.lastReq.MinSimilarity)
}

func TestSearchHandler_Rejections(t *testing.T) {
	cases := []struct {
		name string
		body string
		code string
	}{
		{"bad json", `{`, "INVALID_REQUEST"},
		{"unknown type", `{"query_type":"telepathy"}`, "UNSUPPORTED_QUERY_TYPE"},
		{"audio unimplemented", `{"query_type":"audio"}`, "UNSUPPORTED_QUERY_TYPE"},
		{"negative limit", `{"query_type":"text","query_text":"q","page_limit":-1}`, "INVALID_REQUEST"},
		{"similarity out of range", `{"query_type":"text","query_text":"q","min_similarity":1.5}`, "INVALID_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := handler.NewSearchHandler(&fakeSearchService{})
			w := postSearch(t, h, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tc.code)
		})
	}
}

func TestSearchHandler_ServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid request", search.ErrInvalidRequest, http.StatusBadRequest},
		{"query embedding failed", search.ErrQueryEmbedding, http.StatusUnprocessableEntity},
		{"backend down", errors.New("pg down"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := handler.NewSearchHandler(&fakeSearchService{err: tc.err})
			w := postSearch(t, h, `{"query_type":"text","query_text":"q"}`)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestSearchHandler_EmptyResultsAsEmptyArray(t *testing.T) {
	h := handler.NewSearchHandler(&fakeSearchService{})
	w := postSearch(t, h, `{"query_type":"text","query_text":"q"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data []any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.NotNil(t, envelope.Data)
	assert.Empty(t, envelope.Data)
}

// --- video handlers ---

func TestListVideosHandler_Pagination(t *testing.T) {
	st := &fakeVideoStore{
		videos: []*models.Video{{ID: 1, Filename: "a.mp4"}},
		total:  41,
	}
	h := handler.NewListVideosHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos?page=2&limit=20", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Meta struct {
			Page    int  `json:"page"`
			Total   int  `json:"total"`
			HasNext bool `json:"has_next"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, 2, envelope.Meta.Page)
	assert.Equal(t, 41, envelope.Meta.Total)
	assert.True(t, envelope.Meta.HasNext)
}

func TestGetVideoHandler(t *testing.T) {
	ref := models.ObjectRef{Bucket: "videos", Key: "a.mp4"}
	st := &fakeVideoStore{videos: []*models.Video{{ID: 7, ObjectRef: ref, Filename: "a.mp4"}}}
	h := handler.NewGetVideoHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/lookup?bucket=videos&key=a.mp4", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"a.mp4"`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/videos/lookup?bucket=videos&key=missing.mp4", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/videos/lookup?bucket=videos", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteVideoHandler(t *testing.T) {
	remover := &fakeRemover{}
	h := handler.NewDeleteVideoHandler(&fakeVideoStore{deleted: true}, remover)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/videos?bucket=videos&key=a.mp4", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"videos/a.mp4"}, remover.removed, "stored file is deleted with its rows")

	remover = &fakeRemover{}
	h = handler.NewDeleteVideoHandler(&fakeVideoStore{deleted: false}, remover)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, remover.removed, "unknown videos leave storage untouched")
}

// A storage removal failure still returns 204: the rows are gone.
func TestDeleteVideoHandler_RemovalFailureTolerated(t *testing.T) {
	remover := &fakeRemover{err: errors.New("storage down")}
	h := handler.NewDeleteVideoHandler(&fakeVideoStore{deleted: true}, remover)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/videos?bucket=videos&key=a.mp4", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

// --- task handlers ---

func TestListTasksHandler(t *testing.T) {
	st := &fakeTaskStore{
		tasks: []*models.Task{{ID: uuid.New(), Status: models.TaskStatusProcessing}},
		total: 1,
	}
	h := handler.NewListTasksHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), models.TaskStatusProcessing)
}

func TestGetTaskHandler(t *testing.T) {
	task := &models.Task{ID: uuid.New(), Status: models.TaskStatusCompleted}
	st := &fakeTaskStore{tasks: []*models.Task{task}}

	r := chi.NewRouter()
	r.Get("/api/v1/tasks/{taskID}", handler.NewGetTaskHandler(st))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+task.ID.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+uuid.New().String(), nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tasks/not-a-uuid", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- upload handler ---

func TestUploadLinkHandler(t *testing.T) {
	h := handler.NewUploadLinkHandler(&fakeSigner{url: "https://storage.test/videos/a.mp4?upload=1"},
		"videos", time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", strings.NewReader(`{"key":"a.mp4"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "upload=1")
	assert.Contains(t, w.Body.String(), `"expires_in":3600`)
}

func TestUploadLinkHandler_Rejections(t *testing.T) {
	h := handler.NewUploadLinkHandler(&fakeSigner{url: "x"}, "videos", time.Hour)

	for name, body := range map[string]string{
		"bad json":         `{`,
		"empty key":        `{"key":""}`,
		"directory marker": `{"key":"uploads/"}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", strings.NewReader(body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestUploadLinkHandler_SignerFailure(t *testing.T) {
	h := handler.NewUploadLinkHandler(&fakeSigner{err: errors.New("denied")}, "videos", time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", strings.NewReader(`{"key":"a.mp4"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
