package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/franksops/paperup/engine"
	"github.com/franksops/paperup/gate"
	"github.com/franksops/paperup/provider"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type storeSubmitter struct {
	store   *engine.TaskStore
	err     error
	workers int
}

func (s *storeSubmitter) SetWorkers(n int) { s.workers = n }
func (s *storeSubmitter) Workers() int     { return s.workers }

func (s *storeSubmitter) Submit(ctx context.Context, task engine.Task) error {
	if s.err != nil {
		return s.err
	}
	return s.store.Enqueue(task)
}

type fakeDevice struct {
	entries []provider.Entry
	usage   provider.Usage
	err     error
	dir     string
}

func (f *fakeDevice) List(ctx context.Context, dir string) ([]provider.Entry, error) {
	f.dir = dir
	return f.entries, f.err
}

func (f *fakeDevice) Status(ctx context.Context) (provider.Usage, error) {
	return f.usage, f.err
}

func newTestRouter(t *testing.T, sub *storeSubmitter, dev *fakeDevice) (*gin.Engine, *engine.TaskStore) {
	t.Helper()
	store := engine.NewTaskStore()
	if sub == nil {
		sub = &storeSubmitter{}
	}
	sub.store = store
	if dev == nil {
		dev = &fakeDevice{}
	}
	return NewRouter(NewHandler(store, sub, dev, nil)), store
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetTask(t *testing.T) {
	r, store := newTestRouter(t, nil, nil)

	w := do(t, r, http.MethodPost, "/tasks", TaskRequest{Source: "/books/a.epub", TargetPath: "/a.epub"})
	require.Equal(t, http.StatusCreated, w.Code)

	var created engine.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, engine.StatusQueued, created.Status)
	require.Equal(t, "a.epub", created.FileName)

	w = do(t, r, http.MethodGet, "/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []engine.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Len(t, store.Tasks(), 1)
}

func TestCreateTask_BadRequest(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	w := do(t, r, http.MethodPost, "/tasks", map[string]string{"source": "/a"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTask_QueueClosed(t *testing.T) {
	r, _ := newTestRouter(t, &storeSubmitter{err: engine.ErrQueueClosed}, nil)

	w := do(t, r, http.MethodPost, "/tasks", TaskRequest{Source: "/a", TargetPath: "/a"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCancelAndDismiss(t *testing.T) {
	r, store := newTestRouter(t, nil, nil)
	task := engine.NewTask("/a", "/a", "")
	require.NoError(t, store.Enqueue(task))

	w := do(t, r, http.MethodDelete, "/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusConflict, w.Code, "active tasks cannot be dismissed")

	w = do(t, r, http.MethodPost, "/tasks/"+task.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cancelled engine.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
	require.Equal(t, engine.StatusCancelled, cancelled.Status)

	w = do(t, r, http.MethodDelete, "/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/tasks/" + task.ID},
		{http.MethodPost, "/tasks/" + task.ID + "/cancel"},
		{http.MethodDelete, "/tasks/" + task.ID},
	} {
		w = do(t, r, req.method, req.path, nil)
		require.Equal(t, http.StatusNotFound, w.Code, req.method+" "+req.path)
	}
}

func TestDeviceEndpoints(t *testing.T) {
	dev := &fakeDevice{
		entries: []provider.Entry{{Name: "books", Type: "dir"}},
		usage:   provider.Usage{TotalBytes: 100, UsedBytes: 40},
	}
	r, _ := newTestRouter(t, nil, dev)

	w := do(t, r, http.MethodGet, "/device/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"totalBytes":100,"usedBytes":40,"freeBytes":60}`, w.Body.String())

	w = do(t, r, http.MethodGet, "/device/list?dir=/books", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "/books", dev.dir)
	require.JSONEq(t, `[{"name":"books","type":"dir"}]`, w.Body.String())

	w = do(t, r, http.MethodGet, "/device/list", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "/", dev.dir)
}

func TestDeviceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"unreachable", gate.ErrConnectivityUnavailable, http.StatusServiceUnavailable},
		{"device error", &provider.StatusError{Method: "GET", Path: "/status", Code: 500}, http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t, nil, &fakeDevice{err: tt.err})
			w := do(t, r, http.MethodGet, "/device/status", nil)
			require.Equal(t, tt.code, w.Code)
		})
	}
}

func TestWorkers(t *testing.T) {
	store := engine.NewTaskStore()
	queue := engine.NewQueue(context.Background(), store, engine.NewExecutor(store, nil, nil), 1, 1, nil)
	defer queue.Stop()
	r := NewRouter(NewHandler(store, queue, &fakeDevice{}, nil))

	w := do(t, r, http.MethodGet, "/workers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"count":1}`, w.Body.String())

	w = do(t, r, http.MethodPut, "/workers", WorkersRequest{Count: 3})
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"count":3}`, w.Body.String())
	require.Equal(t, 3, queue.Workers())

	w = do(t, r, http.MethodPut, "/workers", WorkersRequest{Count: 2})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 2, queue.Workers())

	for _, body := range []any{WorkersRequest{Count: 0}, WorkersRequest{Count: 64}, map[string]string{"count": "many"}} {
		w = do(t, r, http.MethodPut, "/workers", body)
		require.Equal(t, http.StatusBadRequest, w.Code)
	}
	require.Equal(t, 2, queue.Workers())
}
