package main

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/franksops/paperup/store"
)

type deviceStub struct {
	mu      sync.Mutex
	dirs    []string
	uploads map[string]string
}

func (d *deviceStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case r.Method == http.MethodPut && r.URL.Path == "/edit":
		_ = r.ParseForm()
		d.dirs = append(d.dirs, r.PostForm.Get("path"))
	case r.Method == http.MethodPost && r.URL.Path == "/edit":
		mr, err := r.MultipartReader()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		part, err := mr.NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, params, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		data, _ := io.ReadAll(part)
		if strings.HasSuffix(params["filename"], "reject.txt") {
			http.Error(w, "no space", http.StatusInsufficientStorage)
			return
		}
		d.uploads[params["filename"]] = string(data)
	case r.Method == http.MethodGet && r.URL.Path == "/status":
		_, _ = w.Write([]byte(`{"totalBytes":2048,"usedBytes":1024}`))
	default:
		http.NotFound(w, r)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestUploadDirectory(t *testing.T) {
	dev := &deviceStub{uploads: map[string]string{}}
	srv := httptest.NewServer(dev)
	defer srv.Close()

	src := filepath.Join(t.TempDir(), "comics")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "vol1"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "cover.txt"), []byte("cover"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "vol1", "page1.txt"), []byte("page one"), 0644))
	state := t.TempDir()

	_, err := execute(t, "--device", srv.URL, "--state-dir", state, "upload", "-r", src, "--to", "/books")
	require.NoError(t, err)

	require.Equal(t, "cover", dev.uploads["/books/comics/cover.txt"])
	require.Equal(t, "page one", dev.uploads["/books/comics/vol1/page1.txt"])
	require.ElementsMatch(t, []string{"/books/comics", "/books/comics/vol1"}, dev.dirs)

	out, err := execute(t, "--device", srv.URL, "--state-dir", state, "tasks")
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(out, "COMPLETED"))

	db, err := store.NewBoltStore(filepath.Join(state, "tasks.db"))
	require.NoError(t, err)
	stored, err := db.ListTasks()
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.Len(t, stored, 2)

	out, err = execute(t, "--device", srv.URL, "--state-dir", state, "tasks", stored[0].ID)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(out, "COMPLETED"))
	require.Contains(t, out, stored[0].TargetPath)

	_, err = execute(t, "--device", srv.URL, "--state-dir", state, "tasks", "missing-id")
	require.EqualError(t, err, "no task with id missing-id")

	out, err = execute(t, "--device", srv.URL, "--state-dir", state, "tasks", "--prune")
	require.NoError(t, err)
	require.NotContains(t, out, "COMPLETED")
}

func TestUploadReportsFailures(t *testing.T) {
	dev := &deviceStub{uploads: map[string]string{}}
	srv := httptest.NewServer(dev)
	defer srv.Close()

	dir := t.TempDir()
	bad := filepath.Join(dir, "reject.txt")
	good := filepath.Join(dir, "fine.txt")
	require.NoError(t, os.WriteFile(bad, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(good, []byte("y"), 0644))

	_, err := execute(t, "--device", srv.URL, "--state-dir", t.TempDir(), "upload", bad, good, "--to", "/")
	require.EqualError(t, err, "1 of 2 uploads failed")
	require.Equal(t, "y", dev.uploads["/fine.txt"])
}

func TestUploadDirectoryNeedsRecursive(t *testing.T) {
	srv := httptest.NewServer(&deviceStub{uploads: map[string]string{}})
	defer srv.Close()

	_, err := execute(t, "--device", srv.URL, "--state-dir", t.TempDir(), "upload", t.TempDir())
	require.ErrorContains(t, err, "use -r")
}

func TestStatusCommand(t *testing.T) {
	srv := httptest.NewServer(&deviceStub{uploads: map[string]string{}})
	defer srv.Close()

	out, err := execute(t, "--device", srv.URL, "--state-dir", t.TempDir(), "status")
	require.NoError(t, err)
	require.Equal(t, "used 1.00 KB of 2.00 KB (1.00 KB free)\n", out)
}
