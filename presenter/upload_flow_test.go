package presenter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/franksops/paperup/engine"
	"github.com/franksops/paperup/provider"
)

// pacedReader hands out at most chunk bytes per Read and sleeps before each,
// so a transfer spans several progress samples.
type pacedReader struct {
	r     io.Reader
	chunk int
	delay time.Duration
}

func (p *pacedReader) Read(b []byte) (int, error) {
	time.Sleep(p.delay)
	if len(b) > p.chunk {
		b = b[:p.chunk]
	}
	return p.r.Read(b)
}

type pacedSource struct {
	files map[string][]byte
	paced map[string]bool
}

func (s *pacedSource) Open(ctx context.Context, ref string) (io.ReadCloser, provider.FileInfo, error) {
	data, ok := s.files[ref]
	if !ok {
		return nil, nil, fmt.Errorf("open %s: no such file", ref)
	}
	var r io.Reader = bytes.NewReader(data)
	if s.paced[ref] {
		r = &pacedReader{r: r, chunk: 16 << 10, delay: 20 * time.Millisecond}
	}
	return io.NopCloser(r), provider.NewFileInfo(ref, int64(len(data)), false, time.Time{}), nil
}

// droppingDevice accepts uploads but resets the connection after dropAfter
// bytes of the file named drop.
type droppingDevice struct {
	drop      string
	dropAfter int64

	mu       sync.Mutex
	received map[string]int
}

func (d *droppingDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
	dest := params["filename"]

	if dest == d.drop {
		_, _ = io.CopyN(io.Discard, part, d.dropAfter)
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		conn.Close()
		return
	}

	n, err := io.Copy(io.Discard, part)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.mu.Lock()
	d.received[dest] = int(n)
	d.mu.Unlock()
}

func TestUploadFlow_FailureIsolationAndSessions(t *testing.T) {
	dev := &droppingDevice{drop: "/fail.bin", dropAfter: 50 << 10, received: map[string]int{}}
	srv := httptest.NewServer(dev)
	defer srv.Close()

	client, err := provider.NewDeviceClient(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	okData := bytes.Repeat([]byte("page"), 64<<10)
	src := &pacedSource{
		files: map[string][]byte{
			"/src/fail.bin": bytes.Repeat([]byte{7}, 400<<10),
			"/src/ok.bin":   okData,
		},
		paced: map[string]bool{"/src/ok.bin": true},
	}

	store := engine.NewTaskStore()
	wake := &countingResource{}
	wifi := &countingResource{}
	notes := &recordingNotifier{}
	p := New(Config{Wake: wake, WiFi: wifi, Notifier: notes, Canceller: store})
	defer p.Attach(store)()

	failing := engine.NewTask("/src/fail.bin", "/fail.bin", "")
	passing := engine.NewTask("/src/ok.bin", "/ok.bin", "")

	var (
		mu      sync.Mutex
		samples []int64
	)
	defer store.Subscribe(func(tasks []engine.Task) {
		for _, task := range tasks {
			if task.ID == passing.ID && task.Status == engine.StatusUploading {
				mu.Lock()
				samples = append(samples, task.Progress.BytesTransferred)
				mu.Unlock()
			}
		}
	})()

	executor := engine.NewExecutor(store, src, client,
		engine.WithProgressConfig(engine.ProgressConfig{Interval: engine.MinProgressInterval}))
	queue := engine.NewQueue(context.Background(), store, executor, 1, 4, nil)

	for _, task := range []engine.Task{failing, passing} {
		if err := queue.Submit(context.Background(), task); err != nil {
			t.Fatalf("Submit(%s) failed: %v", task.TargetPath, err)
		}
	}

	done := make(chan struct{})
	go func() {
		queue.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		queue.Stop()
		t.Fatal("uploads did not settle")
	}

	got, _ := store.Get(failing.ID)
	if got.Status != engine.StatusFailed || got.Error == "" {
		t.Errorf("Expected the dropped upload to be FAILED with a message, got %s %q", got.Status, got.Error)
	}

	got, _ = store.Get(passing.ID)
	if got.Status != engine.StatusCompleted {
		t.Errorf("Expected the second upload COMPLETED, got %s %q", got.Status, got.Error)
	}
	dev.mu.Lock()
	if n := dev.received["/ok.bin"]; n != len(okData) {
		t.Errorf("Device received %d bytes of ok.bin, want %d", n, len(okData))
	}
	if _, ok := dev.received["/fail.bin"]; ok {
		t.Error("The dropped upload must not be recorded as received")
	}
	dev.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	var distinct []int64
	for i, n := range samples {
		if i > 0 && n < samples[i-1] {
			t.Fatalf("Transferred bytes went backwards: %v", samples)
		}
		if n > 0 && (len(distinct) == 0 || distinct[len(distinct)-1] != n) {
			distinct = append(distinct, n)
		}
	}
	if len(distinct) < 2 {
		t.Errorf("Expected several increasing progress samples, got %v", samples)
	}

	// The uploads run one after the other, so each gets its own session.
	checkTransitions(t, p, 2, 2)
	checkCounts(t, "wake", wake, 2, 2)
	checkCounts(t, "wifi", wifi, 2, 2)
	if p.State() != Idle {
		t.Errorf("Expected IDLE once the queue drained, got %s", p.State())
	}
	if notes.withdrawn != 2 {
		t.Errorf("Expected the notification withdrawn after each session, got %d", notes.withdrawn)
	}
}
