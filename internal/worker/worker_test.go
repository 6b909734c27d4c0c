package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koios/gencast/internal/cast"
	"github.com/koios/gencast/internal/notify"
	"github.com/koios/gencast/internal/publish"
	"github.com/koios/gencast/pkg/models"
	"go.uber.org/zap"
)

const testBaseURL = "http://127.0.0.1:7861/file="

type play struct {
	url string
	at  time.Time
}

type fakeReceiver struct {
	mu    sync.Mutex
	plays []play
	ch    chan play
}

func (r *fakeReceiver) Name() string { return "Test TV" }

func (r *fakeReceiver) WaitReady(ctx context.Context, timeout time.Duration) error { return nil }

func (r *fakeReceiver) Play(ctx context.Context, url, mimeType string) error {
	p := play{url: url, at: time.Now()}
	r.mu.Lock()
	r.plays = append(r.plays, p)
	r.mu.Unlock()
	if r.ch != nil {
		r.ch <- p
	}
	return nil
}

func (r *fakeReceiver) Close() error { return nil }

type fakeDiscoverer struct {
	mu       sync.Mutex
	receiver *fakeReceiver
	calls    int
}

func (d *fakeDiscoverer) ListDevices(ctx context.Context) ([]string, error) {
	return []string{"Test TV"}, nil
}

func (d *fakeDiscoverer) Discover(ctx context.Context, name string) (cast.Receiver, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if name != "Test TV" {
		return nil, fmt.Errorf("%w: %s", cast.ErrDeviceNotFound, name)
	}
	return d.receiver, nil
}

func (d *fakeDiscoverer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	return img
}

func bitmapSub(lines ...string) models.Submission {
	return models.BitmapSubmission{
		SubmissionMeta: models.NewMeta(time.Now(), lines...),
		Image:          testImage(),
	}
}

func newTestWorker(t *testing.T, cfg models.CastConfig, opts Options) (*Worker, *fakeDiscoverer, *fakeReceiver) {
	t.Helper()
	rcv := &fakeReceiver{ch: make(chan play, 16)}
	disc := &fakeDiscoverer{receiver: rcv}
	if cfg.Kind == "" {
		cfg.Kind = models.ReceiverChromecast
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "Test TV"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	if cfg.BaseCallbackURL == "" {
		cfg.BaseCallbackURL = testBaseURL
	}
	if opts.Wait == 0 {
		opts.Wait = 20 * time.Millisecond
	}
	if opts.PaceStep == 0 {
		opts.PaceStep = 10 * time.Millisecond
	}
	w, err := New(cfg, NewQueue(cfg.QueueSize), disc, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	return w, disc, rcv
}

func runWorker(t *testing.T, w *Worker) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return cancel, errCh
}

func waitPlay(t *testing.T, rcv *fakeReceiver) play {
	t.Helper()
	select {
	case p := <-rcv.ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for play")
		return play{}
	}
}

func waitCast(t *testing.T, w *Worker, n int64) Stats {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := w.Stats()
		if s.Cast >= n || time.Now().After(deadline) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorkerCastsSubmission(t *testing.T) {
	tempDir := t.TempDir()
	w, _, rcv := newTestWorker(t, models.CastConfig{TempDir: tempDir}, Options{})
	runWorker(t, w)

	w.Queue().Put(bitmapSub("a cat"))
	p := waitPlay(t, rcv)

	if !strings.HasPrefix(p.url, testBaseURL) {
		t.Fatalf("Unexpected url %s", p.url)
	}
	path, ok := publish.ResolveURL(testBaseURL, p.url)
	if !ok {
		t.Fatalf("URL %s does not resolve", p.url)
	}
	absTemp, _ := filepath.Abs(tempDir)
	if filepath.Dir(path) != absTemp {
		t.Errorf("Expected file in %s, got %s", absTemp, path)
	}
	if !strings.HasPrefix(filepath.Base(path), models.KindBitmap.FilePrefix()) {
		t.Errorf("Expected %s prefix, got %s", models.KindBitmap.FilePrefix(), filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Artifact missing: %v", err)
	}

	stats := waitCast(t, w, 1)
	if stats.Cast != 1 || stats.LastURL != p.url {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestWorkerPacing(t *testing.T) {
	interval := 150 * time.Millisecond
	w, _, rcv := newTestWorker(t, models.CastConfig{MinInterval: interval}, Options{})
	runWorker(t, w)

	w.Queue().Put(bitmapSub())
	w.Queue().Put(bitmapSub())
	w.Queue().Put(bitmapSub())

	first := waitPlay(t, rcv)
	second := waitPlay(t, rcv)
	third := waitPlay(t, rcv)

	if gap := second.at.Sub(first.at); gap < interval {
		t.Errorf("Second play only %s after first", gap)
	}
	if gap := third.at.Sub(second.at); gap < interval {
		t.Errorf("Third play only %s after second", gap)
	}
}

func TestWorkerStopWhileIdle(t *testing.T) {
	w, _, _ := newTestWorker(t, models.CastConfig{}, Options{Wait: 100 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	start := time.Now()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected nil error, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
			t.Errorf("Stop took %s", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Worker did not stop")
	}
}

func TestWorkerUnsupportedReceiver(t *testing.T) {
	w, disc, rcv := newTestWorker(t, models.CastConfig{Kind: models.ReceiverAirPlay}, Options{})
	w.Queue().Put(bitmapSub())
	w.Queue().Put(bitmapSub())

	err := w.Run(context.Background())
	if !errors.Is(err, cast.ErrUnsupportedReceiver) {
		t.Fatalf("Expected ErrUnsupportedReceiver, got %v", err)
	}
	if disc.Calls() != 0 {
		t.Errorf("Expected no discovery, got %d calls", disc.Calls())
	}
	if len(rcv.plays) != 0 {
		t.Errorf("Expected no plays, got %d", len(rcv.plays))
	}
	if w.Queue().Len() != 2 {
		t.Errorf("Expected queue untouched, got %d items", w.Queue().Len())
	}
}

func TestWorkerContinuesAfterFailure(t *testing.T) {
	notices := notify.NewBuffer(10)
	w, _, rcv := newTestWorker(t, models.CastConfig{}, Options{Notifier: notices})
	runWorker(t, w)

	w.Queue().Put(models.FileSubmission{Path: filepath.Join(t.TempDir(), "missing.png")})
	w.Queue().Put(bitmapSub())

	waitPlay(t, rcv)

	stats := waitCast(t, w, 1)
	if stats.Failed != 1 || stats.Cast != 1 {
		t.Errorf("Expected 1 failed and 1 cast, got %+v", stats)
	}

	found := false
	for _, n := range notices.Recent() {
		if n.Level == models.NoticeWarning && n.Message == "Failed to read submitted image" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected decode warning, got %+v", notices.Recent())
	}
}

func TestWorkerDeviceNotFoundRetries(t *testing.T) {
	w, disc, _ := newTestWorker(t, models.CastConfig{DeviceName: "Other TV"}, Options{})
	runWorker(t, w)

	w.Queue().Put(bitmapSub())
	w.Queue().Put(bitmapSub())

	deadline := time.Now().Add(2 * time.Second)
	for disc.Calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if disc.Calls() < 2 {
		t.Fatalf("Expected a discovery per submission, got %d", disc.Calls())
	}
	if s := w.Stats().State; s != cast.StateDisconnected.String() {
		t.Errorf("Expected disconnected, got %s", s)
	}
}

type staticProgress struct {
	mu sync.Mutex
	p  models.Progress
	ok bool
}

func (s *staticProgress) Current() (models.Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p, s.ok
}

func (s *staticProgress) Set(p models.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p, s.ok = p, true
}

func TestWorkerLivePreview(t *testing.T) {
	progress := &staticProgress{}
	progress.Set(models.Progress{JobID: "job-1", PreviewSeq: 1, Image: testImage(), StartedAt: time.Now()})

	w, _, rcv := newTestWorker(t, models.CastConfig{MinInterval: time.Millisecond}, Options{
		Progress:    progress,
		LivePreview: func() bool { return true },
	})
	runWorker(t, w)

	p := waitPlay(t, rcv)
	path, _ := publish.ResolveURL(testBaseURL, p.url)
	if !strings.HasPrefix(filepath.Base(path), models.KindInProgress.FilePrefix()) {
		t.Errorf("Expected preview prefix, got %s", filepath.Base(path))
	}

	// same frame is not cast twice
	select {
	case extra := <-rcv.ch:
		t.Fatalf("Unexpected repeat play %s", extra.url)
	case <-time.After(100 * time.Millisecond):
	}

	progress.Set(models.Progress{JobID: "job-1", PreviewSeq: 2, Image: testImage()})
	waitPlay(t, rcv)
}

func TestWorkerLivePreviewDisabled(t *testing.T) {
	progress := &staticProgress{}
	progress.Set(models.Progress{JobID: "job-1", PreviewSeq: 1, Image: testImage()})

	w, _, rcv := newTestWorker(t, models.CastConfig{}, Options{
		Progress:    progress,
		LivePreview: func() bool { return false },
	})
	runWorker(t, w)

	select {
	case p := <-rcv.ch:
		t.Fatalf("Unexpected play %s", p.url)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWorkerPreviewGoesThroughQueue(t *testing.T) {
	progress := &staticProgress{}
	progress.Set(models.Progress{JobID: "job-7", PreviewSeq: 3, Image: testImage()})

	w, _, _ := newTestWorker(t, models.CastConfig{}, Options{
		Progress:    progress,
		LivePreview: func() bool { return true },
	})

	if !w.enqueuePreview() {
		t.Fatal("Expected preview to be queued")
	}
	if w.enqueuePreview() {
		t.Error("Expected the same frame not to be queued twice")
	}
	if got := w.Queue().Len(); got != 1 {
		t.Fatalf("Expected 1 queued submission, got %d", got)
	}

	sub, ok := w.Queue().Get(context.Background(), time.Millisecond)
	if !ok || sub.Kind() != models.KindInProgress {
		t.Errorf("Expected queued in progress submission, got %v", sub)
	}
}

func TestWorkerFileRoundTrip(t *testing.T) {
	src := filepath.Join(t.TempDir(), "input.png")
	f, err := os.Create(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, testImage()); err != nil {
		t.Fatal(err)
	}
	f.Close()

	tempDir := t.TempDir()
	w, _, rcv := newTestWorker(t, models.CastConfig{TempDir: tempDir}, Options{})
	runWorker(t, w)

	w.Queue().Put(models.FileSubmission{SubmissionMeta: models.NewMeta(time.Now()), Path: src})
	p := waitPlay(t, rcv)

	path, ok := publish.ResolveURL(testBaseURL, p.url)
	if !ok {
		t.Fatalf("URL %s does not resolve", p.url)
	}
	absTemp, _ := filepath.Abs(tempDir)
	if filepath.Dir(path) != absTemp {
		t.Errorf("Expected artifact under %s, got %s", absTemp, path)
	}
	if !strings.HasPrefix(filepath.Base(path), models.KindFile.FilePrefix()) {
		t.Errorf("Expected %s prefix, got %s", models.KindFile.FilePrefix(), filepath.Base(path))
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		t.Errorf("Artifact missing: %v", err)
	}
}
