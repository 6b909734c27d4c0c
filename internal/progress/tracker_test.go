package progress

import (
	"image"
	"testing"
	"time"

	"github.com/koios/gencast/pkg/models"
)

func TestTracker(t *testing.T) {
	tr := NewTracker()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return start }

	if _, ok := tr.Current(); ok {
		t.Fatal("Expected no job initially")
	}

	frame := image.NewRGBA(image.Rect(0, 0, 4, 4))
	tr.Update(models.Progress{JobID: "a", PreviewSeq: 1, Image: frame})

	p, ok := tr.Current()
	if !ok || p.JobID != "a" || p.PreviewSeq != 1 {
		t.Fatalf("Unexpected progress %+v", p)
	}
	if !p.StartedAt.Equal(start) {
		t.Errorf("Expected start %v, got %v", start, p.StartedAt)
	}

	t.Run("same job keeps start time", func(t *testing.T) {
		tr.now = func() time.Time { return start.Add(time.Minute) }
		tr.Update(models.Progress{JobID: "a", PreviewSeq: 2, Image: frame})
		p, _ := tr.Current()
		if !p.StartedAt.Equal(start) || p.PreviewSeq != 2 {
			t.Errorf("Unexpected progress %+v", p)
		}
	})

	t.Run("new job resets start time", func(t *testing.T) {
		tr.Update(models.Progress{JobID: "b", PreviewSeq: 1, Image: frame})
		p, _ := tr.Current()
		if !p.StartedAt.Equal(start.Add(time.Minute)) {
			t.Errorf("Unexpected start %v", p.StartedAt)
		}
	})

	t.Run("finish other job is ignored", func(t *testing.T) {
		tr.Finish("a")
		if _, ok := tr.Current(); !ok {
			t.Error("Expected job b still active")
		}
	})

	t.Run("finish current job", func(t *testing.T) {
		tr.Finish("b")
		if _, ok := tr.Current(); ok {
			t.Error("Expected no active job")
		}
	})
}
