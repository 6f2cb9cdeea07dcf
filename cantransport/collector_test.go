package cantransport

import (
	"context"
	"testing"
	"time"
)

func TestCollectFramesReturnsOnceExpectedArrive(t *testing.T) {
	ch := make(chan Frame, 4)
	ch <- Frame{ID: 1}
	ch <- Frame{ID: 2}

	frames, err := CollectFrames(context.Background(), ch, 2, time.Second)
	if err != nil {
		t.Fatalf("CollectFrames: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
}

func TestCollectFramesReturnsPartialOnDeadline(t *testing.T) {
	ch := make(chan Frame)
	frames, err := CollectFrames(context.Background(), ch, 5, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("CollectFrames: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("got %d frames, want 0", len(frames))
	}
}

func TestCollectFramesRespectsParentCancellation(t *testing.T) {
	ch := make(chan Frame)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	frames, err := CollectFrames(ctx, ch, 5, time.Second)
	if err != nil {
		t.Fatalf("CollectFrames: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("got %d frames, want 0", len(frames))
	}
}
