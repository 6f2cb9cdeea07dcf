package cantransport

import (
	"context"
	"time"
)

// CollectFrames drains frameCh until expected frames have been read or
// deadline elapses, whichever comes first. It is shared by the backend
// implementations, which differ only in how frameCh is fed.
func CollectFrames(ctx context.Context, frameCh <-chan Frame, expected int, deadline time.Duration) ([]Frame, error) {
	collectCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	frames := make([]Frame, 0, expected)
	for len(frames) < expected {
		select {
		case f := <-frameCh:
			frames = append(frames, f)
		case <-collectCtx.Done():
			return frames, nil
		}
	}
	return frames, nil
}
