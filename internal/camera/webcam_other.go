//go:build !linux

package camera

import (
	"context"
	"log/slog"
	"time"
)

func WithLogger(logger *slog.Logger) func(*Webcam) {
	return func(*Webcam) {}
}

func WithTimeout(timeout time.Duration) func(*Webcam) {
	return func(*Webcam) {}
}

// Webcam is only available on Linux
type Webcam struct{}

func NewWebcam(ctx context.Context, device string, options ...func(*Webcam)) (*Webcam, error) {
	return nil, NewConfigError("camera: V4L2 capture is only supported on linux")
}

func (w *Webcam) Frame(ctx context.Context) ([]byte, error) {
	return nil, ErrNoFrame
}

func (w *Webcam) Close() error {
	return nil
}
