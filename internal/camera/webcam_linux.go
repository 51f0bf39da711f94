//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/blackjack/webcam"
)

// waitTimeout is the V4L2 frame wait in seconds
const waitTimeout = 5

// WithLogger sets the logger for the webcam
func WithLogger(logger *slog.Logger) func(*Webcam) {
	return func(w *Webcam) {
		w.logger = logger.With(
			slog.String("component", "camera"),
			slog.String("device", w.device),
		)
	}
}

// WithTimeout sets how long Frame waits for a fresh frame
func WithTimeout(timeout time.Duration) func(*Webcam) {
	return func(w *Webcam) {
		if timeout > 0 {
			w.timeout = timeout
		}
	}
}

// Webcam is a V4L2 camera streaming MJPEG. A background goroutine keeps the
// most recent frame so Frame never returns a stale buffered one.
type Webcam struct {
	device  string
	cam     *webcam.Webcam
	timeout time.Duration

	mu       sync.Mutex
	frame    []byte
	frameAt  time.Time
	notify   chan struct{} // closed and replaced on every frame
	closeErr error

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewWebcam opens a V4L2 device, selects MJPEG (or JPEG) at the largest frame
// size and starts streaming.
func NewWebcam(ctx context.Context, device string, options ...func(*Webcam)) (*Webcam, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	w := Webcam{
		device:  device,
		timeout: DefaultTimeout,
		notify:  make(chan struct{}),
		logger:  logger,
	}

	for _, option := range options {
		option(&w)
	}

	cam, err := webcam.Open(device)
	if err != nil {
		return nil, fmt.Errorf("opening camera '%s': %w", device, err)
	}

	if err = configure(cam); err != nil {
		_ = cam.Close()
		return nil, fmt.Errorf("configuring camera '%s': %w", device, err)
	}

	if err = cam.StartStreaming(); err != nil {
		_ = cam.Close()
		return nil, fmt.Errorf("starting camera '%s': %w", device, err)
	}

	w.cam = cam
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.readFrames(ctx)

	return &w, nil
}

func configure(cam *webcam.Webcam) error {
	formats := cam.GetSupportedFormats()

	var format webcam.PixelFormat
	for _, f := range []webcam.PixelFormat{fourcc("MJPG"), fourcc("JPEG")} {
		if formats[f] != "" {
			format = f
			break
		}
	}
	if format == 0 {
		return errors.New("no supported pixel format, MJPEG or JPEG required")
	}

	sizes := cam.GetSupportedFrameSizes(format)
	if len(sizes) == 0 {
		return errors.New("no supported frame sizes")
	}
	sort.Slice(sizes, func(i, j int) bool {
		return uint64(sizes[i].MaxWidth)*uint64(sizes[i].MaxHeight) > uint64(sizes[j].MaxWidth)*uint64(sizes[j].MaxHeight)
	})

	if _, _, _, err := cam.SetImageFormat(format, sizes[0].MaxWidth, sizes[0].MaxHeight); err != nil {
		return fmt.Errorf("setting image format: %w", err)
	}
	return nil
}

func fourcc(code string) webcam.PixelFormat {
	return webcam.PixelFormat(uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24)
}

// Frame returns the latest frame if it is younger than the timeout, otherwise
// it waits up to the timeout for the next one.
func (w *Webcam) Frame(ctx context.Context) ([]byte, error) {
	w.mu.Lock()
	if w.frame != nil && time.Since(w.frameAt) < w.timeout {
		frame := w.frame
		w.mu.Unlock()
		return frame, nil
	}
	notify := w.notify
	w.mu.Unlock()

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case <-notify:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.frame, nil

	case <-timer.C:
		return nil, ErrNoFrame

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops streaming and releases the device
func (w *Webcam) Close() error {
	w.cancel()
	w.wg.Wait()
	return w.closeErr
}

func (w *Webcam) readFrames(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		_ = w.cam.StopStreaming()
		w.closeErr = w.cam.Close()
	}()

	for ctx.Err() == nil {
		err := w.cam.WaitForFrame(waitTimeout)

		var timeout *webcam.Timeout
		if errors.As(err, &timeout) {
			w.logger.Warn("timeout waiting for frame")
			continue
		}
		if err != nil {
			w.logger.Error(fmt.Sprintf("waiting for frame: %s", err.Error()))
			return
		}

		data, err := w.cam.ReadFrame()
		if err != nil {
			w.logger.Error(fmt.Sprintf("reading frame: %s", err.Error()))
			return
		}
		if len(data) == 0 {
			continue
		}

		frame := make([]byte, len(data)) // data points into the mmap buffer
		copy(frame, data)

		w.mu.Lock()
		w.frame = frame
		w.frameAt = time.Now()
		close(w.notify)
		w.notify = make(chan struct{})
		w.mu.Unlock()
	}
}
