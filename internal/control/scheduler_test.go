package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/pioneer-control/internal/rc"
)

type recordingLink struct {
	mu     sync.Mutex
	frames []rc.Channels
	err    error
	block  chan struct{}
}

func (l *recordingLink) SendChannels(ctx context.Context, channels rc.Channels) error {
	if l.block != nil {
		<-l.block
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return l.err
	}
	l.frames = append(l.frames, channels)
	return nil
}

func (l *recordingLink) sent() []rc.Channels {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]rc.Channels(nil), l.frames...)
}

func tickN(s *Scheduler, n int) {
	for i := 0; i < n; i++ {
		s.Tick(context.Background())
	}
}

func TestScheduler_FlushAtThreshold(t *testing.T) {
	state := NewState(50*time.Millisecond, WithControlEnabled(true))
	link := &recordingLink{}
	s := NewScheduler(state, link)

	state.Command(rc.Pitch, rc.Move, rc.Negative)

	tickN(s, 9)
	if len(link.sent()) != 0 {
		t.Fatal("Expected no transmission below the flush threshold")
	}

	tickN(s, 1)
	frames := link.sent()
	if len(frames) != 1 {
		t.Fatalf("Expected 1 transmission, got %d", len(frames))
	}
	if got := frames[0].Get(rc.Pitch); got != 1300 {
		t.Errorf("Expected transmitted pitch 1300, got %d", got)
	}
	if !state.Channels().IsNeutral() {
		t.Errorf("Expected neutral channels after a flush, got %s", state.Channels())
	}

	tickN(s, 10)
	frames = link.sent()
	if len(frames) != 2 || !frames[1].IsNeutral() {
		t.Errorf("Expected a neutral second transmission, got %v", frames)
	}

	st := s.Stats()
	if st.Ticks != 20 || st.Flushes != 2 || st.Transmissions != 2 {
		t.Errorf("Unexpected stats: %+v", st)
	}
}

func TestScheduler_DisabledDoesNotTransmit(t *testing.T) {
	state := NewState(50*time.Millisecond, WithControlEnabled(true))
	link := &recordingLink{}
	s := NewScheduler(state, link)

	state.Command(rc.Roll, rc.Move, rc.Positive)
	state.SetControlEnabled(false) // land

	tickN(s, 10)
	if len(link.sent()) != 0 {
		t.Error("Expected no transmission while control is disabled")
	}
	if !state.Channels().IsNeutral() {
		t.Error("Expected channels to be reset on a disabled flush")
	}
	if st := s.Stats(); st.Flushes != 1 || st.Transmissions != 0 {
		t.Errorf("Unexpected stats: %+v", st)
	}
}

func TestScheduler_TransmitErrorDoesNotStop(t *testing.T) {
	state := NewState(50*time.Millisecond, WithControlEnabled(true), WithFlushInterval(100*time.Millisecond))
	link := &recordingLink{err: errors.New("link down")}
	s := NewScheduler(state, link)

	tickN(s, 2)
	if st := s.Stats(); st.Failed != 1 {
		t.Errorf("Expected 1 failed transmission, got %+v", st)
	}

	link.mu.Lock()
	link.err = nil
	link.mu.Unlock()

	tickN(s, 2)
	if len(link.sent()) != 1 {
		t.Error("Expected the scheduler to recover after a failed transmission")
	}
}

func TestScheduler_StalledLink(t *testing.T) {
	state := NewState(50*time.Millisecond, WithControlEnabled(true), WithFlushInterval(100*time.Millisecond))
	link := &recordingLink{block: make(chan struct{})}
	s := NewScheduler(state, link, WithTransmitTimeout(10*time.Millisecond))

	start := time.Now()
	tickN(s, 2)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Tick blocked for %s on a stalled link", elapsed)
	}

	tickN(s, 2) // previous send still blocked
	st := s.Stats()
	if st.Failed != 1 || st.Skipped != 1 {
		t.Errorf("Expected 1 failed and 1 skipped flush, got %+v", st)
	}

	close(link.block)
	deadline := time.Now().Add(time.Second)
	for s.inFlight.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	tickN(s, 2)
	if st := s.Stats(); st.Transmissions != 1 {
		t.Errorf("Expected a transmission once the link recovered, got %+v", st)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	state := NewState(5*time.Millisecond, WithControlEnabled(true), WithFlushInterval(100*time.Millisecond))
	link := &recordingLink{}
	s := NewScheduler(state, link)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(link.sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("Expected scheduler to be stopped")
	}
	if len(link.sent()) == 0 {
		t.Fatal("Expected at least one transmission while running")
	}

	sent := len(link.sent())
	time.Sleep(50 * time.Millisecond)
	if len(link.sent()) != sent {
		t.Error("Expected no transmissions after Stop")
	}
}

func TestScheduler_ConcurrentCommandsNeverMix(t *testing.T) {
	state := NewState(50*time.Millisecond, WithControlEnabled(true), WithFlushInterval(100*time.Millisecond))
	link := &recordingLink{}
	s := NewScheduler(state, link, WithTransmitTimeout(time.Second))

	commands := []struct {
		ch   rc.Channel
		axis rc.Axis
		dir  rc.Direction
	}{
		{rc.Pitch, rc.Move, rc.Negative},
		{rc.Roll, rc.Move, rc.Positive},
		{rc.Yaw, rc.Turn, rc.Positive},
		{rc.Throttle, rc.Vertical, rc.Negative},
	}

	var wg sync.WaitGroup
	for _, cmd := range commands {
		cmd := cmd
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				state.Command(cmd.ch, cmd.axis, cmd.dir)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

loop:
	for {
		select {
		case <-done:
			break loop
		default:
			s.Tick(context.Background())
		}
	}

	for i, frame := range link.sent() {
		if active := frame.Active(); len(active) > 1 {
			t.Errorf("Frame %d mixes channels from different commands: %s", i, frame)
		}
	}
}
