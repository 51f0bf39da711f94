package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/pioneer-control/internal/flight"
	"github.com/roman-kulish/pioneer-control/internal/rc"
	"github.com/roman-kulish/pioneer-control/internal/telemetry"
)

type fakeLink struct {
	mu        sync.Mutex
	ctx       context.Context // context the link was created with
	connected bool
	landErr   error
	statusURL string // when set, Land records whether the HTTP facade still answers
	calls     []string
}

func (l *fakeLink) record(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = append(l.calls, call)
}

func (l *fakeLink) called() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.calls...)
}

func (l *fakeLink) Get() *telemetry.Telemetry { return &telemetry.Telemetry{} }
func (l *fakeLink) Connected() bool           { return l.connected }

func (l *fakeLink) Distance(ctx context.Context, useCache bool) (float64, bool) {
	return 0, false
}

func (l *fakeLink) Arm(ctx context.Context) error     { return nil }
func (l *fakeLink) Takeoff(ctx context.Context) error { return nil }

// Land fails like a link whose message loop is gone once its context is done
func (l *fakeLink) Land(ctx context.Context) error {
	call := "land"
	if l.statusURL != "" {
		client := http.Client{Timeout: 200 * time.Millisecond}
		if resp, err := client.Get(l.statusURL); err == nil {
			resp.Body.Close()
			call = "land(http up)"
		}
	}
	l.record(call)

	if l.ctx != nil && l.ctx.Err() != nil {
		return fmt.Errorf("land: %w", flight.ErrAckTimeout)
	}
	return l.landErr
}

func (l *fakeLink) Disarm(ctx context.Context) error {
	l.record("disarm")
	if l.ctx != nil && l.ctx.Err() != nil {
		return fmt.Errorf("disarm: %w", flight.ErrAckTimeout)
	}
	return nil
}

func (l *fakeLink) SendChannels(ctx context.Context, channels rc.Channels) error { return nil }

func (l *fakeLink) Close() error {
	l.record("close")
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLand(t *testing.T) {
	testCases := []struct {
		name string
		link *fakeLink
		want []string
	}{
		{"connected", &fakeLink{connected: true}, []string{"land", "disarm"}},
		{"land fails", &fakeLink{connected: true, landErr: errors.New("denied")}, []string{"land"}},
		{"not connected", &fakeLink{}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			land(context.Background(), tc.link, 0, discardLogger())

			if got := tc.link.called(); !slices.Equal(got, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}
}

func freeAddress(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().String()
}

func testRunConfig(t *testing.T) *Config {
	t.Helper()

	config := DefaultConfig()
	config.HTTP.Address = freeAddress(t)
	config.Control.SettleDelay = 0
	config.Control.MonitorInterval = Duration(10 * time.Millisecond)
	return config
}

func startRun(t *testing.T, ctx context.Context, config *Config, link *fakeLink) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, config, discardLogger(), func(ctx context.Context) (flight.Link, error) {
			link.ctx = ctx
			return link, nil
		})
	}()

	// wait for the facade to come up
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(link.statusURL)
		if err == nil {
			resp.Body.Close()
			return done
		}
		if time.Now().After(deadline) {
			t.Fatalf("HTTP facade did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitRun(t *testing.T, done <-chan error) {
	t.Helper()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRun_LandsAfterCancellation(t *testing.T) {
	config := testRunConfig(t)
	link := &fakeLink{connected: true, statusURL: "http://" + config.HTTP.Address + "/?action=status"}

	ctx, cancel := context.WithCancel(context.Background())
	done := startRun(t, ctx, config, link)

	cancel()
	waitRun(t, done)

	want := []string{"land", "disarm", "close"}
	if got := link.called(); !slices.Equal(got, want) {
		t.Errorf("Expected the HTTP facade to stop before %v, got %v", want, got)
	}
}

func TestRun_LandsAfterExitAction(t *testing.T) {
	config := testRunConfig(t)
	link := &fakeLink{connected: true, statusURL: "http://" + config.HTTP.Address + "/?action=status"}

	done := startRun(t, context.Background(), config, link)

	resp, err := http.Get("http://" + config.HTTP.Address + "/?action=exit")
	if err != nil {
		t.Fatalf("Exit request failed: %v", err)
	}
	resp.Body.Close()

	waitRun(t, done)

	// the exit action lands while serving, the final sequence runs after the facade is down
	want := []string{"land(http up)", "land", "disarm", "close"}
	if got := link.called(); !slices.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
