package sync

import (
	"context"
	"testing"
	"time"

	"github.com/gridpoint-io/meterwms/internal/remote"
	"github.com/gridpoint-io/meterwms/internal/utils"
)

func fastRetry() utils.RetryConfig {
	return utils.RetryConfig{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestMonitorStartsOffline(t *testing.T) {
	m := NewMonitor(newFakeRemote(), MonitorConfig{})
	if m.Status() != StatusOffline {
		t.Errorf("expected offline before first check, got %v", m.Status())
	}
}

func TestMonitorDetectsOnline(t *testing.T) {
	fr := newFakeRemote()
	m := NewMonitor(fr, MonitorConfig{Retry: fastRetry()})

	if got := m.Check(context.Background()); got != StatusOnline {
		t.Fatalf("expected online, got %v", got)
	}
	if !m.Online() {
		t.Error("Online() should be true after successful check")
	}
	if m.LastChecked().IsZero() {
		t.Error("LastChecked should be set")
	}
}

func TestMonitorDetectsOffline(t *testing.T) {
	fr := newFakeRemote()
	fr.failing = true
	m := NewMonitor(fr, MonitorConfig{Retry: fastRetry()})

	if got := m.Check(context.Background()); got != StatusOffline {
		t.Fatalf("expected offline, got %v", got)
	}
	if m.Online() {
		t.Error("Online() should be false after failed check")
	}
}

func TestMonitorUnconfiguredRemoteIsOffline(t *testing.T) {
	m := NewMonitor(remote.NewClient("", ""), MonitorConfig{Retry: fastRetry()})
	if got := m.Check(context.Background()); got != StatusOffline {
		t.Fatalf("unconfigured remote must read offline, got %v", got)
	}
}

func TestMonitorRetriesBeforeConcludingOffline(t *testing.T) {
	fr := newFakeRemote()
	fr.failing = true
	m := NewMonitor(fr, MonitorConfig{Retry: utils.RetryConfig{Attempts: 3, BaseDelay: 50 * time.Millisecond}})

	// Recover after the first failed probe; the retry budget should
	// pick it up within the same Check call.
	go func() {
		time.Sleep(10 * time.Millisecond)
		fr.mu.Lock()
		fr.failing = false
		fr.mu.Unlock()
	}()

	if got := m.Check(context.Background()); got != StatusOnline {
		t.Fatalf("expected recovery within retry budget, got %v", got)
	}
}

func TestMonitorRestartAfterStop(t *testing.T) {
	m := NewMonitor(newFakeRemote(), MonitorConfig{Interval: time.Hour})

	// A second cycle must get a fresh stop channel, not a closed one.
	m.Start()
	m.Stop()
	m.Start()
	m.Stop()
}

func TestMonitorNotifiesOnChange(t *testing.T) {
	fr := newFakeRemote()
	m := NewMonitor(fr, MonitorConfig{Retry: fastRetry()})

	var flips []ConnStatus
	m.SetOnChange(func(s ConnStatus) { flips = append(flips, s) })

	m.Check(context.Background()) // offline -> online
	m.Check(context.Background()) // still online, no event
	fr.mu.Lock()
	fr.failing = true
	fr.mu.Unlock()
	m.Check(context.Background()) // online -> offline

	want := []ConnStatus{StatusOnline, StatusOffline}
	if len(flips) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), flips)
	}
	for i := range want {
		if flips[i] != want[i] {
			t.Errorf("event %d: expected %v, got %v", i, want[i], flips[i])
		}
	}
}
