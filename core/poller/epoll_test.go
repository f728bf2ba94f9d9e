//go:build linux

package poller

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestEpollPoller_OneShot(t *testing.T) {
	p, err := NewPoller(16)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	local, remote := socketPair(t)
	if err := p.Add(local); err != nil {
		t.Fatalf("Add: %v", err)
	}

	unix.Write(remote, []byte("ping"))

	events, err := p.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 1 || events[0].Fd != local || !events[0].Readable {
		t.Fatalf("unexpected events: %+v", events)
	}

	// More data arrives, but the registration is disabled until re-armed.
	unix.Write(remote, []byte("pong"))
	events, err = p.Wait(50)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("event delivered without re-arm: %+v", events)
	}

	// Re-arming with unread data pending reports readiness again.
	if err := p.Rearm(local); err != nil {
		t.Fatalf("Rearm: %v", err)
	}
	events, err = p.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 1 || events[0].Fd != local {
		t.Fatalf("no event after re-arm: %+v", events)
	}

	if err := p.Remove(local); err != nil {
		t.Errorf("Remove: %v", err)
	}
	if err := p.Rearm(local); err == nil {
		t.Error("Rearm after Remove should fail")
	}
}

func TestEpollPoller_Wake(t *testing.T) {
	p, err := NewPoller(4)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	done := make(chan []Event, 1)
	go func() {
		events, _ := p.Wait(-1)
		done <- events
	}()

	time.Sleep(20 * time.Millisecond)
	if err := p.Wake(); err != nil {
		t.Fatalf("Wake: %v", err)
	}

	select {
	case events := <-done:
		if len(events) != 0 {
			t.Errorf("wake-up leaked as an event: %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait was not interrupted by Wake")
	}
}

func TestEpollPoller_WaitTimeout(t *testing.T) {
	p, err := NewPoller(4)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	start := time.Now()
	events, err := p.Wait(30)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("unexpected events: %+v", events)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Wait overran its timeout: %v", time.Since(start))
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := p.Close(); err != ErrClosed {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
}
