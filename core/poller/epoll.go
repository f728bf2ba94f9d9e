//go:build linux
// +build linux

package poller

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// oneShotRead is the registration mode for client sockets:
// read interest, edge-triggered, disabled after each delivery.
const oneShotRead = unix.EPOLLIN | unix.EPOLLET | unix.EPOLLONESHOT

// EpollPoller is an epoll-based I/O multiplexer
type EpollPoller struct {
	epfd   int
	wakefd int

	// events and ready are allocated once and reused by every Wait
	events []unix.EpollEvent
	ready  []Event

	closeOnce sync.Once
}

// NewPoller creates a new Poller (Linux) able to report up to maxEvents
// descriptors per Wait
func NewPoller(maxEvents int) (Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 1024
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	// The wake descriptor stays level-triggered so a pending wake-up is
	// seen by every Wait until it is drained.
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakefd: %w", err)
	}

	return &EpollPoller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
		ready:  make([]Event, 0, maxEvents),
	}, nil
}

// Add registers fd for one-shot read readiness
func (p *EpollPoller) Add(fd int) error {
	ev := unix.EpollEvent{Events: oneShotRead, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Rearm enables one more readiness delivery for fd
func (p *EpollPoller) Rearm(fd int) error {
	ev := unix.EpollEvent{Events: oneShotRead, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Remove removes a file descriptor from the watch list
func (p *EpollPoller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait waits for I/O events. Wake-ups are drained here and never reported
// to the caller, so an empty result means "timeout or woken".
func (p *EpollPoller) Wait(timeout int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil {
		if err == unix.EINTR {
			return p.ready[:0], nil
		}
		return nil, fmt.Errorf("epoll wait: %w", err)
	}

	ready := p.ready[:0]
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		if fd == p.wakefd {
			p.drainWake()
			continue
		}
		ready = append(ready, Event{
			Fd:       fd,
			Readable: ev.Events&unix.EPOLLIN != 0,
			Hangup:   ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	p.ready = ready

	return ready, nil
}

// Wake interrupts a blocked Wait
func (p *EpollPoller) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(p.wakefd, buf[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (p *EpollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Close closes the Poller
func (p *EpollPoller) Close() error {
	err := ErrClosed
	p.closeOnce.Do(func() {
		unix.Close(p.wakefd)
		err = unix.Close(p.epfd)
	})
	return err
}
