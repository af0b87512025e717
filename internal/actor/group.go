// Package actor runs closures on single-writer goroutines keyed by an
// entity id. Every job submitted for the same key executes on that key's
// goroutine in submission order; different keys run independently. A key's
// goroutine exits after it has been idle for the configured timeout and is
// recreated on the next submission.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned when submitting to a closed Group
var ErrClosed = errors.New("actor group closed")

type job struct {
	ctx  context.Context
	fn   func() error
	done chan error
}

type mailbox struct {
	jobs chan job
	refs int
}

// Group owns one mailbox goroutine per active key
type Group struct {
	mu        sync.Mutex
	mailboxes map[string]*mailbox
	idle      time.Duration
	closed    bool
	quit      chan struct{}
	wg        sync.WaitGroup
}

// NewGroup creates a Group whose idle mailboxes stop after idle
func NewGroup(idle time.Duration) *Group {
	if idle <= 0 {
		idle = time.Minute
	}
	return &Group{
		mailboxes: make(map[string]*mailbox),
		idle:      idle,
		quit:      make(chan struct{}),
	}
}

// Do runs fn on key's goroutine and waits for it to finish. If ctx is done
// before fn starts, fn is skipped and ctx.Err() is returned.
func (g *Group) Do(ctx context.Context, key string, fn func() error) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	mb, ok := g.mailboxes[key]
	if !ok {
		mb = &mailbox{jobs: make(chan job, 64)}
		g.mailboxes[key] = mb
		g.wg.Add(1)
		go g.run(key, mb)
	}
	mb.refs++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		mb.refs--
		g.mu.Unlock()
	}()

	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case mb.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-g.quit:
		return ErrClosed
	}
	select {
	case err := <-j.done:
		return err
	case <-g.quit:
		return ErrClosed
	}
}

// Active returns the number of live mailboxes
func (g *Group) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.mailboxes)
}

// Close stops accepting jobs and waits for mailbox goroutines to exit.
// Jobs still queued are abandoned and their callers receive ErrClosed.
func (g *Group) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.quit)
	g.mailboxes = make(map[string]*mailbox)
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *Group) run(key string, mb *mailbox) {
	defer g.wg.Done()
	timer := time.NewTimer(g.idle)
	defer timer.Stop()

	for {
		select {
		case <-g.quit:
			return

		case j := <-mb.jobs:
			j.done <- execute(j)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(g.idle)

		case <-timer.C:
			g.mu.Lock()
			if mb.refs == 0 && len(mb.jobs) == 0 {
				if cur, ok := g.mailboxes[key]; ok && cur == mb {
					delete(g.mailboxes, key)
				}
				g.mu.Unlock()
				return
			}
			g.mu.Unlock()
			timer.Reset(g.idle)
		}
	}
}

func execute(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("actor job panicked: %v", r)
		}
	}()
	return j.fn()
}
