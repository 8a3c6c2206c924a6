package batchimport

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type subscriber struct {
	id int
	fn func(Status)
	// seen is the sequence of the last snapshot delivered. Only the draining goroutine
	// touches it.
	seen uint64
}

type event struct {
	seq    uint64
	status Status
	// join is set for the initial delivery to a new subscriber.
	join *subscriber
}

// subscriberList fans status snapshots out to listeners. Every listener gets its own copy
// and a panicking listener is logged and skipped.
//
// Snapshots are queued and delivered by one goroutine at a time, in queue order, and a
// listener never receives a snapshot older than one it already saw. A listener may call
// back into the Manager: its snapshot is queued and delivered once it returns.
type subscriberList struct {
	mu       sync.Mutex
	nextID   int
	subs     []*subscriber
	queue    []event
	draining bool
	log      *logrus.Entry
}

// subscribe registers fn and delivers status to it before any later snapshot.
func (l *subscriberList) subscribe(fn func(Status), seq uint64, status Status) int {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.queue = append(l.queue, event{seq: seq, status: status, join: &subscriber{id: id, fn: fn}})
	l.mu.Unlock()

	l.drain()
	return id
}

func (l *subscriberList) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			break
		}
	}
	for i, ev := range l.queue {
		if ev.join != nil && ev.join.id == id {
			l.queue = append(l.queue[:i:i], l.queue[i+1:]...)
			return
		}
	}
}

func (l *subscriberList) publish(seq uint64, s Status) {
	l.mu.Lock()
	l.queue = append(l.queue, event{seq: seq, status: s})
	l.mu.Unlock()

	l.drain()
}

func (l *subscriberList) drain() {
	l.mu.Lock()
	if l.draining {
		l.mu.Unlock()
		return
	}
	l.draining = true
	for len(l.queue) > 0 {
		ev := l.queue[0]
		l.queue = l.queue[1:]

		var targets []*subscriber
		if ev.join != nil {
			l.subs = append(l.subs, ev.join)
			targets = []*subscriber{ev.join}
		} else {
			targets = append(targets, l.subs...)
		}
		l.mu.Unlock()

		for _, sub := range targets {
			if ev.join == nil && ev.seq <= sub.seen {
				continue
			}
			sub.seen = ev.seq
			l.deliver(sub, ev.status.clone())
		}
		l.mu.Lock()
	}
	l.draining = false
	l.mu.Unlock()
}

func (l *subscriberList) deliver(sub *subscriber, s Status) {
	defer func() {
		if r := recover(); r != nil && l.log != nil {
			l.log.WithField("subscriber", sub.id).Errorf("batchimport: subscriber panicked: %v", r)
		}
	}()
	sub.fn(s)
}
