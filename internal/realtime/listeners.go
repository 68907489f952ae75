package realtime

import "sync"

type listeners struct {
	mu   sync.Mutex
	seq  int
	subs map[int]StateListener
}

func (l *listeners) add(fn StateListener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.subs == nil {
		l.subs = make(map[int]StateListener)
	}
	l.seq++
	id := l.seq
	l.subs[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *listeners) notify(connected bool) {
	l.mu.Lock()
	fns := make([]StateListener, 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}
