package transfer

import (
	"io"
	"sync"
)

// progress reports whole percentages of bytes read. It never reports 100;
// completion is only known once storage has answered.
type progress struct {
	mu     sync.Mutex
	total  int64
	read   int64
	last   int
	done   bool
	notify func(int)
}

func newProgress(total int64, notify func(int)) *progress {
	return &progress{total: total, last: -1, notify: notify}
}

// emit calls notify with pct if it advances the sequence.
func (p *progress) emit(pct int) {
	if p.notify == nil || pct <= p.last {
		return
	}
	p.last = pct
	p.notify(pct)
}

func (p *progress) add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done || n <= 0 {
		return
	}
	p.read += int64(n)
	pct := int(p.read * 100 / p.total)
	if pct > 99 {
		pct = 99
	}
	p.emit(pct)
}

// finish stops further reports. When ok it emits the final 100.
func (p *progress) finish(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	if ok {
		p.emit(100)
	}
}

// reader counts bytes as the transport consumes the body. The transport may
// read from its own goroutine.
type reader struct {
	r io.Reader
	p *progress
}

func (r *reader) Read(b []byte) (int, error) {
	n, err := r.r.Read(b)
	r.p.add(n)
	return n, err
}
