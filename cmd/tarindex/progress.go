package main

import (
	"fmt"
	"io"
)

// progress prints whole percentages, only when the value changes.
type progress struct {
	w       io.Writer
	url     string
	started bool
	last    int64
}

func newProgress(w io.Writer, url string) *progress {
	return &progress{w: w, url: url, last: -1}
}

func (p *progress) update(read, total int64) {
	if !p.started {
		p.started = true
		fmt.Fprintf(p.w, "%s, %d MB\n", p.url, total>>20)
	}

	pct := int64(100)
	if total > 0 {
		pct = min(100*read/total, 100)
	}
	if pct == p.last {
		return
	}
	p.last = pct
	fmt.Fprintf(p.w, " %d%%\n", pct)
}
