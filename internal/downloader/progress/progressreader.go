package progress

import "io"

// Func receives the bytes on disk so far (including any resumed prefix) and
// the declared total, which is 0 when unknown.
type Func func(written, total int64)

// Reader wraps an io.Reader and reports progress every interval bytes.
type Reader struct {
	r        io.Reader
	written  int64
	total    int64
	interval int64
	pending  int64
	report   Func
}

// NewReader starts counting from offset, the size of an already present prefix.
func NewReader(r io.Reader, offset, total, interval int64, report Func) *Reader {
	return &Reader{
		r:        r,
		written:  offset,
		total:    total,
		interval: interval,
		report:   report,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n <= 0 {
		return n, err
	}

	pr.written += int64(n)
	pr.pending += int64(n)

	if pr.interval > 0 && pr.pending >= pr.interval {
		pr.report(pr.written, pr.total)
		pr.pending = 0
	}

	return n, err
}

// Written is the running byte count.
func (pr *Reader) Written() int64 {
	return pr.written
}
