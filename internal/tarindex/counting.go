package tarindex

import "io"

// countingReader tracks how many bytes the tar reader has pulled from the
// stream. Directly after Next the count is the payload offset of the entry.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}
