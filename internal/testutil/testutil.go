// Package testutil provides fixtures shared by the module's tests.
package testutil

import (
	"io"
	"sync/atomic"
)

// MockByteSource implements a simple in-memory byte source for tests.
type MockByteSource struct {
	id    string
	data  []byte
	reads atomic.Int64
	// Fail, when set, is returned by every ReadAt call.
	Fail error
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(id string, data []byte) *MockByteSource {
	return &MockByteSource{id: id, data: data}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	if m.Fail != nil {
		return 0, m.Fail
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns the identifier given at construction.
func (m *MockByteSource) SourceID() string {
	return m.id
}

// Reads returns the number of ReadAt calls made so far.
func (m *MockByteSource) Reads() int64 {
	return m.reads.Load()
}
