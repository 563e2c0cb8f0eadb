package mount

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statResult(err error) func(string) (fs.FileInfo, error) {
	return func(string) (fs.FileInfo, error) {
		return nil, err
	}
}

func TestClearStale(t *testing.T) {
	t.Parallel()

	stale := &os.PathError{Op: "stat", Path: "/mnt", Err: syscall.ENOTCONN}
	refused := errors.New("operation not permitted")

	tests := []struct {
		name      string
		statErr   error
		results   []error
		wantCalls []string
		wantErr   bool
	}{
		{name: "healthy mountpoint", statErr: nil, results: []error{nil}},
		{name: "missing mountpoint", statErr: os.ErrNotExist, results: []error{nil}},
		{name: "first detacher succeeds", statErr: stale, results: []error{nil, nil}, wantCalls: []string{"a"}},
		{name: "falls back", statErr: stale, results: []error{refused, nil}, wantCalls: []string{"a", "b"}},
		{name: "all fail", statErr: stale, results: []error{refused, refused}, wantCalls: []string{"a", "b"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls []string
			var detachers []detacher
			for i, res := range tt.results {
				name := string(rune('a' + i))
				detachers = append(detachers, detacher{name: name, run: func(mp string) error {
					assert.Equal(t, "/mnt", mp)
					calls = append(calls, name)
					return res
				}})
			}

			err := clearStale("/mnt", statResult(tt.statErr), detachers, slog.New(slog.DiscardHandler))
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, syscall.ENOTCONN)
				assert.ErrorIs(t, err, refused)
				return
			}
			require.NoError(t, err)
		})
	}
}
