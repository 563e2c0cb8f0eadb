package inflate

import (
	"bytes"
	"fmt"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleText(n int, seed uint64) []byte {
	words := []string{"crate", "tokio", "serde", "fn", "impl", "struct", "pub", "mod", "use", "let", "match", "\n", "{", "}", "//"}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var buf bytes.Buffer
	for buf.Len() < n {
		buf.WriteString(words[rng.IntN(len(words))])
		if rng.IntN(7) == 0 {
			fmt.Fprintf(&buf, "%d", rng.Uint32())
		}
		buf.WriteByte(' ')
	}
	return buf.Bytes()[:n]
}

func sampleRandom(n int, seed uint64) []byte {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.Uint32())
	}
	return b
}

func compress(t *testing.T, data []byte, level int) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	require.NoError(t, err)
	zw.Name = "fixture.tar"
	zw.Comment = "test"
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestReaderMatchesGzip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		data  []byte
		level int
	}{
		{"empty", nil, gzip.DefaultCompression},
		{"stored", sampleText(200_000, 1), gzip.NoCompression},
		{"huffman only", sampleText(100_000, 2), gzip.HuffmanOnly},
		{"best speed", sampleText(300_000, 3), gzip.BestSpeed},
		{"default", sampleText(300_000, 4), gzip.DefaultCompression},
		{"best compression", sampleText(150_000, 5), gzip.BestCompression},
		{"random", sampleRandom(100_000, 6), gzip.DefaultCompression},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			z, err := NewReader(bytes.NewReader(compress(t, tt.data, tt.level)))
			require.NoError(t, err)
			got, err := io.ReadAll(z)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), len(got))
			assert.True(t, bytes.Equal(tt.data, got), "decoded content differs")
			assert.Equal(t, int64(len(tt.data)), z.Offset())
		})
	}
}

func TestReaderIgnoresTrailingMembers(t *testing.T) {
	t.Parallel()

	first := sampleText(5000, 7)
	stream := append(compress(t, first, gzip.BestSpeed), compress(t, []byte("second"), gzip.BestSpeed)...)

	z, err := NewReader(bytes.NewReader(stream))
	require.NoError(t, err)
	got, err := io.ReadAll(z)
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestReaderDetectsCorruption(t *testing.T) {
	t.Parallel()

	data := sampleText(50_000, 8)
	gz := compress(t, data, gzip.DefaultCompression)

	t.Run("bad magic", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(gz)
		bad[0] = 0
		_, err := NewReader(bytes.NewReader(bad))
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("crc mismatch", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(gz)
		bad[len(bad)-8] ^= 0xff
		z, err := NewReader(bytes.NewReader(bad))
		require.NoError(t, err)
		_, err = io.ReadAll(z)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("length mismatch", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(gz)
		bad[len(bad)-1] ^= 0x01
		z, err := NewReader(bytes.NewReader(bad))
		require.NoError(t, err)
		_, err = io.ReadAll(z)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("truncated", func(t *testing.T) {
		t.Parallel()
		z, err := NewReader(bytes.NewReader(gz[:len(gz)/2]))
		require.NoError(t, err)
		_, err = io.ReadAll(z)
		require.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("truncated header", func(t *testing.T) {
		t.Parallel()
		_, err := NewReader(bytes.NewReader(gz[:4]))
		require.ErrorIs(t, err, ErrTruncated)
	})
}

func TestCheckpointsResume(t *testing.T) {
	t.Parallel()

	levels := []int{gzip.NoCompression, gzip.BestSpeed, gzip.DefaultCompression}
	for _, level := range levels {
		t.Run(fmt.Sprintf("level %d", level), func(t *testing.T) {
			t.Parallel()

			data := sampleText(1<<20, uint64(level+100)) //nolint:gosec // small positive
			gz := compress(t, data, level)

			var cps []Checkpoint
			z, err := NewReader(bytes.NewReader(gz), WithCheckpoints(64<<10, func(cp Checkpoint) {
				cps = append(cps, cp)
			}))
			require.NoError(t, err)
			got, err := io.ReadAll(z)
			require.NoError(t, err)
			require.Equal(t, data, got)
			require.NotEmpty(t, cps)

			for i := range cps {
				cp := &cps[i]
				if i > 0 {
					assert.GreaterOrEqual(t, cp.Out-cps[i-1].Out, int64(64<<10))
				}
				r, err := Resume(bytes.NewReader(gz), int64(len(gz)), cp)
				require.NoError(t, err)
				suffix, err := io.ReadAll(r)
				require.NoError(t, err)
				require.True(t, bytes.Equal(data[cp.Out:], suffix), "resume at checkpoint %d (out=%d) differs", i, cp.Out)
			}
		})
	}
}

func TestCheckpointWindow(t *testing.T) {
	t.Parallel()

	t.Run("compressible", func(t *testing.T) {
		t.Parallel()
		w := sampleText(WindowSize, 9)
		cp := newCheckpoint(int64(len(w)), 10, 3, w)
		assert.Less(t, cp.StoredBytes(), len(w))
		got, err := cp.Window()
		require.NoError(t, err)
		assert.Equal(t, w, got)
	})

	t.Run("incompressible", func(t *testing.T) {
		t.Parallel()
		w := sampleRandom(WindowSize, 10)
		cp := newCheckpoint(int64(len(w)), 10, 0, w)
		assert.Equal(t, len(w), cp.StoredBytes())
		got, err := cp.Window()
		require.NoError(t, err)
		assert.Equal(t, w, got)
	})
}

func TestFind(t *testing.T) {
	t.Parallel()

	cps := []Checkpoint{{Out: 100}, {Out: 200}, {Out: 300}}
	tests := []struct {
		off  int64
		want int
	}{
		{0, -1},
		{99, -1},
		{100, 0},
		{199, 0},
		{200, 1},
		{1000, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Find(cps, tt.off), "offset %d", tt.off)
	}
	assert.Equal(t, -1, Find(nil, 5))
}
