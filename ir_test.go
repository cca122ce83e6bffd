package cytoconv

import (
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paths returns the file paths of data.
func paths(data AnnotatedFiles) []string {
	p := make([]string, len(data))
	for i, f := range data {
		p[i] = f.FilePath
	}
	return p
}

func TestSplitDeterministic(t *testing.T) {
	t.Parallel()
	data := annotatedFiles(100, "Parabasal")

	first, err := data.Split(DefaultSplitOptions())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := data.Split(DefaultSplitOptions())
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("split differs between runs (-first +again):\n%s", diff)
		}
	}

	opts := DefaultSplitOptions()
	opts.Seed = 7
	other, err := data.Split(opts)
	require.NoError(t, err)
	assert.NotEqual(t, paths(first.Train), paths(other.Train))
}

func TestSplitExhaustiveAndDisjoint(t *testing.T) {
	t.Parallel()
	for _, n := range []int{1, 2, 3, 7, 10, 20, 33, 100} {
		data := annotatedFiles(n, "Koilocytotic")
		split, err := data.Split(DefaultSplitOptions())
		require.NoError(t, err)

		seen := make(map[string]string, n)
		for _, subset := range SubsetNames {
			for _, f := range split.Subset(subset) {
				prev, dup := seen[f.FilePath]
				require.False(t, dup, "n=%d: %s in %s and %s", n, f.FilePath, prev, subset)
				seen[f.FilePath] = subset
			}
		}
		assert.Len(t, seen, n)
		assert.Equal(t, n, split.Len())
	}
}

func TestSplitSizes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n                    int
		train, val, test     int
		trainRatio, valShare float64
	}{
		{1, 1, 0, 0, 0.7, 0.5},
		{7, 5, 1, 1, 0.7, 0.5},
		{10, 7, 2, 1, 0.7, 0.5},
		{20, 14, 3, 3, 0.7, 0.5},
		{100, 70, 15, 15, 0.7, 0.5},
		{10, 8, 2, 0, 0.8, 1},
		{10, 10, 0, 0, 1, 0.5},
	}
	for _, tt := range tests {
		opts := SplitOptions{TrainRatio: tt.trainRatio, ValShare: tt.valShare, Seed: 42}
		split, err := annotatedFiles(tt.n, "Metaplastic").Split(opts)
		require.NoError(t, err)
		assert.Equal(t, []int{tt.train, tt.val, tt.test},
			[]int{len(split.Train), len(split.Val), len(split.Test)}, "%+v", tt)
	}
}

func TestSplitKeepsInputOrder(t *testing.T) {
	t.Parallel()
	data := annotatedFiles(50, "Parabasal")
	split, err := data.Split(DefaultSplitOptions())
	require.NoError(t, err)

	for _, subset := range SubsetNames {
		p := paths(split.Subset(subset))
		for i := 1; i < len(p); i++ {
			assert.Less(t, p[i-1], p[i])
		}
	}
}

func TestSplitStratified(t *testing.T) {
	t.Parallel()
	data := append(annotatedFiles(10, "Parabasal"), annotatedFiles(20, "Dyskeratotic")...)
	opts := DefaultSplitOptions()
	opts.StratifyKey = func(f AnnotatedFile) string { return f.Class }

	split, err := data.Split(opts)
	require.NoError(t, err)

	count := func(files AnnotatedFiles, class string) int {
		n := 0
		for _, f := range files {
			if f.Class == class {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 7, count(split.Train, "Parabasal"))
	assert.Equal(t, 14, count(split.Train, "Dyskeratotic"))
	assert.Equal(t, 2, count(split.Val, "Parabasal"))
	assert.Equal(t, 3, count(split.Val, "Dyskeratotic"))
	assert.Equal(t, 1, count(split.Test, "Parabasal"))
	assert.Equal(t, 3, count(split.Test, "Dyskeratotic"))
}

func TestSplitErrors(t *testing.T) {
	t.Parallel()

	_, err := AnnotatedFiles{}.Split(DefaultSplitOptions())
	assert.ErrorIs(t, err, ErrNoImages)

	for _, opts := range []SplitOptions{
		{TrainRatio: 0, ValShare: 0.5},
		{TrainRatio: 1.1, ValShare: 0.5},
		{TrainRatio: 0.7, ValShare: -0.1},
		{TrainRatio: 0.7, ValShare: 2},
	} {
		_, err := annotatedFiles(3, "Parabasal").Split(opts)
		assert.ErrorIs(t, err, ErrInvalidRatio, "%+v", opts)
	}
}

func TestAssignOutputNames(t *testing.T) {
	t.Parallel()
	data := AnnotatedFiles{
		{Class: "Parabasal", FilePath: "in/im_Parabasal/001.bmp"},
		{Class: "Metaplastic", FilePath: "in/im_Metaplastic/001.bmp"},
		{Class: "Metaplastic", FilePath: "in/im_Metaplastic/002.bmp"},
	}
	data.assignOutputNames()

	assert.Equal(t, "Parabasal_001.bmp", data[0].OutputName)
	assert.Equal(t, "Metaplastic_001.bmp", data[1].OutputName)
	assert.Equal(t, "002.bmp", data[2].OutputName)
}

func TestForEachParallel(t *testing.T) {
	t.Parallel()
	for _, workers := range []int{0, 1, 3, 100} {
		out := make([]int, 57)
		var calls int64
		forEachParallel(len(out), workers, func(i int) {
			atomic.AddInt64(&calls, 1)
			out[i] = i * i
		})
		assert.EqualValues(t, len(out), calls)
		for i, v := range out {
			assert.Equal(t, i*i, v)
		}
	}

	// No items must not block.
	forEachParallel(0, 4, func(int) { t.Error("unexpected call") })
}
