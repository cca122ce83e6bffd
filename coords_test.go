package cytoconv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPolygon(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	t.Run("skips malformed lines", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(dir, "one_good.dat")
		writeText(t, path, "12.5,8.0", "garbage")

		p, malformed, err := ReadPolygon(path)
		require.NoError(t, err)
		assert.Equal(t, Polygon{{X: 12.5, Y: 8}}, p)
		assert.Equal(t, 1, malformed)
	})

	t.Run("tolerant of blanks and spacing", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(dir, "mixed.dat")
		writeText(t, path,
			"", " 1.5 , 2.25 ", "3,4,5", "no separator", "x,1", "1,y", "NaN,1", "1e2,-3", "")

		p, malformed, err := ReadPolygon(path)
		require.NoError(t, err)
		assert.Equal(t, Polygon{{X: 1.5, Y: 2.25}, {X: 100, Y: -3}}, p)
		// Empty lines are not malformed.
		assert.Equal(t, 5, malformed)
	})

	t.Run("no valid lines", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(dir, "empty.dat")
		writeText(t, path, "header", "")

		p, malformed, err := ReadPolygon(path)
		require.NoError(t, err)
		assert.Empty(t, p)
		assert.Equal(t, 1, malformed)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, _, err := ReadPolygon(filepath.Join(dir, "missing.dat"))
		assert.Error(t, err)
	})
}
