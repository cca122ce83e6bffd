package cytoconv

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

// writeBMP writes a width x height gray BMP image to path.
func writeBMP(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, bmp.Encode(f, img))
}

// writeText writes the lines to path, one per line.
func writeText(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

// rect returns the coordinate lines of an axis-aligned rectangle outline.
func rect(x1, y1, x2, y2 string) []string {
	return []string{x1 + "," + y1, x2 + "," + y1, x2 + "," + y2, x1 + "," + y2}
}

// testClasses is the SIPaKMeD class table.
func testClasses(t *testing.T) ClassTable {
	t.Helper()
	classes, err := NewClassTable(SIPaKMeDClasses)
	require.NoError(t, err)
	return classes
}

// annotatedFiles creates n files named 000.bmp, 001.bmp, ... with one annotation each.
func annotatedFiles(n int, class string) AnnotatedFiles {
	data := make(AnnotatedFiles, n)
	for i := range data {
		name := filepath.Join("src", class, fmt.Sprintf("%03d.bmp", i))
		data[i] = AnnotatedFile{
			Annotations: []Annotation{{Box: NormalizedBox{0.5, 0.5, 0.1, 0.2}}},
			Class:       class,
			FilePath:    name,
			OutputName:  filepath.Base(name),
			Width:       100,
			Height:      100,
		}
	}
	return data
}
