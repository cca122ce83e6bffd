package cytoconv

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLabelMap(t *testing.T) {
	t.Parallel()
	classes, err := NewClassTable([]string{"Dyskeratotic", "Superficial-Intermediate"})
	require.NoError(t, err)

	assert.Equal(t, "item {\n  id: 1\n  name: \"Dyskeratotic\"\n}\n"+
		"item {\n  id: 2\n  name: \"Superficial-Intermediate\"\n}\n", formatLabelMap(classes))
}

func TestWriteTFRecord(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	dir := filepath.Join(t.TempDir(), "tfrecord")
	classes := testClasses(t)

	data := annotatedFiles(4, "Parabasal")
	for i := range data {
		data[i].FilePath = filepath.Join(src, data[i].OutputName)
		writeBMP(t, data[i].FilePath, 16, 16)
		data[i].Annotations[0].ClassID = 3
	}
	split := DatasetSplit{Train: data[:3], Val: data[3:]}

	report := NewReport(src, dir, classes, BoundsClamp, DefaultSplitOptions())
	require.NoError(t, WriteTFRecord(dir, split, classes, 2, report))
	assert.Zero(t, report.NumFailures())

	// Train is sharded, val has a single example and a single file, test is empty.
	for _, name := range []string{"train.record-00000-of-00002", "train.record-00001-of-00002",
		"val.record"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(16), name)
	}
	info, err := os.Stat(filepath.Join(dir, "test.record"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	// The first record length prefix covers the rest of a single-example file.
	enc, err := os.ReadFile(filepath.Join(dir, "val.record"))
	require.NoError(t, err)
	n := binary.LittleEndian.Uint64(enc[:8])
	assert.Equal(t, uint64(len(enc)-16), n)

	assert.NoFileExists(t, filepath.Join(dir, "val.record-00000-of-00002"))

	labelMap, err := os.ReadFile(filepath.Join(dir, LabelMapFileName))
	require.NoError(t, err)
	assert.Equal(t, formatLabelMap(classes), string(labelMap))
}

func TestWriteTFRecordMissingImage(t *testing.T) {
	t.Parallel()
	data := annotatedFiles(2, "Parabasal")
	data[0].FilePath = filepath.Join(t.TempDir(), "missing.bmp")
	data[1].FilePath = filepath.Join(t.TempDir(), "001.bmp")
	writeBMP(t, data[1].FilePath, 8, 8)

	report := NewReport("", "", testClasses(t), BoundsClamp, DefaultSplitOptions())
	path := filepath.Join(t.TempDir(), "train.record")
	require.NoError(t, WriteTFRecordFile(path, data, testClasses(t), 1, report))
	assert.Equal(t, 1, report.NumFailures())
	assert.FileExists(t, path)
}

func TestWriteTFRecordFileCapsShards(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	data := annotatedFiles(3, "Parabasal")
	for i := range data {
		data[i].FilePath = filepath.Join(src, data[i].OutputName)
		writeBMP(t, data[i].FilePath, 8, 8)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "train.record")
	require.NoError(t, WriteTFRecordFile(path, data, testClasses(t), 5, nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"train.record-00000-of-00003", "train.record-00001-of-00003",
		"train.record-00002-of-00003"}, names)
}
