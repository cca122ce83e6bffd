package cytoconv

// TFRecord object detection specific functionality.

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
)

// LabelMapFileName is the name of the label map written next to the TFRecord files.
const LabelMapFileName = "label_map.pbtxt"

// tfRecordFileExt is the file extension of TFRecord files.
const tfRecordFileExt = ".record"

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// toTFRecord converts the intermediate representation for a single file to a feature map.
// TensorFlow label ids are the class ids plus one, as id 0 is reserved for the background.
func toTFRecord(fileData AnnotatedFile, classes ClassTable) (TFFeatureMap, error) {
	// Get the image format.
	_, format, err := decodeImageConfig(fileData.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to decode the image metadata: %v", err)
	}

	// Read the image data.
	imgData, err := readFile(fileData.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read the image: %v", err)
	}

	// Prepare the feature map for the per file data.
	f := make(TFFeatureMap, 16)
	f["image/height"] = fileData.Height
	f["image/width"] = fileData.Width
	f["image/filename"] = fileData.OutputName
	f["image/source_id"] = fileData.FilePath
	f["image/encoded"] = imgData
	f["image/format"] = format

	// Prepare the per label data from the normalised boxes.
	numLabels := len(fileData.Annotations)
	xmins := make([]float32, numLabels)
	ymins := make([]float32, numLabels)
	xmaxs := make([]float32, numLabels)
	ymaxs := make([]float32, numLabels)
	classNames := make([]string, numLabels)
	classIDs := make([]int64, numLabels)
	for i, a := range fileData.Annotations {
		xmins[i] = float32(a.Box.CenterX - a.Box.Width/2)
		ymins[i] = float32(a.Box.CenterY - a.Box.Height/2)
		xmaxs[i] = float32(a.Box.CenterX + a.Box.Width/2)
		ymaxs[i] = float32(a.Box.CenterY + a.Box.Height/2)
		classNames[i] = classes.Name(a.ClassID)
		classIDs[i] = int64(a.ClassID + 1)
	}
	f["image/object/bbox/xmin"] = xmins
	f["image/object/bbox/ymin"] = ymins
	f["image/object/bbox/xmax"] = xmaxs
	f["image/object/bbox/ymax"] = ymaxs
	f["image/object/class/text"] = classNames
	f["image/object/class/label"] = classIDs

	return f, nil
}

// WriteTFRecordFile does a streaming conversion, serialisation and file write for the annotation
// data to one or more TFRecord files stored under recordFilePath (with suffixes added when
// numShards>1). The number of shards is capped at the number of examples.
//
// Images that fail to convert are recorded in report and skipped.
func WriteTFRecordFile(recordFilePath string, data AnnotatedFiles, classes ClassTable,
	numShards int, report *Report) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	if numShards <= 0 {
		numShards = 1
	}
	// Every shard holds at least one example, so the suffix matches the number of files.
	if numShards > len(data) {
		numShards = max(len(data), 1)
	}
	if len(data) == 0 {
		// Leave an empty record file so that every subset has one.
		f, err := os.Create(recordFilePath)
		if err != nil {
			return fmt.Errorf("failed to create %q: %v", recordFilePath, err)
		}
		return f.Close()
	}

	fmtShardSuffix := func(idx int) string {
		return fmt.Sprintf("-%05d-of-%05d", idx, numShards)
	}

	var shardFile *os.File
	shardSize := int(math.Ceil(float64(len(data)) / float64(numShards)))
	shardIdx := -1

	// Convert and serialise one data element at a time.
	for i, fileData := range data {
		// Check if a new shard file needs to be opened for writing.
		if i%shardSize == 0 {
			shardIdx++

			// Close the previous shard file.
			if shardFile != nil {
				if err := shardFile.Close(); err != nil {
					return err
				}
				shardFile = nil
			}

			// Create the new shard file.
			shardPath := recordFilePath
			if numShards > 1 {
				shardPath += fmtShardSuffix(shardIdx)
			}
			f, err := os.Create(shardPath)
			if err != nil {
				return fmt.Errorf("failed to create shard at %q: %v", shardPath, err)
			}
			shardFile = f
		}

		// Convert the file data to an example.
		features, err := toTFRecord(fileData, classes)
		if err != nil {
			report.Fail(recordFilePath, fmt.Errorf("failed to convert %q: %v", fileData.FilePath, err))
			continue
		}
		tfExample := example.New(features)

		// Write the example.
		if err := writeTFRecordExample(shardFile, tfExample); err != nil {
			_ = shardFile.Close()
			return fmt.Errorf("failed to write example: %v", err)
		}
	}

	if shardFile != nil {
		return shardFile.Close()
	}
	return nil
}

// WriteTFRecord writes every subset of split to "<dir>/<subset>.record" and the label map for
// classes to "<dir>/label_map.pbtxt".
func WriteTFRecord(dir string, split DatasetSplit, classes ClassTable, numShards int,
	report *Report) error {

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %q: %w", dir, err)
	}

	for _, subset := range SubsetNames {
		path := filepath.Join(dir, subset+tfRecordFileExt)
		if err := WriteTFRecordFile(path, split.Subset(subset), classes, numShards, report); err != nil {
			return err
		}
		log.Printf("Successfully wrote %d examples to %s", len(split.Subset(subset)), path)
	}

	return saveTFRecordLabelMap(filepath.Join(dir, LabelMapFileName), classes)
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

// formatLabelMap renders classes in the StringIntLabelMap text format, with ids starting at 1.
func formatLabelMap(classes ClassTable) string {
	var sb strings.Builder
	for i, name := range classes.Names() {
		fmt.Fprintf(&sb, "item {\n  id: %d\n  name: %q\n}\n", i+1, name)
	}
	return sb.String()
}

// saveTFRecordLabelMap writes the label map for classes to path.
func saveTFRecordLabelMap(path string, classes ClassTable) error {
	if err := os.WriteFile(path, []byte(formatLabelMap(classes)), 0644); err != nil {
		return fmt.Errorf("failed to write the label map %q: %v", path, err)
	}
	return nil
}
