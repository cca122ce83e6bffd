package cytoconv

// YOLO dataset specific functionality.
//
// Layout written under the dataset root:
//
//	images/{train,val,test}/<image file name>
//	labels/{train,val,test}/<image base name>.txt
//	dataset.yaml

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFileName is the name of the manifest file in the dataset root.
const ManifestFileName = "dataset.yaml"

const (
	imagesDir    = "images"
	labelsDir    = "labels"
	labelFileExt = ".txt"
)

// YOLOAnnotation is a single annotation line within a YOLO label file.
type YOLOAnnotation struct {
	ClassID int
	Box     NormalizedBox
}

// String formats a as "<class_id> <center_x> <center_y> <width> <height>", with the box values
// rounded to 6 decimals.
func (a YOLOAnnotation) String() string {
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f",
		a.ClassID, a.Box.CenterX, a.Box.CenterY, a.Box.Width, a.Box.Height)
}

// YOLOAnnotatedFile defines the YOLO annotation structure for a single image.
type YOLOAnnotatedFile struct {
	Annotations []YOLOAnnotation
	FilePath    string // The source image.
	OutputName  string // The image file name in the dataset.
}

// LabelFileName is the label file name for the image, its base name with a .txt extension.
func (f YOLOAnnotatedFile) LabelFileName() string {
	return strings.TrimSuffix(f.OutputName, filepath.Ext(f.OutputName)) + labelFileExt
}

// Labels returns the label file content, one line per annotation.
func (f YOLOAnnotatedFile) Labels() string {
	var sb strings.Builder
	for _, a := range f.Annotations {
		sb.WriteString(a.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ToYOLO converts the intermediate representation to YOLO format.
func ToYOLO(data AnnotatedFiles) []YOLOAnnotatedFile {
	yoloData := make([]YOLOAnnotatedFile, 0, len(data))
	for _, fileData := range data {
		yoloFileData := YOLOAnnotatedFile{
			Annotations: make([]YOLOAnnotation, len(fileData.Annotations)),
			FilePath:    fileData.FilePath,
			OutputName:  fileData.OutputName,
		}
		if yoloFileData.OutputName == "" {
			yoloFileData.OutputName = filepath.Base(fileData.FilePath)
		}
		for i, a := range fileData.Annotations {
			yoloFileData.Annotations[i] = YOLOAnnotation{ClassID: a.ClassID, Box: a.Box}
		}
		yoloData = append(yoloData, yoloFileData)
	}

	return yoloData
}

// Manifest describes the layout and class schema of a written dataset.
type Manifest struct {
	Path  string   `yaml:"path"`  // Absolute dataset root.
	Train string   `yaml:"train"` // Relative to Path.
	Val   string   `yaml:"val"`
	Test  string   `yaml:"test"`
	NC    int      `yaml:"nc"` // Number of classes.
	Names []string `yaml:"names,flow"`
}

// NewManifest creates the manifest for a dataset at root.
func NewManifest(root string, classes ClassTable) (Manifest, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Manifest{}, err
	}

	return Manifest{
		Path:  abs,
		Train: imagesDir + "/" + Train,
		Val:   imagesDir + "/" + Val,
		Test:  imagesDir + "/" + Test,
		NC:    classes.Len(),
		Names: classes.Names(),
	}, nil
}

// WriteManifest writes m as YAML to path.
func WriteManifest(path string, m Manifest) error {
	enc, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, enc, 0644); err != nil {
		return fmt.Errorf("cannot write file %q: %w", path, err)
	}
	return nil
}

// ReadManifest reads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	enc, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}

	var m Manifest
	if err := yaml.Unmarshal(enc, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest %q: %w", path, err)
	}
	return m, nil
}

// WriteOptions configures WriteYOLO.
type WriteOptions struct {
	NumWorkers int     // Concurrent writers; <= 0 selects 2*runtime.NumCPU().
	Report     *Report // Receives per-image write failures. May be nil.
}

// writeTask is the copy of one image and the write of its label file.
type writeTask struct {
	file      YOLOAnnotatedFile
	imagePath string
	labelPath string
}

// WriteYOLO writes split as a YOLO dataset under root, along with the manifest.
//
// Images are copied byte for byte. Existing files are overwritten. A failure to copy or write
// the files of one image is recorded in opts.Report, removes whatever was written for that image
// and does not stop the other images; only a failure to create the layout or the manifest is
// returned.
func WriteYOLO(root string, split DatasetSplit, classes ClassTable, opts WriteOptions) (
	Manifest, error) {

	if split.Len() == 0 {
		return Manifest{}, ErrNoImages
	}

	// Create the layout and collect the per image tasks.
	var tasks []writeTask
	for _, subset := range SubsetNames {
		imageDir := filepath.Join(root, imagesDir, subset)
		labelDir := filepath.Join(root, labelsDir, subset)
		for _, dir := range []string{imageDir, labelDir} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return Manifest{}, fmt.Errorf("cannot create directory %q: %w", dir, err)
			}
		}

		seen := make(map[string]bool)
		for _, f := range ToYOLO(split.Subset(subset)) {
			t := writeTask{
				file:      f,
				imagePath: filepath.Join(imageDir, f.OutputName),
				labelPath: filepath.Join(labelDir, f.LabelFileName()),
			}
			// Two tasks must never write the same path.
			if seen[t.imagePath] || seen[t.labelPath] {
				opts.Report.Fail(t.imagePath, fmt.Errorf("duplicate output name for %q", f.FilePath))
				continue
			}
			seen[t.imagePath], seen[t.labelPath] = true, true
			tasks = append(tasks, t)
		}
		log.Printf("Creating %s split with %d images", subset, len(split.Subset(subset)))
	}

	forEachParallel(len(tasks), opts.NumWorkers, func(i int) {
		// An image is only left in place together with its label file.
		t := tasks[i]
		if err := os.WriteFile(t.labelPath, []byte(t.file.Labels()), 0644); err != nil {
			opts.Report.Fail(t.labelPath, err)
			removeFiles(t.imagePath)
			return
		}
		if err := copyFile(t.file.FilePath, t.imagePath); err != nil {
			opts.Report.Fail(t.imagePath, err)
			removeFiles(t.imagePath, t.labelPath)
		}
	})

	m, err := NewManifest(root, classes)
	if err != nil {
		return Manifest{}, err
	}
	if err := WriteManifest(filepath.Join(root, ManifestFileName), m); err != nil {
		return Manifest{}, err
	}

	return m, nil
}
