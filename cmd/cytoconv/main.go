// Converts SIPaKMeD-style cell polygon annotations into a YOLO object detection dataset with
// train, val and test splits, and optionally TFRecord files.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sensorable/cytoconv"
)

var (
	inputDirPath  string // The input directory with one im_<Class> folder per class.
	outputDirPath string // The output dataset root.
	reportPath    string // The run report file.

	classNames    []string              // The ordered class names.
	discriminator string                // The coordinate file discriminator.
	imageExt      string                // The image file extension.
	boundsPolicy  cytoconv.BoundsPolicy // The treatment of boxes exceeding the image.
	verifyPixels  bool                  // Decode full images instead of headers only.
	numWorkers    int                   // The number of concurrent workers.
	splitOpts     cytoconv.SplitOptions // The dataset split configuration.
	stratify      bool                  // Split each class on its own.
	writeTFRecord bool                  // Also write TFRecord files.
	numShardFiles int                   // The number of TFRecord shard files per subset.
)

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr, "  -input <dir> -output <dir> [options]")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	printUsageAndExit := func(msg ...interface{}) {
		log.Print(msg...)
		flag.Usage()
		os.Exit(1)
	}

	// Path arguments.
	flag.StringVar(&inputDirPath, "input", inputDirPath,
		"The `path` to the input directory with one im_<ClassName> folder per class")
	flag.StringVar(&outputDirPath, "output", outputDirPath,
		"The `path` to the output dataset root (existing files are overwritten)")
	flag.StringVar(&reportPath, "report", reportPath,
		"The `path` of the JSON run report (default <output>/conversion_report.json)")

	// Input arguments.
	classes := flag.String("classes", strings.Join(cytoconv.SIPaKMeDClasses, ","),
		"The comma-separated, ordered class `names`; the position is the class id")
	flag.StringVar(&discriminator, "discriminator", "cyt",
		"The coordinate file discriminator, as in <image>_<discriminator><index>.dat")
	flag.StringVar(&imageExt, "image-ext", ".bmp", "The image file `extension`")
	bounds := flag.String("bounds", "clamp",
		"The treatment of boxes exceeding the image {clamp, keep, drop}")
	flag.BoolVar(&verifyPixels, "verify-pixels", true,
		"Decode the full image to reject corrupt images (otherwise only the header is read)")
	flag.IntVar(&numWorkers, "workers", 0,
		"The number of concurrent workers (zero selects twice the number of CPUs)")

	// Split arguments.
	splitOpts = cytoconv.DefaultSplitOptions()
	flag.Float64Var(&splitOpts.TrainRatio, "train", splitOpts.TrainRatio,
		"The share of images in the train subset; range (0.0, 1.0]")
	flag.Float64Var(&splitOpts.ValShare, "val-share", splitOpts.ValShare,
		"The share of the held-out images in the val subset, the rest is test; range [0.0, 1.0]")
	flag.Int64Var(&splitOpts.Seed, "seed", splitOpts.Seed, "The random `seed` of the split")
	flag.BoolVar(&stratify, "stratify", stratify, "Split every class on its own")

	// TFRecord arguments.
	flag.BoolVar(&writeTFRecord, "tfrecord", writeTFRecord,
		"Also write <output>/tfrecord/<subset>.record files and a label map")
	flag.IntVar(&numShardFiles, "num-shards", 1,
		"The number of shard files to create per subset (tfrecord only)")

	// Parse and validate flags.
	flag.Parse()

	if inputDirPath == "" || outputDirPath == "" {
		printUsageAndExit("Missing input or output path argument")
	}
	inputDirPath = filepath.Clean(inputDirPath)
	outputDirPath = filepath.Clean(outputDirPath)
	if inputDirPath == outputDirPath {
		printUsageAndExit("The input and output paths cannot be identical")
	}
	if reportPath == "" {
		reportPath = filepath.Join(outputDirPath, "conversion_report.json")
	}

	classNames = cytoconv.ParseClassNames(*classes)
	if discriminator == "" {
		printUsageAndExit("Missing -discriminator")
	}
	if !strings.HasPrefix(imageExt, ".") {
		imageExt = "." + imageExt
	}

	var err error
	if boundsPolicy, err = cytoconv.BoundsPolicyFrom(*bounds); err != nil {
		printUsageAndExit("Invalid -bounds: ", err)
	}
	if err := splitOpts.Validate(); err != nil {
		printUsageAndExit("Invalid split: ", err)
	}
	if stratify {
		splitOpts.StratifyKey = func(f cytoconv.AnnotatedFile) string { return f.Class }
	}
	if numWorkers < 0 {
		printUsageAndExit("Invalid -workers: ", numWorkers)
	}
}

func main() {
	classes, err := cytoconv.NewClassTable(classNames)
	if err != nil {
		log.Fatal("Invalid class list: ", err)
	}

	report := cytoconv.NewReport(inputDirPath, outputDirPath, classes, boundsPolicy, splitOpts)

	// Parse input.
	opts := cytoconv.DefaultConvertOptions(classes)
	opts.Discriminator = discriminator
	opts.ImageExt = imageExt
	opts.Bounds = boundsPolicy
	opts.VerifyPixels = verifyPixels
	opts.NumWorkers = numWorkers
	opts.Report = report

	data, err := cytoconv.FromCellFolders(inputDirPath, opts)
	if errors.Is(err, cytoconv.ErrNoImages) {
		log.Fatal("Nothing to convert: ", err)
	} else if err != nil {
		log.Fatal("Failed to parse the input: ", err)
	}

	// Split data into output datasets.
	split, err := data.Split(splitOpts)
	if err != nil {
		log.Fatal("Failed to split the dataset: ", err)
	}
	report.AddSplit(split, classes)

	// Write output datasets.
	writeOpts := cytoconv.WriteOptions{NumWorkers: numWorkers, Report: report}
	manifest, err := cytoconv.WriteYOLO(outputDirPath, split, classes, writeOpts)
	if err != nil {
		log.Fatal("Conversion failed: ", err)
	}
	log.Printf("Dataset config saved to %s", filepath.Join(manifest.Path, cytoconv.ManifestFileName))

	if writeTFRecord {
		dir := filepath.Join(outputDirPath, "tfrecord")
		if err := cytoconv.WriteTFRecord(dir, split, classes, numShardFiles, report); err != nil {
			log.Fatal("TFRecord conversion failed: ", err)
		}
	}

	report.LogSummary()
	if err := report.Write(reportPath); err != nil {
		log.Print("Failed to write the report: ", err)
	}

	if n := report.NumFailures(); n > 0 {
		log.Printf("Finished with %d write failures, see %s", n, reportPath)
		os.Exit(2)
	}
	log.Printf("Total number of labelled files: %d (classes: %s)", split.Len(),
		strings.Join(classes.Names(), ", "))
}
