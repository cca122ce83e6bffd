package cytoconv

// SIPaKMeD cell folder specific functionality.
//
// The input root holds one folder per class, named "im_<ClassName>". Each folder holds the cell
// images and, per image, one polygon coordinate file per cell, named
// "<ImageBaseName>_<discriminator><index>.dat".

import (
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// classFolderPrefix prefixes the class name in input folder names.
const classFolderPrefix = "im_"

// coordFileExt is the file extension of polygon coordinate files.
const coordFileExt = ".dat"

// ConvertOptions configures FromCellFolders.
type ConvertOptions struct {
	Classes       ClassTable   // Resolves folder class names to class ids.
	Discriminator string       // Selects the coordinate files, e.g. "cyt" (cytoplasm) or "nuc".
	ImageExt      string       // The image file extension, including the dot.
	Bounds        BoundsPolicy // The treatment of boxes exceeding the image.
	VerifyPixels  bool         // Decode the full image instead of only its header.
	NumWorkers    int          // Concurrent image workers; <= 0 selects 2*runtime.NumCPU().
	Report        *Report      // Receives every recovered problem. May be nil.
}

// DefaultConvertOptions returns the options for the SIPaKMeD cytoplasm annotations.
func DefaultConvertOptions(classes ClassTable) ConvertOptions {
	return ConvertOptions{
		Classes:       classes,
		Discriminator: "cyt",
		ImageExt:      ".bmp",
		Bounds:        BoundsClamp,
		VerifyPixels:  true,
	}
}

// imageJob is one image with its coordinate files, as found during discovery.
type imageJob struct {
	imagePath  string
	class      string
	classID    int
	coordFiles []string
}

// FromCellFolders reads the class folders in root and converts the cell polygons of every image to
// bounding box annotations.
//
// Folders, images and coordinate files that cannot be used are skipped and recorded in
// opts.Report. The result is in discovery order: folders and images sorted by name. It returns
// ErrNoImages if no image is left.
func FromCellFolders(root string, opts ConvertOptions) (AnnotatedFiles, error) {
	if opts.Classes.Len() == 0 {
		return nil, fmt.Errorf("missing class table")
	}
	if opts.Discriminator == "" {
		return nil, fmt.Errorf("missing coordinate file discriminator")
	}

	dirs, err := subDirs(root)
	if err != nil {
		return nil, err
	}

	var jobs []imageJob
	for _, dir := range dirs {
		dirPath := filepath.Join(root, dir)
		if !strings.HasPrefix(dir, classFolderPrefix) {
			opts.Report.Skip(UnknownClassFolder, dirPath, "not a %s<ClassName> folder",
				classFolderPrefix)
			continue
		}
		class := strings.TrimPrefix(dir, classFolderPrefix)
		classID, err := opts.Classes.ID(class)
		if err != nil {
			opts.Report.Skip(UnknownClassFolder, dirPath, "%v", err)
			continue
		}

		folderJobs, err := discoverImages(dirPath, class, classID, opts)
		if err != nil {
			opts.Report.Skip(UnreadableClassFolder, dirPath, "%v", err)
			continue
		}
		log.Printf("Found %d images for class %s (ID: %d)", len(folderJobs), class, classID)
		jobs = append(jobs, folderJobs...)
	}

	// Convert the images concurrently. Results are stored by job index to keep discovery order.
	results := make([]AnnotatedFile, len(jobs))
	accepted := make([]bool, len(jobs))
	forEachParallel(len(jobs), opts.NumWorkers, func(i int) {
		results[i], accepted[i] = aggregateImage(jobs[i], opts)
	})

	data := make(AnnotatedFiles, 0, len(jobs))
	for i, ok := range accepted {
		if ok {
			data = append(data, results[i])
		}
	}
	log.Printf("Accepted %d of %d images with %d annotations", len(data), len(jobs),
		data.NumAnnotations())

	if len(data) == 0 {
		return nil, fmt.Errorf("%w found in %q", ErrNoImages, root)
	}
	data.assignOutputNames()

	return data, nil
}

// discoverImages lists the images in a class folder and matches them to their coordinate files.
func discoverImages(dirPath, class string, classID int, opts ConvertOptions) ([]imageJob, error) {
	images, err := filesByExtInDir(dirPath, opts.ImageExt)
	if err != nil {
		return nil, err
	}
	index, err := indexCoordFiles(dirPath, opts.Discriminator)
	if err != nil {
		return nil, err
	}

	jobs := make([]imageJob, 0, len(images))
	matched := make(map[string]bool, len(images))
	for _, path := range images {
		_, baseNoExt, _, err := splitPath(path)
		if err != nil {
			log.Printf("Error while parsing, skipping %q: %v", path, err)
			continue
		}
		matched[baseNoExt] = true
		jobs = append(jobs, imageJob{
			imagePath:  path,
			class:      class,
			classID:    classID,
			coordFiles: index[baseNoExt],
		})
	}

	// Report coordinate files without an image.
	orphans := make([]string, 0)
	for base := range index {
		if !matched[base] {
			orphans = append(orphans, base)
		}
	}
	sort.Strings(orphans)
	for _, base := range orphans {
		for _, path := range index[base] {
			opts.Report.skipQuiet(OrphanCoordinateFile, path, "no image %s%s", base, opts.ImageExt)
		}
	}

	return jobs, nil
}

// indexCoordFiles maps image base names to the paths of their coordinate files with the given
// discriminator, found directly in dirPath. The paths of each image are sorted by cell index.
//
// A file belongs to image "<base>" if its name is "<base>_<discriminator><index>.dat" with a
// decimal index. Other .dat files (e.g. with another discriminator) are ignored.
func indexCoordFiles(dirPath, discriminator string) (map[string][]string, error) {
	files, err := filesByExtInDir(dirPath, coordFileExt)
	if err != nil {
		return nil, err
	}

	type coordFile struct {
		path  string
		index int
	}
	entries := make(map[string][]coordFile)
	marker := "_" + discriminator
	for _, path := range files {
		_, baseNoExt, _, err := splitPath(path)
		if err != nil {
			continue
		}
		i := strings.LastIndex(baseNoExt, marker)
		if i <= 0 {
			continue
		}
		index, err := strconv.Atoi(baseNoExt[i+len(marker):])
		if err != nil || index < 0 {
			continue
		}
		base := baseNoExt[:i]
		entries[base] = append(entries[base], coordFile{path: path, index: index})
	}

	index := make(map[string][]string, len(entries))
	for base, files := range entries {
		sort.Slice(files, func(i, j int) bool {
			if files[i].index != files[j].index {
				return files[i].index < files[j].index
			}
			return files[i].path < files[j].path
		})
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.path
		}
		index[base] = paths
	}

	return index, nil
}

// aggregateImage converts the coordinate files of one image to annotations. It returns false if
// the image is excluded from the dataset.
func aggregateImage(job imageJob, opts ConvertOptions) (AnnotatedFile, bool) {
	report := opts.Report
	if len(job.coordFiles) == 0 {
		report.Skip(NoCoordinateFiles, job.imagePath, "no %s*%s files", opts.Discriminator,
			coordFileExt)
		return AnnotatedFile{}, false
	}

	width, height, err := imageSize(job.imagePath, opts.VerifyPixels)
	if err != nil {
		report.Skip(UnreadableImage, job.imagePath, "%v", err)
		return AnnotatedFile{}, false
	}
	if width <= 0 || height <= 0 {
		report.Skip(UnreadableImage, job.imagePath, "%v: %dx%d", ErrInvalidDimensions, width,
			height)
		return AnnotatedFile{}, false
	}

	annotations := make([]Annotation, 0, len(job.coordFiles))
	for _, path := range job.coordFiles {
		polygon, malformed, err := ReadPolygon(path)
		if err != nil {
			report.Skip(UnreadableCoordFile, path, "%v", err)
			continue
		}
		if malformed > 0 {
			report.skipQuiet(MalformedLine, path, "%d malformed lines", malformed)
		}
		box, ok := BoundingBoxOf(polygon)
		if !ok {
			report.skipQuiet(InsufficientPolygon, path, "%d points", len(polygon))
			continue
		}

		normalized, warning, keep, err := opts.Bounds.Apply(box, float64(width), float64(height))
		if err != nil {
			report.Skip(UnreadableImage, job.imagePath, "%v", err)
			return AnnotatedFile{}, false
		}
		if warning != "" {
			report.Warn(OutOfBounds, path, "%s", warning)
		}
		if !keep {
			continue
		}

		a := Annotation{
			Attributes: map[string]interface{}{SourceFile: path},
			Box:        normalized,
			ClassID:    job.classID,
		}
		if warning != "" {
			a.Attributes[BoundsWarning] = warning
		}
		annotations = append(annotations, a)
	}

	if len(annotations) == 0 {
		report.Skip(NoAnnotations, job.imagePath, "none of %d coordinate files yields a box",
			len(job.coordFiles))
		return AnnotatedFile{}, false
	}

	return AnnotatedFile{
		Annotations: annotations,
		Class:       job.class,
		FilePath:    job.imagePath,
		Width:       width,
		Height:      height,
	}, true
}
