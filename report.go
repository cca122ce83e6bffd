package cytoconv

// Run report functionality.

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// DefectKind classifies a recovered problem.
type DefectKind string

// The recorded defect kinds.
const (
	UnknownClassFolder    DefectKind = "unknown-class-folder"
	UnreadableClassFolder DefectKind = "unreadable-class-folder"
	UnreadableImage       DefectKind = "unreadable-image"
	NoCoordinateFiles     DefectKind = "no-coordinate-files"
	NoAnnotations         DefectKind = "no-annotations"
	UnreadableCoordFile   DefectKind = "unreadable-coordinate-file"
	MalformedLine         DefectKind = "malformed-line" // Skipped lines of a coordinate file.
	InsufficientPolygon   DefectKind = "insufficient-polygon"
	OrphanCoordinateFile  DefectKind = "orphan-coordinate-file"
	OutOfBounds           DefectKind = "out-of-bounds"
	WriteFailure          DefectKind = "write-failure"
)

// Issue is one recovered problem with the path it concerns.
type Issue struct {
	Kind    DefectKind `json:"kind"`
	Path    string     `json:"path"`
	Message string     `json:"message"`
}

// SubsetStats summarises one subset of the written dataset.
type SubsetStats struct {
	Name        string         `json:"name"`
	Images      int            `json:"images"`
	Annotations int            `json:"annotations"`
	PerClass    map[string]int `json:"per_class"`
	MeanWidth   float64        `json:"mean_width"` // Normalised box width.
	StdWidth    float64        `json:"std_width"`
	MeanHeight  float64        `json:"mean_height"` // Normalised box height.
	StdHeight   float64        `json:"std_height"`
}

// Report records the configuration, outcome and every recovered problem of a conversion run.
//
// It is safe for concurrent use.
type Report struct {
	mu sync.Mutex

	RunID       string        `json:"run_id"`
	Started     time.Time     `json:"started"`
	Source      string        `json:"source"`
	Destination string        `json:"destination"`
	Classes     []string      `json:"classes"`
	Bounds      string        `json:"bounds_policy"`
	TrainRatio  float64       `json:"train_ratio"`
	ValShare    float64       `json:"val_share"`
	Seed        int64         `json:"seed"`
	Subsets     []SubsetStats `json:"subsets"`
	Skipped     []Issue       `json:"skipped"`  // Inputs excluded from the dataset.
	Warnings    []Issue       `json:"warnings"` // Annotations kept or dropped by the bounds policy.
	Failures    []Issue       `json:"failures"` // Destination write failures.
}

// NewReport creates a report for a run with a new run ID.
func NewReport(source, destination string, classes ClassTable, policy BoundsPolicy,
	split SplitOptions) *Report {

	return &Report{
		RunID:       uuid.NewString(),
		Started:     time.Now().UTC(),
		Source:      source,
		Destination: destination,
		Classes:     classes.Names(),
		Bounds:      policy.String(),
		TrainRatio:  split.TrainRatio,
		ValShare:    split.ValShare,
		Seed:        split.Seed,
		Skipped:     []Issue{},
		Warnings:    []Issue{},
		Failures:    []Issue{},
	}
}

// issueList selects one of the issue lists of a Report.
type issueList int

const (
	skippedList issueList = iota
	warningList
	failureList
)

// Skip records an excluded input and logs it.
func (r *Report) Skip(kind DefectKind, path, format string, args ...interface{}) {
	issue := r.add(skippedList, kind, path, format, args...)
	log.Printf("Skipping %q (%s): %s", path, kind, issue.Message)
}

// skipQuiet records an excluded input without logging it.
func (r *Report) skipQuiet(kind DefectKind, path, format string, args ...interface{}) {
	r.add(skippedList, kind, path, format, args...)
}

// Warn records a warning and logs it.
func (r *Report) Warn(kind DefectKind, path, format string, args ...interface{}) {
	issue := r.add(warningList, kind, path, format, args...)
	log.Printf("Warning for %q (%s): %s", path, kind, issue.Message)
}

// Fail records a write failure and logs it.
func (r *Report) Fail(path string, err error) {
	r.add(failureList, WriteFailure, path, "%v", err)
	log.Printf("Failed to write %q: %v", path, err)
}

// add appends an issue to the selected list. A nil Report records nothing.
func (r *Report) add(list issueList, kind DefectKind, path, format string,
	args ...interface{}) Issue {

	issue := Issue{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
	if r == nil {
		return issue
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch list {
	case skippedList:
		r.Skipped = append(r.Skipped, issue)
	case warningList:
		r.Warnings = append(r.Warnings, issue)
	case failureList:
		r.Failures = append(r.Failures, issue)
	}
	return issue
}

// NumFailures is the number of recorded write failures.
func (r *Report) NumFailures() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Failures)
}

// AddSplit computes the statistics for every subset of split.
func (r *Report) AddSplit(split DatasetSplit, classes ClassTable) {
	subsets := make([]SubsetStats, 0, len(SubsetNames))
	for _, name := range SubsetNames {
		subsets = append(subsets, subsetStats(name, split.Subset(name), classes))
	}

	r.mu.Lock()
	r.Subsets = subsets
	r.mu.Unlock()
}

func subsetStats(name string, data AnnotatedFiles, classes ClassTable) SubsetStats {
	s := SubsetStats{
		Name:        name,
		Images:      len(data),
		Annotations: data.NumAnnotations(),
		PerClass:    make(map[string]int, classes.Len()),
	}

	widths := make([]float64, 0, s.Annotations)
	heights := make([]float64, 0, s.Annotations)
	for _, f := range data {
		s.PerClass[f.Class]++
		for _, a := range f.Annotations {
			widths = append(widths, a.Box.Width)
			heights = append(heights, a.Box.Height)
		}
	}
	s.MeanWidth, s.StdWidth = meanStdDev(widths)
	s.MeanHeight, s.StdHeight = meanStdDev(heights)

	return s
}

// meanStdDev is stat.MeanStdDev with zero in place of undefined values, which JSON cannot encode.
func meanStdDev(x []float64) (mean, std float64) {
	if len(x) == 0 {
		return 0, 0
	}
	mean, std = stat.MeanStdDev(x, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

// sortIssues orders all issue lists by path and kind. Issues are recorded concurrently.
func (r *Report) sortIssues() {
	for _, list := range [][]Issue{r.Skipped, r.Warnings, r.Failures} {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Path != list[j].Path {
				return list[i].Path < list[j].Path
			}
			return list[i].Kind < list[j].Kind
		})
	}
}

// Write writes the report as indented JSON to path.
func (r *Report) Write(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sortIssues()

	enc, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, enc, 0644); err != nil {
		return fmt.Errorf("cannot write file %q: %w", path, err)
	}
	return nil
}

// LogSummary logs the subset sizes and the number of recorded issues.
func (r *Report) LogSummary() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.Subsets {
		log.Printf("%s: %d images, %d annotations, box w=%.4f±%.4f h=%.4f±%.4f", s.Name, s.Images,
			s.Annotations, s.MeanWidth, s.StdWidth, s.MeanHeight, s.StdHeight)
	}
	log.Printf("Skipped %d inputs, %d warnings, %d write failures (run %s)",
		len(r.Skipped), len(r.Warnings), len(r.Failures), r.RunID)
}
