package cytoconv

// The intermediate annotation metadata representation.

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
)

// Keys for known annotation attributes.
const (
	SourceFile    = "SourceFile"    // The coordinate file the box was derived from. Type string.
	BoundsWarning = "BoundsWarning" // Set if the box exceeded the image bounds. Type string.
)

// ErrNoImages is returned when there is no accepted image to split or write.
var ErrNoImages = errors.New("no annotated images")

// ErrInvalidRatio is returned for split ratios outside their valid range.
var ErrInvalidRatio = errors.New("invalid split ratio")

// Annotation is the intermediate representation of one cell label.
type Annotation struct {
	Attributes map[string]interface{} // Additional attributes of this annotation.
	Box        NormalizedBox          // The box relative to the image size.
	ClassID    int                    // Index into the ClassTable.
}

// AnnotatedFile is the intermediate representation of one source image and its cell labels.
type AnnotatedFile struct {
	Annotations []Annotation // The annotations.
	Class       string       // The class name of the enclosing folder.
	FilePath    string       // The annotated image.
	OutputName  string       // The image file name in the output dataset.
	Width       int          // Image width in pixels.
	Height      int          // Image height in pixels.
}

// AnnotatedFiles is the annotation metadata for a list of files.
type AnnotatedFiles []AnnotatedFile

// NumAnnotations is the total number of annotations in data.
func (data AnnotatedFiles) NumAnnotations() int {
	n := 0
	for _, f := range data {
		n += len(f.Annotations)
	}
	return n
}

// assignOutputNames sets OutputName to the source file name. Files whose name is used more than
// once are prefixed with their class name instead, so that no two files share an output path.
func (data AnnotatedFiles) assignOutputNames() {
	counts := make(map[string]int, len(data))
	for _, f := range data {
		counts[filepath.Base(f.FilePath)]++
	}
	for i := range data {
		name := filepath.Base(data[i].FilePath)
		if counts[name] > 1 {
			name = data[i].Class + "_" + name
		}
		data[i].OutputName = name
	}
}

// The subset names of a DatasetSplit, in output order.
const (
	Train = "train"
	Val   = "val"
	Test  = "test"
)

// SubsetNames lists the subsets of a DatasetSplit.
var SubsetNames = []string{Train, Val, Test}

// DatasetSplit is a partition of the accepted files into disjoint train, val and test subsets.
type DatasetSplit struct {
	Train AnnotatedFiles
	Val   AnnotatedFiles
	Test  AnnotatedFiles
}

// Subset returns the files of the named subset.
func (s DatasetSplit) Subset(name string) AnnotatedFiles {
	switch name {
	case Train:
		return s.Train
	case Val:
		return s.Val
	case Test:
		return s.Test
	}
	return nil
}

// Len is the total number of files in all subsets.
func (s DatasetSplit) Len() int {
	return len(s.Train) + len(s.Val) + len(s.Test)
}

// SplitOptions configures AnnotatedFiles.Split.
type SplitOptions struct {
	TrainRatio float64 // Share of all files in the train subset, in (0, 1].
	ValShare   float64 // Share of the held-out files in the val subset, in [0, 1].
	Seed       int64   // Seed of the shuffles.

	// StratifyKey optionally groups files (e.g. by class). Each group is split on its own and
	// the results are merged. Nil splits all files as one group.
	StratifyKey func(AnnotatedFile) string
}

// DefaultSplitOptions is a 70/15/15 split with seed 42.
func DefaultSplitOptions() SplitOptions {
	return SplitOptions{TrainRatio: 0.7, ValShare: 0.5, Seed: 42}
}

// Validate checks the ratios.
func (o SplitOptions) Validate() error {
	if !(o.TrainRatio > 0 && o.TrainRatio <= 1) {
		return fmt.Errorf("%w: train ratio %v not in (0, 1]", ErrInvalidRatio, o.TrainRatio)
	}
	if !(o.ValShare >= 0 && o.ValShare <= 1) {
		return fmt.Errorf("%w: val share %v not in [0, 1]", ErrInvalidRatio, o.ValShare)
	}
	return nil
}

// ratioEpsilon absorbs floating point error before flooring subset sizes, e.g. 10*0.3.
const ratioEpsilon = 1e-9

// Split deterministically partitions data into train, val and test subsets.
//
// The split happens in two stages. The files are shuffled with a source seeded by opts.Seed, and
// floor(n*(1-TrainRatio)) of them are held out; the rest is the train subset. The held-out files
// are shuffled again with a fresh source seeded by opts.Seed, and floor(held*(1-ValShare)) of them
// become the test subset; the rest is the val subset. Rounding remainders thus always go to the
// train and val subsets.
//
// Within each subset, files keep their order in data.
func (data AnnotatedFiles) Split(opts SplitOptions) (DatasetSplit, error) {
	if err := opts.Validate(); err != nil {
		return DatasetSplit{}, err
	}
	if len(data) == 0 {
		return DatasetSplit{}, ErrNoImages
	}

	// Group the file indices, keeping the order of first appearance of each key.
	var groups [][]int
	if opts.StratifyKey == nil {
		all := make([]int, len(data))
		for i := range all {
			all[i] = i
		}
		groups = [][]int{all}
	} else {
		groupIdx := make(map[string]int)
		for i, f := range data {
			key := opts.StratifyKey(f)
			g, ok := groupIdx[key]
			if !ok {
				g = len(groups)
				groupIdx[key] = g
				groups = append(groups, nil)
			}
			groups[g] = append(groups[g], i)
		}
	}

	var train, val, test []int
	for _, g := range groups {
		tr, va, te := splitIndices(g, opts)
		train = append(train, tr...)
		val = append(val, va...)
		test = append(test, te...)
	}

	pick := func(idx []int) AnnotatedFiles {
		sort.Ints(idx)
		files := make(AnnotatedFiles, len(idx))
		for i, j := range idx {
			files[i] = data[j]
		}
		return files
	}

	return DatasetSplit{Train: pick(train), Val: pick(val), Test: pick(test)}, nil
}

// splitIndices performs the two-stage split of Split on one group of indices.
func splitIndices(idx []int, opts SplitOptions) (train, val, test []int) {
	n := len(idx)
	numHeld := int(math.Floor(float64(n)*(1-opts.TrainRatio) + ratioEpsilon))

	perm := append([]int(nil), idx...)
	rng := rand.New(rand.NewSource(opts.Seed))
	rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	train, held := perm[:n-numHeld], perm[n-numHeld:]

	rng = rand.New(rand.NewSource(opts.Seed))
	rng.Shuffle(numHeld, func(i, j int) { held[i], held[j] = held[j], held[i] })
	numTest := int(math.Floor(float64(numHeld)*(1-opts.ValShare) + ratioEpsilon))
	val, test = held[:numHeld-numTest], held[numHeld-numTest:]

	return train, val, test
}

// forEachParallel calls fn(i) for all i in [0, numItems) from up to numWorkers goroutines and
// returns when all calls are done. numWorkers <= 0 selects 2*runtime.NumCPU().
//
// fn must only write state owned by item i.
func forEachParallel(numItems, numWorkers int, fn func(i int)) {
	if numWorkers <= 0 {
		numWorkers = 2 * runtime.NumCPU()
	}
	if numItems < numWorkers {
		numWorkers = numItems
	}
	workQueue := make(chan int, 2*numWorkers)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for i := range workQueue {
				fn(i)
			}
		}()
	}

	// Feed the work queue.
	for i := 0; i < numItems; i++ {
		workQueue <- i
	}
	close(workQueue)

	wg.Wait()
}
