package cytoconv

// Polygon coordinate (.dat) file functionality.

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// coordSeparator separates the x and y value on a coordinate line.
const coordSeparator = ","

// ReadPolygon reads the coordinate file at path, one "x,y" pair per line. It also returns the
// number of malformed lines.
//
// Empty lines are ignored. Lines that have no separator or do not parse as two finite floats are
// skipped and counted as malformed. A file without any valid line yields an empty Polygon and no
// error.
func ReadPolygon(path string) (Polygon, int, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, 0, err
	}

	p := make(Polygon, 0, len(lines))
	malformed := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		pt, err := parseCoordLine(line)
		if err != nil {
			malformed++
			continue
		}
		p = append(p, pt)
	}

	return p, malformed, nil
}

// parseCoordLine parses a single "x,y" line. Parsing does not depend on the locale.
func parseCoordLine(line string) (Point, error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.Contains(line, coordSeparator) {
		return Point{}, fmt.Errorf("not a coordinate line: %q", line)
	}

	tokens := strings.Split(line, coordSeparator)
	if len(tokens) != 2 {
		return Point{}, fmt.Errorf("expected 2 values in %q, got %d", line, len(tokens))
	}

	x, err := strconv.ParseFloat(strings.TrimSpace(tokens[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("unexpected x value in %q: %v", line, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(tokens[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("unexpected y value in %q: %v", line, err)
	}

	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return Point{}, fmt.Errorf("non-finite value in %q", line)
	}

	return Point{X: x, Y: y}, nil
}
