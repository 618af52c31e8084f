// Package location derives bounding boxes from ROI masks and crops volumes
// with them.
//
// A BoundingBox holds [minX, minY, minZ, maxX, maxY, maxZ] in voxel indices.
// Slicing is half-open: voxels with min <= i < max are kept, so a max equal
// to the axis extent keeps the last plane. The same convention is used by
// ExtractCoords, Crop and InverseCrop.
package location

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"roiloc/internal/models"
	"roiloc/pkg/roierr"
)

// ErrEmptyMask is returned when a mask has no foreground voxel, so no box
// can be derived from it.
var ErrEmptyMask = errors.New("mask has no nonzero voxel")

// Vec3 holds one integer per axis (margins, offsets).
type Vec3 [3]int

// BoundingBox is [minX, minY, minZ, maxX, maxY, maxZ].
type BoundingBox [6]int

// Min returns the lower corner.
func (b BoundingBox) Min() Vec3 { return Vec3{b[0], b[1], b[2]} }

// Max returns the upper corner.
func (b BoundingBox) Max() Vec3 { return Vec3{b[3], b[4], b[5]} }

// Size returns the number of voxels kept on each axis.
func (b BoundingBox) Size() models.Shape {
	return models.Shape{b[3] - b[0], b[4] - b[1], b[5] - b[2]}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%d %d %d %d %d %d]", b[0], b[1], b[2], b[3], b[4], b[5])
}

// Validate checks 0 <= min <= max <= extent on every axis. A failure is a
// coordinate range error: it usually means the registration drifted or the
// margins are too big.
func (b BoundingBox) Validate(shape models.Shape) error {
	for a := 0; a < 3; a++ {
		lo, hi := b[a], b[a+3]
		if lo < 0 || hi < 0 || lo > shape[a] || hi > shape[a] || lo > hi {
			return roierr.CoordinateRange("crop",
				"coordinates %v out-of-range for image shape %v. It may indicate a registration problem, or too big margins",
				b, shape)
		}
	}
	return nil
}

// ExtractCoords returns the box around the nonzero voxels of mask, shifted by
// offset, widened by margin and clamped to the volume. Each bound is clamped
// on its own: min never goes below 0 and max never goes past the extent.
func ExtractCoords(mask *models.Volume, margin, offset Vec3) (BoundingBox, error) {
	var box BoundingBox
	if len(mask.Data) != mask.Shape.Len() {
		return box, fmt.Errorf("mask has %d samples for shape %v", len(mask.Data), mask.Shape)
	}

	mins := Vec3{math.MaxInt, math.MaxInt, math.MaxInt}
	maxs := Vec3{-1, -1, -1}
	nx, ny := mask.Shape[0], mask.Shape[1]
	for i, s := range mask.Data {
		if s == 0 {
			continue
		}
		p := Vec3{i % nx, (i / nx) % ny, i / (nx * ny)}
		for a := 0; a < 3; a++ {
			if p[a] < mins[a] {
				mins[a] = p[a]
			}
			if p[a] > maxs[a] {
				maxs[a] = p[a]
			}
		}
	}
	if maxs[0] < 0 {
		return box, ErrEmptyMask
	}

	for a := 0; a < 3; a++ {
		lo := mins[a] + offset[a] - margin[a]
		if lo < 0 {
			lo = 0
		}
		hi := maxs[a] + offset[a] + margin[a]
		if hi > mask.Shape[a] {
			hi = mask.Shape[a]
		}
		box[a], box[a+3] = lo, hi
	}
	return box, nil
}

// CoordsPath returns the sidecar path for a crop written at imagePath:
// the NIfTI extension is replaced by ".txt".
func CoordsPath(imagePath string) string {
	for _, ext := range []string{".nii.gz", ".nii"} {
		if strings.HasSuffix(imagePath, ext) {
			return strings.TrimSuffix(imagePath, ext) + ".txt"
		}
	}
	return imagePath + ".txt"
}

// WriteCoords stores the six integers of box, one per line.
func WriteCoords(path string, box BoundingBox) error {
	var sb strings.Builder
	for _, c := range box {
		sb.WriteString(strconv.Itoa(c))
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

// ReadCoords parses a sidecar written by WriteCoords. Values written in
// floating point notation (e.g. "3.000000000000000000e+00") are accepted
// as long as they are integral.
func ReadCoords(path string) (BoundingBox, error) {
	var box BoundingBox
	f, err := os.Open(path)
	if err != nil {
		return box, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		for _, field := range strings.Fields(sc.Text()) {
			if n == len(box) {
				return box, fmt.Errorf("%s: more than %d coordinates", path, len(box))
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil || v != math.Trunc(v) {
				return box, fmt.Errorf("%s: invalid coordinate %q", path, field)
			}
			box[n] = int(v)
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return box, err
	}
	if n != len(box) {
		return box, fmt.Errorf("%s: expected %d coordinates, found %d", path, len(box), n)
	}
	return box, nil
}
