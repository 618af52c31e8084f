// Package preview renders quality-control images of volumes and crops.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"roiloc/internal/models"
)

// Low and high quantiles of the nonzero intensities mapped to black and
// white.
const (
	lowQuantile  = 0.02
	highQuantile = 0.98
)

// Viewer extracts grayscale slices of one volume.
type Viewer struct {
	volume *models.Volume

	// intensity window
	lo, hi float64
}

// NewViewer creates a viewer whose intensity window spans the 2nd to 98th
// percentile of the nonzero voxels.
func NewViewer(v *models.Volume) *Viewer {
	lo, hi := window(v.Data)
	return &Viewer{volume: v, lo: lo, hi: hi}
}

func window(data []float64) (lo, hi float64) {
	nonzero := make([]float64, 0, len(data))
	for _, s := range data {
		if s != 0 {
			nonzero = append(nonzero, s)
		}
	}
	if len(nonzero) == 0 {
		return 0, 1
	}
	sort.Float64s(nonzero)
	lo = stat.Quantile(lowQuantile, stat.Empirical, nonzero, nil)
	hi = stat.Quantile(highQuantile, stat.Empirical, nonzero, nil)
	if hi <= lo {
		// constant image
		if lo > 0 {
			return 0, hi
		}
		return lo, lo + 1
	}
	return lo, hi
}

func (v *Viewer) gray(s float64) color.Gray16 {
	t := (s - v.lo) / (v.hi - v.lo)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, t*65535)))}
}

// Axes are the slicing axes, in order.
var Axes = []string{"x", "y", "z"}

// ExtractSlice extracts a 2D slice at position along axis. Rows run along
// the second remaining axis, flipped so that superior or anterior is up.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	s := v.volume.Shape
	var (
		at   func(u, r int) float64
		w, h int
	)
	switch strings.ToLower(axis) {
	case "x":
		// sagittal: YZ plane
		if position >= s[0] {
			return nil, fmt.Errorf("position %d exceeds width %d", position, s[0])
		}
		w, h = s[1], s[2]
		at = func(u, r int) float64 { return v.volume.At(position, u, r) }
	case "y":
		// coronal: XZ plane
		if position >= s[1] {
			return nil, fmt.Errorf("position %d exceeds height %d", position, s[1])
		}
		w, h = s[0], s[2]
		at = func(u, r int) float64 { return v.volume.At(u, position, r) }
	case "z":
		// axial: XY plane
		if position >= s[2] {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, s[2])
		}
		w, h = s[0], s[1]
		at = func(u, r int) float64 { return v.volume.At(u, r, position) }
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for r := 0; r < h; r++ {
		for u := 0; u < w; u++ {
			img.SetGray16(u, h-1-r, v.gray(at(u, r)))
		}
	}
	return img, nil
}

// SaveSlice saves an extracted slice as a PNG image.
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveMidSlices writes the middle slice along every axis to
// <dir>/<name>_<axis>.png and returns the written paths.
func (v *Viewer) SaveMidSlices(dir, name string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var paths []string
	for i, axis := range Axes {
		img, err := v.ExtractSlice(axis, v.volume.Shape[i]/2)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", name, axis))
		if err := SaveSlice(img, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
