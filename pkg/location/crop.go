package location

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"roiloc/internal/log"
	"roiloc/internal/models"
	"roiloc/pkg/nifti"
	"roiloc/pkg/roierr"
)

// Crop returns the voxels of v inside box as a new volume. The affine origin
// is moved to the box corner so the crop keeps its world position; spacing
// and direction are unchanged. v is not modified.
func Crop(v *models.Volume, box BoundingBox) (*models.Volume, error) {
	if err := box.Validate(v.Shape); err != nil {
		return nil, err
	}
	size := box.Size()
	out := &models.Volume{
		Data:      make([]float64, size.Len()),
		Shape:     size,
		Affine:    shiftOrigin(v.Affine, box.Min()),
		PixelType: v.PixelType,
	}
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			src := v.Index(box[0], box[1]+y, box[2]+z)
			dst := out.Index(0, y, z)
			copy(out.Data[dst:dst+size[0]], v.Data[src:src+size[0]])
		}
	}
	return out, nil
}

// shiftOrigin returns a copy of affine whose voxel (0,0,0) is the former
// voxel at min.
func shiftOrigin(affine *mat.Dense, min Vec3) *mat.Dense {
	out := mat.DenseCopyOf(affine)
	p := mat.NewVecDense(4, []float64{float64(min[0]), float64(min[1]), float64(min[2]), 1})
	var w mat.VecDense
	w.MulVec(affine, p)
	for i := 0; i < 3; i++ {
		out.Set(i, 3, w.AtVec(i))
	}
	return out
}

// CropOptions control CropToFile.
type CropOptions struct {
	// LogCoords writes the box next to the crop (see CoordsPath).
	LogCoords bool
}

// CropResult describes what CropToFile produced.
type CropResult struct {
	Volume     *models.Volume
	Path       string
	CoordsPath string
	Empty      bool
	Bytes      int64
}

// CropToFile crops v and writes the result to path. An all-zero crop is not
// written: a warning is printed and the result is marked Empty. A box out of
// range returns a coordinate range error and writes nothing.
func CropToFile(v *models.Volume, box BoundingBox, path string, opts CropOptions) (*CropResult, error) {
	cropped, err := Crop(v, box)
	if err != nil {
		return nil, err
	}
	res := &CropResult{Volume: cropped}
	if !cropped.Any() {
		log.Warningf("Empty cropped array, skipping for coordinates %v...", box)
		res.Empty = true
		return res, nil
	}

	if err := nifti.Write(path, cropped); err != nil {
		return nil, err
	}
	res.Path = path
	if fi, err := os.Stat(path); err == nil {
		res.Bytes = fi.Size()
	}
	if opts.LogCoords {
		res.CoordsPath = CoordsPath(path)
		if err := WriteCoords(res.CoordsPath, box); err != nil {
			return nil, fmt.Errorf("writing coordinates: %w", err)
		}
	}
	s := Summarize(cropped)
	log.Debugf("Wrote %s (%s, shape %v, %d nonzero voxels, mean %.3f)",
		path, humanize.Bytes(uint64(res.Bytes)), cropped.Shape, s.Nonzero, s.Mean)
	return res, nil
}

// InverseCrop places crop back into a volume with the shape and affine of
// reference, at the location given by box. Voxels outside the box are zero
// when zeroFill is set and keep the reference values otherwise. The crop may
// have been modified since it was cut (e.g. a segmentation); its shape must
// still match the box.
func InverseCrop(crop, reference *models.Volume, box BoundingBox, zeroFill bool) (*models.Volume, error) {
	if err := box.Validate(reference.Shape); err != nil {
		return nil, err
	}
	size := box.Size()
	if crop.Shape != size {
		return nil, roierr.CoordinateRange("inverse crop",
			"crop shape %v does not match box %v (size %v)", crop.Shape, box, size)
	}

	var out *models.Volume
	if zeroFill {
		out = models.NewVolume(reference.Shape, reference.Affine, crop.PixelType)
	} else {
		out = reference.Clone()
		out.PixelType = crop.PixelType
	}
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			src := crop.Index(0, y, z)
			dst := out.Index(box[0], box[1]+y, box[2]+z)
			copy(out.Data[dst:dst+size[0]], crop.Data[src:src+size[0]])
		}
	}
	return out, nil
}

// Summary holds intensity statistics of a volume.
type Summary struct {
	Voxels  int
	Nonzero int
	Mean    float64
	StdDev  float64
	Min     float64
	Max     float64
}

// Summarize computes statistics over all voxels of v.
func Summarize(v *models.Volume) Summary {
	s := Summary{Voxels: len(v.Data)}
	if len(v.Data) == 0 {
		return s
	}
	s.Min, s.Max = v.Data[0], v.Data[0]
	for _, x := range v.Data {
		if x != 0 {
			s.Nonzero++
		}
		if x < s.Min {
			s.Min = x
		}
		if x > s.Max {
			s.Max = x
		}
	}
	s.Mean, s.StdDev = stat.MeanStdDev(v.Data, nil)
	return s
}
