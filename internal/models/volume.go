package models

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// PixelType is the sample type a volume is read as.
type PixelType int

const (
	// Float is used for intensity images.
	Float PixelType = iota

	// UnsignedInt is used for label and mask volumes. Samples are kept as
	// float64 in memory but are always non-negative integers.
	UnsignedInt
)

func (p PixelType) String() string {
	switch p {
	case Float:
		return "float"
	case UnsignedInt:
		return "unsigned int"
	default:
		return fmt.Sprintf("PixelType(%d)", int(p))
	}
}

// ParsePixelType accepts "float" and "unsigned int" (or "uint").
func ParsePixelType(s string) (PixelType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float", "float32", "float64":
		return Float, nil
	case "unsigned int", "uint", "uint32":
		return UnsignedInt, nil
	}
	return Float, fmt.Errorf("unknown pixel type %q", s)
}

// Shape holds the number of voxels along each of the three axes.
type Shape [3]int

// Len returns the number of voxels.
func (s Shape) Len() int {
	return s[0] * s[1] * s[2]
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s[0], s[1], s[2])
}

// Volume is a 3D image with its voxel-to-world mapping.
type Volume struct {
	// Data holds the samples as a 1D array with x varying fastest:
	// idx = z*nx*ny + y*nx + x
	Data []float64

	// Shape is the extent of the volume in voxels
	Shape Shape

	// Affine is the 4x4 matrix mapping voxel indices to RAS+ world
	// coordinates in mm.
	Affine *mat.Dense

	// PixelType tells how samples were read and how they are written back.
	PixelType PixelType
}

// IdentityAffine returns a new 4x4 identity matrix.
func IdentityAffine() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// NewVolume allocates a zero-filled volume. A nil affine is replaced by the
// identity.
func NewVolume(shape Shape, affine *mat.Dense, pixelType PixelType) *Volume {
	if affine == nil {
		affine = IdentityAffine()
	} else {
		affine = mat.DenseCopyOf(affine)
	}
	return &Volume{
		Data:      make([]float64, shape.Len()),
		Shape:     shape,
		Affine:    affine,
		PixelType: pixelType,
	}
}

// Index returns the position of voxel (x, y, z) in Data.
func (v *Volume) Index(x, y, z int) int {
	return z*v.Shape[0]*v.Shape[1] + y*v.Shape[0] + x
}

// At returns the sample at voxel (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores a sample at voxel (x, y, z).
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// Contains reports whether (x, y, z) is a valid voxel index.
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 &&
		x < v.Shape[0] && y < v.Shape[1] && z < v.Shape[2]
}

// Any reports whether at least one sample is nonzero.
func (v *Volume) Any() bool {
	for _, s := range v.Data {
		if s != 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{
		Data:      data,
		Shape:     v.Shape,
		Affine:    mat.DenseCopyOf(v.Affine),
		PixelType: v.PixelType,
	}
}

// Spacing returns the voxel size along each axis in mm.
func (v *Volume) Spacing() [3]float64 {
	var sp [3]float64
	for j := 0; j < 3; j++ {
		var sum float64
		for i := 0; i < 3; i++ {
			sum += v.Affine.At(i, j) * v.Affine.At(i, j)
		}
		sp[j] = math.Sqrt(sum)
	}
	return sp
}

// SameGrid reports whether two volumes share shape and affine, within a
// small tolerance on the affine.
func (v *Volume) SameGrid(o *Volume) bool {
	if v.Shape != o.Shape {
		return false
	}
	return mat.EqualApprox(v.Affine, o.Affine, 1e-4)
}

// WithData returns a volume sharing the grid of v with the given samples.
func (v *Volume) WithData(data []float64, pixelType PixelType) *Volume {
	return &Volume{
		Data:      data,
		Shape:     v.Shape,
		Affine:    mat.DenseCopyOf(v.Affine),
		PixelType: pixelType,
	}
}
