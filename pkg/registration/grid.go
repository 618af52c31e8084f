package registration

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"roiloc/internal/models"
)

// IdentityRegistrar is used when the template already shares the subject's
// world space, e.g. data normalized to MNI space beforehand. It returns
// identity matrices; the grids may still differ and are reconciled by the
// resampler.
type IdentityRegistrar struct{}

func (IdentityRegistrar) Register(ctx context.Context, fixed, moving *models.Volume, kind TransformKind, mask *models.Volume, scratch string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{
		Kind:    Identity,
		Forward: []Transform{{Matrix: models.IdentityAffine()}},
		Inverse: []Transform{{Matrix: models.IdentityAffine()}},
	}, nil
}

// GridResampler resamples in process through chains of world-space matrices.
type GridResampler struct{}

// voxelMap returns the matrix taking fixed voxel indices to moving voxel
// indices: inv(moving) * T1 * ... * Tn * fixed.
func voxelMap(fixed, moving *models.Volume, transforms []Transform) (*mat.Dense, error) {
	chain := models.IdentityAffine()
	for _, t := range transforms {
		if t.Matrix == nil {
			return nil, fmt.Errorf("in-process resampling needs matrix transforms, got file %s", t.Path)
		}
		m := t.Matrix
		if t.Invert {
			var inv mat.Dense
			if err := inv.Inverse(t.Matrix); err != nil {
				return nil, fmt.Errorf("inverting transform: %w", err)
			}
			m = &inv
		}
		var next mat.Dense
		next.Mul(chain, m)
		chain = &next
	}
	var movingInv mat.Dense
	if err := movingInv.Inverse(moving.Affine); err != nil {
		return nil, fmt.Errorf("moving affine is singular: %w", err)
	}
	var out mat.Dense
	out.Product(&movingInv, chain, fixed.Affine)
	return &out, nil
}

// Resample maps moving onto the fixed grid. Samples falling outside moving
// are zero.
func (GridResampler) Resample(ctx context.Context, fixed, moving *models.Volume, transforms []Transform, interp Interpolation, scratch string) (*models.Volume, error) {
	m, err := voxelMap(fixed, moving, transforms)
	if err != nil {
		return nil, err
	}
	var sample func(p [3]float64) float64
	switch interp {
	case NearestNeighbor:
		sample = func(p [3]float64) float64 {
			x, y, z := int(math.Round(p[0])), int(math.Round(p[1])), int(math.Round(p[2]))
			if !moving.Contains(x, y, z) {
				return 0
			}
			return moving.At(x, y, z)
		}
	case Linear:
		sample = func(p [3]float64) float64 { return trilinear(moving, p) }
	default:
		return nil, fmt.Errorf("unsupported interpolation %q", interp)
	}

	out := models.NewVolume(fixed.Shape, fixed.Affine, moving.PixelType)
	for z := 0; z < fixed.Shape[2]; z++ {
		if z%16 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for y := 0; y < fixed.Shape[1]; y++ {
			for x := 0; x < fixed.Shape[0]; x++ {
				var p [3]float64
				for i := 0; i < 3; i++ {
					p[i] = m.At(i, 0)*float64(x) + m.At(i, 1)*float64(y) + m.At(i, 2)*float64(z) + m.At(i, 3)
				}
				out.Data[out.Index(x, y, z)] = sample(p)
			}
		}
	}
	return out, nil
}

// trilinear interpolates v at a continuous voxel position. Neighbors outside
// the volume count as zero.
func trilinear(v *models.Volume, p [3]float64) float64 {
	x0, y0, z0 := int(math.Floor(p[0])), int(math.Floor(p[1])), int(math.Floor(p[2]))
	fx, fy, fz := p[0]-float64(x0), p[1]-float64(y0), p[2]-float64(z0)
	var sum float64
	for dz := 0; dz <= 1; dz++ {
		wz := 1 - fz
		if dz == 1 {
			wz = fz
		}
		for dy := 0; dy <= 1; dy++ {
			wy := 1 - fy
			if dy == 1 {
				wy = fy
			}
			for dx := 0; dx <= 1; dx++ {
				wx := 1 - fx
				if dx == 1 {
					wx = fx
				}
				w := wx * wy * wz
				if w == 0 || !v.Contains(x0+dx, y0+dy, z0+dz) {
					continue
				}
				sum += w * v.At(x0+dx, y0+dy, z0+dz)
			}
		}
	}
	return sum
}
