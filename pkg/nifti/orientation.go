package nifti

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"roiloc/internal/models"
)

// Orientation codes use the ITK/ANTs convention: each letter names the side
// an axis starts from. "LPI" means the first voxel axis runs from left to
// right, the second from posterior to anterior and the third from inferior
// to superior, i.e. RAS+ in world terms.

// axisOrient tells which world axis (0=x, 1=y, 2=z) a voxel axis follows
// and whether increasing the index moves towards R, A, S (+1) or away (-1).
type axisOrient struct {
	world int
	sign  int
}

var letters = map[byte]axisOrient{
	'L': {0, 1}, 'R': {0, -1},
	'P': {1, 1}, 'A': {1, -1},
	'I': {2, 1}, 'S': {2, -1},
}

func letterFor(o axisOrient) byte {
	for l, lo := range letters {
		if lo == o {
			return l
		}
	}
	return '?'
}

// orientations assigns every voxel axis to the world axis its direction
// cosine is closest to, taking the strongest pairs first.
func orientations(affine *mat.Dense) [3]axisOrient {
	var r [3][3]float64
	for j := 0; j < 3; j++ {
		var n float64
		for i := 0; i < 3; i++ {
			n += affine.At(i, j) * affine.At(i, j)
		}
		n = math.Sqrt(n)
		if n == 0 {
			n = 1
		}
		for i := 0; i < 3; i++ {
			r[i][j] = affine.At(i, j) / n
		}
	}
	var out [3]axisOrient
	var rowUsed, colUsed [3]bool
	for k := 0; k < 3; k++ {
		bi, bj, best := -1, -1, -1.0
		for i := 0; i < 3; i++ {
			if rowUsed[i] {
				continue
			}
			for j := 0; j < 3; j++ {
				if colUsed[j] {
					continue
				}
				if a := math.Abs(r[i][j]); a > best {
					bi, bj, best = i, j, a
				}
			}
		}
		rowUsed[bi], colUsed[bj] = true, true
		sign := 1
		if r[bi][bj] < 0 {
			sign = -1
		}
		out[bj] = axisOrient{world: bi, sign: sign}
	}
	return out
}

// Orientation returns the three-letter orientation code of an affine.
func Orientation(affine *mat.Dense) string {
	o := orientations(affine)
	return string([]byte{letterFor(o[0]), letterFor(o[1]), letterFor(o[2])})
}

// IsOriented reports whether v already follows code.
func IsOriented(v *models.Volume, code string) bool {
	return Orientation(v.Affine) == strings.ToUpper(code)
}

func parseCode(code string) ([3]axisOrient, error) {
	var out [3]axisOrient
	code = strings.ToUpper(code)
	if len(code) != 3 {
		return out, fmt.Errorf("invalid orientation code %q", code)
	}
	var seen [3]bool
	for k := 0; k < 3; k++ {
		o, ok := letters[code[k]]
		if !ok || seen[o.world] {
			return out, fmt.Errorf("invalid orientation code %q", code)
		}
		seen[o.world] = true
		out[k] = o
	}
	return out, nil
}

// Reorient permutes and flips the voxel axes of v so that it follows code.
// The affine is updated so every voxel keeps its world position. When v
// already has the requested orientation it is returned as is.
func Reorient(v *models.Volume, code string) (*models.Volume, error) {
	target, err := parseCode(code)
	if err != nil {
		return nil, err
	}
	cur := orientations(v.Affine)

	var perm [3]int
	var flip [3]bool
	identity := true
	for k := 0; k < 3; k++ {
		for j := 0; j < 3; j++ {
			if cur[j].world == target[k].world {
				perm[k] = j
				flip[k] = cur[j].sign != target[k].sign
			}
		}
		if perm[k] != k || flip[k] {
			identity = false
		}
	}
	if identity {
		return v, nil
	}

	var shape models.Shape
	for k := 0; k < 3; k++ {
		shape[k] = v.Shape[perm[k]]
	}
	out := &models.Volume{
		Data:      make([]float64, shape.Len()),
		Shape:     shape,
		PixelType: v.PixelType,
	}
	var in [3]int
	for z := 0; z < shape[2]; z++ {
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[0]; x++ {
				o := [3]int{x, y, z}
				for k := 0; k < 3; k++ {
					if flip[k] {
						in[perm[k]] = v.Shape[perm[k]] - 1 - o[k]
					} else {
						in[perm[k]] = o[k]
					}
				}
				out.Data[out.Index(x, y, z)] = v.At(in[0], in[1], in[2])
			}
		}
	}

	// t maps output voxel indices to input voxel indices.
	t := mat.NewDense(4, 4, nil)
	t.Set(3, 3, 1)
	for k := 0; k < 3; k++ {
		if flip[k] {
			t.Set(perm[k], k, -1)
			t.Set(perm[k], 3, float64(v.Shape[perm[k]]-1))
		} else {
			t.Set(perm[k], k, 1)
		}
	}
	out.Affine = mat.NewDense(4, 4, nil)
	out.Affine.Mul(v.Affine, t)
	return out, nil
}
