// Package registration binds roiloc to the toolkit that aligns the reference
// template with a subject and propagates atlas labels into subject space.
//
// Two collaborators are used. A Registrar computes the transforms between a
// fixed (subject) and a moving (template) volume. A Resampler applies them to
// another volume defined on the moving grid, typically the atlas. The ANTs
// command line tools implement both for real registrations; IdentityRegistrar
// and GridResampler cover data already in template space and keep tests
// self-contained.
package registration

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"roiloc/internal/models"
)

// TransformKind names a registration recipe.
type TransformKind string

const (
	Identity    TransformKind = "Identity"
	Translation TransformKind = "Translation"
	Rigid       TransformKind = "Rigid"
	QuickRigid  TransformKind = "QuickRigid"
	Similarity  TransformKind = "Similarity"
	Affine      TransformKind = "Affine"
	AffineFast  TransformKind = "AffineFast"
	SyN         TransformKind = "SyN"
	SyNRA       TransformKind = "SyNRA"
	SyNOnly     TransformKind = "SyNOnly"
	SyNQuick    TransformKind = "SyNQuick"
)

// Deformable reports whether the kind produces a warp field.
func (k TransformKind) Deformable() bool {
	switch k {
	case SyN, SyNRA, SyNOnly, SyNQuick:
		return true
	}
	return false
}

// TransformKinds lists the supported kinds in a stable order.
func TransformKinds() []TransformKind {
	kinds := make([]TransformKind, 0, len(antsStages)+1)
	kinds = append(kinds, Identity)
	for k := range antsStages {
		kinds = append(kinds, k)
	}
	rest := kinds[1:]
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return kinds
}

// ParseTransformKind accepts a kind name, case-insensitively.
func ParseTransformKind(s string) (TransformKind, error) {
	for _, k := range TransformKinds() {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown transform type %q", s)
}

// Interpolation selects how a moving volume is sampled.
type Interpolation string

const (
	// NearestNeighbor keeps discrete label values intact and must be used
	// for atlases and masks.
	NearestNeighbor Interpolation = "NearestNeighbor"
	Linear          Interpolation = "Linear"
)

// Transform is one step of a transform chain. Either Path or Matrix is set.
type Transform struct {
	// Path is a transform file understood by ANTs: an affine .mat file or a
	// displacement field.
	Path string

	// Invert applies the inverse of the transform in Path.
	Invert bool

	// Matrix maps fixed-space world points to moving-space world points.
	Matrix *mat.Dense
}

func (t Transform) String() string {
	if t.Matrix != nil {
		return "matrix"
	}
	if t.Invert {
		return "[" + t.Path + ",1]"
	}
	return t.Path
}

// Result holds the transform chains of one registration. Forward maps
// moving (template) data into fixed (subject) space; Inverse goes back.
// As in ANTs, the last transform of a chain is applied first.
type Result struct {
	Kind    TransformKind
	Forward []Transform
	Inverse []Transform
}

// Persist copies file-backed transforms into dir, prefixing their base names,
// and returns a Result pointing at the copies. Transforms written to a
// scratch directory must be persisted to outlive it.
func (r *Result) Persist(dir, prefix string) (*Result, error) {
	out := &Result{Kind: r.Kind}
	copied := map[string]string{}
	persist := func(chain []Transform) ([]Transform, error) {
		res := make([]Transform, len(chain))
		for i, t := range chain {
			res[i] = t
			if t.Path == "" {
				continue
			}
			dst, ok := copied[t.Path]
			if !ok {
				dst = filepath.Join(dir, prefix+filepath.Base(t.Path))
				if err := copyFile(t.Path, dst); err != nil {
					return nil, fmt.Errorf("persisting transform: %w", err)
				}
				copied[t.Path] = dst
			}
			res[i].Path = dst
		}
		return res, nil
	}
	var err error
	if out.Forward, err = persist(r.Forward); err != nil {
		return nil, err
	}
	if out.Inverse, err = persist(r.Inverse); err != nil {
		return nil, err
	}
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Registrar aligns moving to fixed. mask, when not nil, restricts the metric
// to the fixed-space region it covers. Intermediate files go to scratch.
type Registrar interface {
	Register(ctx context.Context, fixed, moving *models.Volume, kind TransformKind, mask *models.Volume, scratch string) (*Result, error)
}

// Resampler maps moving onto the grid of fixed through a transform chain.
type Resampler interface {
	Resample(ctx context.Context, fixed, moving *models.Volume, transforms []Transform, interp Interpolation, scratch string) (*models.Volume, error)
}
