package locator

import (
	"context"
	"fmt"
	"path/filepath"

	"roiloc/internal/log"
	"roiloc/internal/models"
	"roiloc/pkg/nifti"
	"roiloc/pkg/registration"
	"roiloc/pkg/roierr"
)

// Deps are the collaborators and shared read-only volumes of a run. The
// template and atlas are loaded once and never modified.
type Deps struct {
	Registrar registration.Registrar
	Resampler registration.Resampler
	Template  *models.Volume
	Atlas     *models.Volume
}

func (d Deps) validate() error {
	switch {
	case d.Registrar == nil:
		return fmt.Errorf("locator: no registrar")
	case d.Resampler == nil:
		return fmt.Errorf("locator: no resampler")
	case d.Template == nil:
		return fmt.Errorf("locator: no template")
	case d.Atlas == nil:
		return fmt.Errorf("locator: no atlas")
	}
	return nil
}

// Intermediates selects where intermediate files of one subject are saved.
// A zero value saves nothing.
type Intermediates struct {
	Dir  string
	Stem string
}

func (i Intermediates) enabled() bool { return i.Dir != "" }

func (i Intermediates) path(suffix string) string {
	return filepath.Join(i.Dir, i.Stem+suffix)
}

// RegisteredAtlas is the atlas propagated into one subject's space.
type RegisteredAtlas struct {
	// Labels is the atlas on the subject grid, resampled with
	// nearest-neighbor interpolation.
	Labels *models.Volume

	// Result holds the transforms. They point to saved copies when
	// intermediates were requested and are empty otherwise, since the
	// registration scratch directory is gone.
	Result *registration.Result
}

// RegisterAtlas aligns the template to image and resamples the atlas onto the
// image grid. All scratch files are removed before it returns. Collaborator
// failures are registration errors.
func RegisterAtlas(ctx context.Context, deps Deps, image *models.Volume, kind registration.TransformKind, mask *models.Volume, save Intermediates) (*RegisteredAtlas, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	var out *RegisteredAtlas
	err := registration.WithScratchDir("roiloc-", func(scratch string) error {
		log.Infof("\tRegistering MNI to native space...")
		res, err := deps.Registrar.Register(ctx, image, deps.Template, kind, mask, scratch)
		if err != nil {
			return roierr.Registration("register", err)
		}
		// labels are never interpolated
		labels, err := deps.Resampler.Resample(ctx, image, deps.Atlas, res.Forward, registration.NearestNeighbor, scratch)
		if err != nil {
			return roierr.Registration("apply transforms", err)
		}
		if labels.Shape != image.Shape {
			return roierr.Registration("apply transforms",
				fmt.Errorf("registered atlas shape %v differs from image shape %v", labels.Shape, image.Shape))
		}
		labels.PixelType = models.UnsignedInt

		kept := &registration.Result{Kind: res.Kind}
		if save.enabled() {
			if kept, err = res.Persist(save.Dir, save.Stem+"_"); err != nil {
				return err
			}
		}
		out = &RegisteredAtlas{Labels: labels, Result: kept}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if save.enabled() {
		log.Infof("\tSaving intermediate files...")
		if err := nifti.Write(save.path("_LPI.nii.gz"), image); err != nil {
			return nil, err
		}
		if err := nifti.Write(save.path("_CerebrA.nii.gz"), out.Labels); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// LabelMask returns a binary volume that is 1 where atlas equals label.
func LabelMask(atlas *models.Volume, label int) *models.Volume {
	mask := make([]float64, len(atlas.Data))
	l := float64(label)
	for i, s := range atlas.Data {
		if s == l {
			mask[i] = 1
		}
	}
	return atlas.WithData(mask, models.UnsignedInt)
}
