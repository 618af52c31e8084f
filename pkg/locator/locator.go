// Package locator finds a bilateral ROI in a subject image and crops it.
//
// A Locator is bound to one ROI and one subject session. Fit registers the
// template to the subject, propagates the atlas and derives one bounding
// box per hemisphere. Transform then crops the fitted image, or any volume
// sharing its grid, and InverseTransform puts a processed crop back into the
// subject space.
package locator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"roiloc/internal/log"
	"roiloc/internal/models"
	"roiloc/pkg/location"
	"roiloc/pkg/nifti"
	"roiloc/pkg/registration"
	"roiloc/pkg/roierr"
	"roiloc/pkg/template"
)

// ErrNotFit is returned by Transform and InverseTransform before Fit.
var ErrNotFit = errors.New("locator is not fit")

// Side is a hemisphere.
type Side int

const (
	Right Side = iota
	Left
)

// Sides lists both hemispheres in processing order.
var Sides = []Side{Right, Left}

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Config holds the per-ROI settings.
type Config struct {
	Transform   registration.TransformKind
	Margin      location.Vec3
	RightOffset location.Vec3
	LeftOffset  location.Vec3
}

// DefaultConfig matches the command line defaults.
func DefaultConfig() Config {
	return Config{
		Transform: registration.AffineFast,
		Margin:    location.Vec3{8, 8, 8},
	}
}

func (c Config) offset(s Side) location.Vec3 {
	if s == Left {
		return c.LeftOffset
	}
	return c.RightOffset
}

// Locator holds one ROI session.
type Locator struct {
	roi    string
	labels template.LabelPair
	deps   Deps
	cfg    Config

	id     string
	image  *models.Volume
	atlas  *RegisteredAtlas
	boxes  map[Side]location.BoundingBox
	fitted bool
}

// New returns an unfit locator for roi, whose atlas indices are labels.
func New(roi string, labels template.LabelPair, deps Deps, cfg Config) (*Locator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	for _, m := range cfg.Margin {
		if m < 0 {
			return nil, roierr.Configuration("locator", "margin %v must not be negative", cfg.Margin)
		}
	}
	return &Locator{
		roi:    roi,
		labels: labels,
		deps:   deps,
		cfg:    cfg,
	}, nil
}

// FitOptions are the optional inputs of Fit.
type FitOptions struct {
	// Mask restricts the registration metric to brain tissue.
	Mask *models.Volume

	// MaskPattern is globbed in MaskDir when Mask is nil. Nothing matching
	// is a warning and registration runs unmasked.
	MaskDir     string
	MaskPattern string

	// Save writes the reoriented image, the registered atlas, the
	// transforms and the side masks.
	Save Intermediates
}

// Fit registers the template to image and computes both boxes. Calling it
// again starts a new session.
func (l *Locator) Fit(ctx context.Context, image *models.Volume, opts FitOptions) error {
	l.reset()
	mask := opts.Mask
	if mask == nil && opts.MaskPattern != "" {
		var err error
		if mask, _, err = registration.ResolveMask(opts.MaskDir, opts.MaskPattern, nifti.Orientation(image.Affine)); err != nil {
			return err
		}
	}
	atlas, err := RegisterAtlas(ctx, l.deps, image, l.cfg.Transform, mask, opts.Save)
	if err != nil {
		return err
	}
	return l.FitAtlas(image, atlas, opts.Save)
}

// FitAtlas computes both boxes from an atlas already registered to image.
// It lets several ROIs share one registration.
func (l *Locator) FitAtlas(image *models.Volume, atlas *RegisteredAtlas, save Intermediates) error {
	l.reset()
	if atlas.Labels.Shape != image.Shape {
		return roierr.CoordinateRange("fit",
			"registered atlas shape %v differs from image shape %v", atlas.Labels.Shape, image.Shape)
	}

	boxes := make(map[Side]location.BoundingBox, len(Sides))
	for _, side := range Sides {
		idx := l.labels.Right
		if side == Left {
			idx = l.labels.Left
		}
		mask := LabelMask(atlas.Labels, idx)
		if save.enabled() {
			if err := nifti.Write(save.path(fmt.Sprintf("_%s_%s_%s_mask.nii.gz", l.roi, side, l.cfg.Transform)), mask); err != nil {
				return err
			}
		}
		box, err := location.ExtractCoords(mask, l.cfg.Margin, l.cfg.offset(side))
		if err != nil {
			return fmt.Errorf("%s %s (label %d): %w", l.roi, side, idx, err)
		}
		boxes[side] = box
	}

	l.id = uuid.NewString()
	l.image = image
	l.atlas = atlas
	l.boxes = boxes
	l.fitted = true
	log.Debugf("Locator %s fit for %s: right %v, left %v", l.id, l.roi, boxes[Right], boxes[Left])
	return nil
}

func (l *Locator) reset() {
	l.id = ""
	l.image = nil
	l.atlas = nil
	l.boxes = nil
	l.fitted = false
}

// checkImage verifies that image shares the fitted grid and orientation.
func (l *Locator) checkImage(image *models.Volume) error {
	if image.Shape != l.image.Shape {
		return roierr.CoordinateRange("transform",
			"image shape %v differs from fitted shape %v", image.Shape, l.image.Shape)
	}
	if got, want := nifti.Orientation(image.Affine), nifti.Orientation(l.image.Affine); got != want {
		return roierr.CoordinateRange("transform",
			"image orientation %s differs from fitted orientation %s", got, want)
	}
	return nil
}

// Transform crops image with both boxes.
func (l *Locator) Transform(image *models.Volume) (map[Side]*models.Volume, error) {
	if !l.fitted {
		return nil, ErrNotFit
	}
	if err := l.checkImage(image); err != nil {
		return nil, err
	}
	out := make(map[Side]*models.Volume, len(Sides))
	for _, side := range Sides {
		c, err := location.Crop(image, l.boxes[side])
		if err != nil {
			return nil, err
		}
		out[side] = c
	}
	return out, nil
}

// CropName returns the output file name of a crop of the file with the
// given stem.
func (l *Locator) CropName(stem string, side Side) string {
	return fmt.Sprintf("%s_%s_%s_%s_crop.nii.gz", stem, l.roi, side, l.cfg.Transform)
}

// TransformToFiles crops image with both boxes and writes the crops and their
// coordinate sidecars to dir. Empty crops are skipped with a warning.
func (l *Locator) TransformToFiles(image *models.Volume, dir, stem string) (map[Side]*location.CropResult, error) {
	if !l.fitted {
		return nil, ErrNotFit
	}
	if err := l.checkImage(image); err != nil {
		return nil, err
	}
	out := make(map[Side]*location.CropResult, len(Sides))
	for _, side := range Sides {
		path := filepath.Join(dir, l.CropName(stem, side))
		res, err := location.CropToFile(image, l.boxes[side], path, location.CropOptions{LogCoords: true})
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", l.roi, side, err)
		}
		out[side] = res
	}
	return out, nil
}

// InverseTransform puts a crop of side back into the fitted subject space.
// Voxels outside the box are zero when zeroFill is set and keep the subject
// intensities otherwise.
func (l *Locator) InverseTransform(crop *models.Volume, side Side, zeroFill bool) (*models.Volume, error) {
	if !l.fitted {
		return nil, ErrNotFit
	}
	return location.InverseCrop(crop, l.image, l.boxes[side], zeroFill)
}

// Box returns the box of side. ok is false before Fit.
func (l *Locator) Box(side Side) (box location.BoundingBox, ok bool) {
	if !l.fitted {
		return box, false
	}
	return l.boxes[side], true
}

// Fitted reports whether Fit succeeded.
func (l *Locator) Fitted() bool { return l.fitted }

// ROI returns the ROI name.
func (l *Locator) ROI() string { return l.roi }

// ID identifies the current session in logs; it is empty before Fit.
func (l *Locator) ID() string { return l.id }

// Registration returns the registration of the current session.
func (l *Locator) Registration() *RegisteredAtlas { return l.atlas }
