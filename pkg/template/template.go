package template

import (
	"fmt"
	"strings"

	"roiloc/internal/models"
	"roiloc/pkg/nifti"
	"roiloc/pkg/roierr"
)

// SupportedContrasts lists the contrasts a template exists for.
var SupportedContrasts = []string{"t1", "t2"}

// ValidateContrast returns a configuration error for unsupported contrasts.
func ValidateContrast(contrast string) error {
	for _, c := range SupportedContrasts {
		if contrast == c {
			return nil
		}
	}
	return roierr.Configuration("template",
		"unsupported contrast %q, must be one of %s", contrast, strings.Join(SupportedContrasts, ", "))
}

// Assets loads reference data through a Provider.
type Assets struct {
	provider Provider
}

// New returns a loader backed by p.
func New(p Provider) *Assets {
	return &Assets{provider: p}
}

func (a *Assets) readVolume(name string, pt models.PixelType) (*models.Volume, error) {
	rc, err := a.provider.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	v, err := nifti.Decode(rc, nifti.ReadOptions{PixelType: pt})
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", a.provider.Locate(name), err)
	}
	return v, nil
}

// Template loads the MNI template for contrast ("t1" or "t2").
func (a *Assets) Template(contrast string, bet bool) (*models.Volume, error) {
	if err := ValidateContrast(contrast); err != nil {
		return nil, err
	}
	return a.readVolume(TemplateName(contrast, bet), models.Float)
}

// Atlas loads the CerebrA atlas as a label volume.
func (a *Assets) Atlas() (*models.Volume, error) {
	return a.readVolume(AtlasName, models.UnsignedInt)
}

// Labels loads the CerebrA label table.
func (a *Assets) Labels() (*LabelTable, error) {
	rc, err := a.provider.Open(LabelTableName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	t, err := ParseLabelTable(rc)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", a.provider.Locate(LabelTableName), err)
	}
	return t, nil
}
