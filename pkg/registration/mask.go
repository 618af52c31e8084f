package registration

import (
	"fmt"

	"roiloc/internal/files"
	"roiloc/internal/log"
	"roiloc/internal/models"
	"roiloc/pkg/nifti"
)

// ResolveMask looks for a tissue mask matching pattern in dir and loads the
// first match as an unsigned int volume. When pattern is empty nothing is
// loaded. When it matches no file a warning is printed and registration goes
// on without a mask; this is not an error.
func ResolveMask(dir, pattern string, orientation string) (*models.Volume, string, error) {
	if pattern == "" {
		return nil, "", nil
	}
	matches, err := files.Glob(dir, pattern)
	if err != nil {
		return nil, "", fmt.Errorf("mask pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		log.Warningf("no mask found. Registering without mask...")
		return nil, "", nil
	}
	mask, err := nifti.Read(matches[0], nifti.ReadOptions{PixelType: models.UnsignedInt, Orientation: orientation})
	if err != nil {
		return nil, "", err
	}
	log.Infof("\tUsing mask %s", matches[0])
	return mask, matches[0], nil
}
