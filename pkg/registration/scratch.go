package registration

import (
	"fmt"
	"os"

	"roiloc/internal/log"
)

// WithScratchDir runs fn with a fresh temporary directory and removes the
// directory when fn returns, fails or panics. Registration tools write large
// intermediate files there; over a long batch they would otherwise fill the
// disk.
func WithScratchDir(prefix string, fn func(dir string) error) (err error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	log.Debugf("Cache dir: %s", dir)
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warningf("could not remove scratch directory %s: %v", dir, rmErr)
			if err == nil {
				err = rmErr
			}
		}
	}()
	return fn(dir)
}
