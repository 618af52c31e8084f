package main

import (
	"github.com/spf13/cobra"

	"roiloc/internal/log"
	"roiloc/internal/models"
	"roiloc/pkg/location"
	"roiloc/pkg/nifti"
	"roiloc/pkg/roierr"
)

type uncropOptions struct {
	crop           string
	reference      string
	coords         string
	output         string
	keepBackground bool
	labels         bool
}

func newUncropCmd() *cobra.Command {
	opts := &uncropOptions{}
	cmd := &cobra.Command{
		Use:   "uncrop",
		Short: "Put a crop back into the space of the image it was cut from",
		Long: `uncrop places a (possibly processed) crop back into the grid of its reference
image using the coordinates written next to the crop. The result has the
orientation of the reference file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUncrop(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.crop, "crop", "", "cropped image")
	f.StringVar(&opts.reference, "reference", "", "image the crop was cut from")
	f.StringVar(&opts.coords, "coords", "", "coordinates file (default: next to the crop)")
	f.StringVarP(&opts.output, "output", "o", "", "output image")
	f.BoolVar(&opts.keepBackground, "keep-background", false, "keep reference intensities outside the box instead of zeros")
	f.BoolVar(&opts.labels, "labels", false, "treat the crop as a label volume")
	_ = cmd.MarkFlagRequired("crop")
	_ = cmd.MarkFlagRequired("reference")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runUncrop(cmd *cobra.Command, opts *uncropOptions) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	_, cleanup, err := loadConfig(cmd, cfgFile)
	if err != nil {
		return err
	}
	defer cleanup()
	if opts.coords == "" {
		opts.coords = location.CoordsPath(opts.crop)
	}
	return uncrop(opts)
}

// uncrop reorients the reference like the cropped data, inverse-crops and
// restores the reference orientation.
func uncrop(opts *uncropOptions) error {
	box, err := location.ReadCoords(opts.coords)
	if err != nil {
		return roierr.Configuration("uncrop", "reading coordinates: %v", err)
	}
	pt := models.Float
	if opts.labels {
		pt = models.UnsignedInt
	}
	crop, err := nifti.Read(opts.crop, nifti.ReadOptions{PixelType: pt})
	if err != nil {
		return err
	}
	reference, err := nifti.Read(opts.reference, nifti.ReadOptions{PixelType: pt})
	if err != nil {
		return err
	}
	orig := nifti.Orientation(reference.Affine)
	lpi, err := nifti.Reorient(reference, "LPI")
	if err != nil {
		return err
	}

	full, err := location.InverseCrop(crop, lpi, box, !opts.keepBackground)
	if err != nil {
		return err
	}
	if full, err = nifti.Reorient(full, orig); err != nil {
		return err
	}
	if err := nifti.Write(opts.output, full); err != nil {
		return err
	}
	log.Successf("Wrote %s", opts.output)
	return nil
}
