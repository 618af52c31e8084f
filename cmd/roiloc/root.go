package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"roiloc/internal/log"
	"roiloc/pkg/config"
	"roiloc/pkg/locator"
	"roiloc/pkg/pipeline"
	"roiloc/pkg/registration"
	"roiloc/pkg/template"
)

type rootOptions struct {
	cfgFile      string
	path         string
	inputPattern string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "roiloc",
		Short: "Locate and crop brain ROIs in MRI images",
		Long: `roiloc registers the MNI ICBM152 template to every image matching a pattern,
propagates the CerebrA atlas and crops a bounding box around each hemisphere
of the requested regions.`,
		Example: `  roiloc -p ~/data/ -i "**/*T1w.nii.gz" -r hippocampus -r amygdala -c t1 -b -t AffineFast -m 16,2,16`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, opts)
		},
	}

	def := config.DefaultConfig()
	f := cmd.Flags()
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "YAML configuration file")
	cmd.PersistentFlags().String("log-file", "", "also write log messages to this file")
	cmd.PersistentFlags().Bool("verbose", false, "print debug messages")

	f.StringVarP(&opts.path, "path", "p", "", "root path in which images are searched")
	f.StringVarP(&opts.inputPattern, "inputpattern", "i", "", `pattern of the images to process, e.g. "**/*T1w.nii.gz"`)
	f.StringSliceP("roi", "r", def.Roi, "CerebrA region to extract (repeatable)")
	f.StringP("contrast", "c", "", "contrast of the input images (t1 or t2)")
	f.BoolP("bet", "b", false, "use the skull-stripped template")
	f.StringP("transform", "t", def.Transform, fmt.Sprintf("registration transform %v", registration.TransformKinds()))
	f.IntSliceP("margin", "m", def.Margin, "margin around the ROI, in voxels per axis")
	f.IntSlice("rightoffset", def.RightOffset, "offset of the right box, in voxels per axis")
	f.IntSlice("leftoffset", def.LeftOffset, "offset of the left box, in voxels per axis")
	f.String("mask", "", "pattern of a brain mask next to each image, restricting registration")
	f.StringSlice("extracrops", nil, "pattern of other images next to each image to crop the same way (repeatable)")
	f.Bool("savesteps", false, "save intermediate files")
	f.Bool("preview", false, "write PNG previews of the crops")
	f.String("assets", def.Assets, "directory holding the MNI templates and the CerebrA atlas (env ROILOC_ASSETS)")
	f.Int("threads", def.Threads, "threads used by the registration toolkit")
	_ = cmd.MarkFlagRequired("path")
	_ = cmd.MarkFlagRequired("inputpattern")

	cmd.AddCommand(newUncropCmd(), newConfigCmd())
	return cmd
}

// loadConfig resolves the configuration of cmd and starts logging.
// The returned function closes the log file.
func loadConfig(cmd *cobra.Command, cfgFile string) (*config.Config, func(), error) {
	v, err := config.NewViper(cmd.Flags(), cfgFile)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Verbose {
		log.SetMode(log.DebugMode)
	}
	cleanup := cfg.Log.SetLogger()
	if used := v.ConfigFileUsed(); used != "" {
		log.Debugf("Using configuration %s", used)
	}
	return cfg, cleanup, nil
}

func runRoot(cmd *cobra.Command, opts *rootOptions) error {
	cfg, cleanup, err := loadConfig(cmd, opts.cfgFile)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := cfg.Validate(); err != nil {
		return err
	}

	params := &pipeline.Params{
		Path:         opts.path,
		InputPattern: opts.inputPattern,
		Rois:         cfg.Roi,
		Contrast:     cfg.Contrast,
		Bet:          cfg.Bet,
		Locator: locator.Config{
			Transform:   cfg.TransformKind(),
			Margin:      cfg.MarginVec(),
			RightOffset: cfg.RightOffsetVec(),
			LeftOffset:  cfg.LeftOffsetVec(),
		},
		Mask:       cfg.Mask,
		ExtraCrops: cfg.ExtraCrops,
		SaveSteps:  cfg.SaveSteps,
		Preview:    cfg.Preview,
		Assets:     template.NewDirProvider(cfg.Assets),
		Threads:    cfg.Threads,
	}
	if params.Locator.Transform == registration.Identity {
		params.Registrar = registration.IdentityRegistrar{}
		params.Resampler = registration.GridResampler{}
	}

	log.Stepf("ROILoc %s: %v in %s", version, cfg.Roi, opts.path)
	_, err = pipeline.NewRunner(params).Process(cmd.Context())
	return err
}
