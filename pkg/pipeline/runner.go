// Package pipeline runs ROI extraction over a directory of subjects.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"roiloc/internal/files"
	"roiloc/internal/log"
	"roiloc/internal/models"
	"roiloc/pkg/location"
	"roiloc/pkg/locator"
	"roiloc/pkg/nifti"
	"roiloc/pkg/preview"
	"roiloc/pkg/registration"
	"roiloc/pkg/roierr"
	"roiloc/pkg/template"
)

// Orientation every subject image is read in.
const Orientation = "LPI"

// PreviewDir is the directory, next to each subject, receiving previews.
const PreviewDir = "roiloc_previews"

// Params holds the batch parameters.
type Params struct {
	// Path is the root directory searched for subject images.
	Path string

	// InputPattern selects the subject images under Path. It may contain
	// "**" to match nested directories.
	InputPattern string

	// Rois are CerebrA region names, e.g. "Hippocampus".
	Rois []string

	// Contrast ("t1" or "t2") and Bet select the MNI template.
	Contrast string
	Bet      bool

	// Locator settings shared by every ROI.
	Locator locator.Config

	// Mask is a pattern, relative to each subject's directory, of a brain
	// mask restricting registration. Empty disables masking.
	Mask string

	// ExtraCrops are patterns, relative to each subject's directory, of
	// other images on the subject grid cropped with the same boxes.
	ExtraCrops []string

	// SaveSteps keeps the intermediate files next to each subject.
	SaveSteps bool

	// Preview writes mid-slice PNG images of every crop.
	Preview bool

	// Assets provides the template, the atlas and the label table.
	Assets template.Provider

	// Registrar and Resampler default to the ANTs adapters.
	Registrar registration.Registrar
	Resampler registration.Resampler

	// Threads is handed to the ANTs adapters.
	Threads int
}

// Failure records a subject that could not be processed.
type Failure struct {
	Path string
	Err  error
}

// Summary counts what a run did.
type Summary struct {
	Subjects  int
	Processed int
	Failures  []Failure
	Crops     int
	Empty     int
	Bytes     int64
	Elapsed   time.Duration
}

// Failed is the number of subjects that could not be processed.
func (s *Summary) Failed() int { return len(s.Failures) }

func (s *Summary) String() string {
	return fmt.Sprintf("%d/%d subjects processed, %d failed, %d crops written (%s), %d empty crops skipped in %s",
		s.Processed, s.Subjects, s.Failed(), s.Crops, humanize.Bytes(uint64(s.Bytes)), s.Empty, s.Elapsed.Round(time.Millisecond))
}

func (s *Summary) add(res *location.CropResult) {
	if res.Empty {
		s.Empty++
		return
	}
	s.Crops++
	s.Bytes += res.Bytes
}

// roi is a resolved region.
type roi struct {
	name   string
	labels template.LabelPair
}

// Runner handles a batch run.
//
// A run consists of:
// 1. Loading the template, the atlas and the label table once
// 2. Finding the subject images
// 3. For every subject: registering the atlas, then locating and cropping
// every ROI in the image and the extra files
type Runner struct {
	params *Params
	deps   locator.Deps
	rois   []roi
}

// NewRunner creates a runner with the provided parameters. Nothing is loaded
// until Process.
func NewRunner(params *Params) *Runner {
	return &Runner{params: params}
}

// Process runs the batch. Configuration errors abort before any subject is
// processed; a failing subject is reported and the next one is processed.
func (r *Runner) Process(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	log.Stepf("Step 1: Loading template and atlas...")
	if err := r.load(); err != nil {
		return summary, err
	}

	log.Stepf("Step 2: Looking for images...")
	images, err := files.Glob(r.params.Path, r.params.InputPattern)
	if err != nil {
		return summary, roierr.Configuration("input", "pattern %q: %v", r.params.InputPattern, err)
	}
	if len(images) == 0 {
		log.Warningf("no image found in %s matching %s", r.params.Path, r.params.InputPattern)
		summary.Elapsed = time.Since(start)
		return summary, nil
	}
	summary.Subjects = len(images)
	log.Infof("Found %d images", len(images))

	log.Stepf("Step 3: Processing subjects...")
	for i, path := range images {
		if err := ctx.Err(); err != nil {
			summary.Elapsed = time.Since(start)
			return summary, err
		}
		log.Stepf("[%d/%d] %s", i+1, len(images), path)
		if err := r.processSubject(ctx, path, summary); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				summary.Elapsed = time.Since(start)
				return summary, err
			}
			log.Errorf("%s: %v", path, err)
			summary.Failures = append(summary.Failures, Failure{Path: path, Err: err})
			continue
		}
		summary.Processed++
	}

	summary.Elapsed = time.Since(start)
	log.Successf("Done: %s", summary)
	return summary, nil
}

// load validates the parameters and reads the shared reference data.
func (r *Runner) load() error {
	p := r.params
	if p.Assets == nil {
		return roierr.Configuration("assets", "no asset provider")
	}
	if len(p.Rois) == 0 {
		return roierr.Configuration("roi", "no ROI given")
	}
	if err := template.ValidateContrast(p.Contrast); err != nil {
		return err
	}

	assets := template.New(p.Assets)
	table, err := assets.Labels()
	if err != nil {
		return roierr.Configuration("assets", "%v", err)
	}
	r.rois = r.rois[:0]
	for _, name := range p.Rois {
		pair, err := table.Lookup(name)
		if err != nil {
			return err
		}
		r.rois = append(r.rois, roi{name: template.NormalizeName(name), labels: pair})
	}

	tmpl, err := assets.Template(p.Contrast, p.Bet)
	if err != nil {
		return roierr.Configuration("assets", "%v", err)
	}
	atlas, err := assets.Atlas()
	if err != nil {
		return roierr.Configuration("assets", "%v", err)
	}
	log.Debugf("Template %s, atlas %s", p.Assets.Locate(template.TemplateName(p.Contrast, p.Bet)), p.Assets.Locate(template.AtlasName))

	r.deps = locator.Deps{
		Registrar: p.Registrar,
		Resampler: p.Resampler,
		Template:  tmpl,
		Atlas:     atlas,
	}
	if r.deps.Registrar == nil {
		r.deps.Registrar = registration.NewAntsRegistrar(p.Threads)
	}
	if r.deps.Resampler == nil {
		r.deps.Resampler = registration.NewAntsResampler(p.Threads)
	}
	return nil
}

// extraFile is an extra image cropped with the subject boxes.
type extraFile struct {
	path   string
	volume *models.Volume
}

func (r *Runner) processSubject(ctx context.Context, path string, summary *Summary) error {
	dir, stem := filepath.Dir(path), files.Stem(path)

	image, err := nifti.Read(path, nifti.ReadOptions{PixelType: models.Float, Orientation: Orientation})
	if err != nil {
		return err
	}

	var save locator.Intermediates
	if r.params.SaveSteps {
		save = locator.Intermediates{Dir: dir, Stem: stem}
	}

	mask, _, err := registration.ResolveMask(dir, r.params.Mask, Orientation)
	if err != nil {
		return err
	}
	atlas, err := locator.RegisterAtlas(ctx, r.deps, image, r.params.Locator.Transform, mask, save)
	if err != nil {
		return err
	}

	extras, err := r.loadExtras(dir, path)
	if err != nil {
		return err
	}

	for _, roi := range r.rois {
		log.Infof("\tLocating %s...", roi.name)
		loc, err := locator.New(roi.name, roi.labels, r.deps, r.params.Locator)
		if err != nil {
			return err
		}
		if err := loc.FitAtlas(image, atlas, save); err != nil {
			return err
		}
		for _, side := range locator.Sides {
			box, _ := loc.Box(side)
			log.Infof("\t%s %s: %v", roi.name, side, box)
		}

		results, err := loc.TransformToFiles(image, dir, stem)
		if err != nil {
			return err
		}
		r.record(loc, results, summary)

		for _, extra := range extras {
			results, err := loc.TransformToFiles(extra.volume, dir, files.Stem(extra.path))
			if err != nil {
				log.Warningf("skipping extra file %s: %v", extra.path, err)
				continue
			}
			r.record(loc, results, summary)
		}
	}
	return nil
}

func (r *Runner) loadExtras(dir, subject string) ([]extraFile, error) {
	var extras []extraFile
	for _, pattern := range r.params.ExtraCrops {
		matches, err := files.Glob(dir, pattern)
		if err != nil {
			return nil, roierr.Configuration("extracrops", "pattern %q: %v", pattern, err)
		}
		if len(matches) == 0 {
			log.Warningf("no extra file matching %s in %s", pattern, dir)
		}
		for _, m := range matches {
			if m == subject {
				continue
			}
			v, err := nifti.Read(m, nifti.ReadOptions{PixelType: models.Float, Orientation: Orientation})
			if err != nil {
				return nil, fmt.Errorf("extra file: %w", err)
			}
			extras = append(extras, extraFile{path: m, volume: v})
		}
	}
	return extras, nil
}

func (r *Runner) record(loc *locator.Locator, results map[locator.Side]*location.CropResult, summary *Summary) {
	for _, side := range locator.Sides {
		res := results[side]
		summary.add(res)
		if res.Empty || !r.params.Preview {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(res.Path), ".nii.gz")
		dir := filepath.Join(filepath.Dir(res.Path), PreviewDir)
		if _, err := preview.NewViewer(res.Volume).SaveMidSlices(dir, name); err != nil {
			log.Warningf("Failed to save preview of %s: %v", res.Path, err)
		}
	}
	log.Debugf("Locator %s done", loc.ID())
}
