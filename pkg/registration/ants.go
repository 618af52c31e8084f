package registration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"roiloc/internal/log"
	"roiloc/internal/models"
	"roiloc/pkg/nifti"
)

// CommandRunner executes an external program.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, env []string) ([]byte, error)
}

// ExecRunner runs commands with os/exec. Extra environment entries are
// appended to the current environment.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", name, err, tail(out, 20))
	}
	return out, nil
}

// tail keeps the last n lines of command output for error messages.
func tail(out []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// stage is one antsRegistration optimization level.
type stage struct {
	transform  string
	metric     string
	iterations string
	shrink     string
	smoothing  string
}

var (
	linearMetric = "MI[%s,%s,1,32,Regular,0.2]"
	synMetric    = "MI[%s,%s,1,32]"

	rigidStage  = stage{"Rigid[0.25]", linearMetric, "2100x1200x1200x0", "6x4x2x1", "3x2x1x0vox"}
	affineStage = stage{"Affine[0.25]", linearMetric, "2100x1200x1200x100", "6x4x2x1", "3x2x1x0vox"}
	synStage    = stage{"SyN[0.2,3,0]", synMetric, "40x20x0", "4x2x1", "2x1x0vox"}
)

// antsStages holds the recipe of every file-based transform kind.
var antsStages = map[TransformKind][]stage{
	Translation: {{"Translation[0.25]", linearMetric, "2100x1200x1200x0", "6x4x2x1", "3x2x1x0vox"}},
	Rigid:       {rigidStage},
	QuickRigid:  {{"Rigid[0.25]", linearMetric, "20x20x0x0", "6x4x2x1", "3x2x1x0vox"}},
	Similarity:  {{"Similarity[0.25]", linearMetric, "2100x1200x1200x0", "6x4x2x1", "3x2x1x0vox"}},
	Affine:      {affineStage},
	AffineFast:  {{"Affine[0.25]", linearMetric, "2100x1200x0x0", "6x4x2x1", "3x2x1x0vox"}},
	SyN:         {affineStage, synStage},
	SyNRA:       {rigidStage, affineStage, synStage},
	SyNOnly:     {synStage},
	SyNQuick: {
		{"Affine[0.25]", linearMetric, "2100x1200x0x0", "6x4x2x1", "3x2x1x0vox"},
		{"SyN[0.2,3,0]", synMetric, "20x10x0", "4x2x1", "2x1x0vox"},
	},
}

// AntsRegistrar runs antsRegistration.
type AntsRegistrar struct {
	Runner CommandRunner

	// Binary defaults to "antsRegistration" found on PATH.
	Binary string

	// Threads sets ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS when positive.
	Threads int
}

// NewAntsRegistrar returns a registrar using the tools on PATH.
func NewAntsRegistrar(threads int) *AntsRegistrar {
	return &AntsRegistrar{Runner: ExecRunner{}, Threads: threads}
}

func threadEnv(threads int) []string {
	if threads <= 0 {
		return nil
	}
	return []string{"ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS=" + strconv.Itoa(threads)}
}

// Args builds the antsRegistration command line for the given files.
func (r *AntsRegistrar) Args(kind TransformKind, fixed, moving, mask, prefix string) ([]string, error) {
	stages, ok := antsStages[kind]
	if !ok {
		return nil, fmt.Errorf("transform type %s is not supported by antsRegistration", kind)
	}
	args := []string{
		"--dimensionality", "3",
		"--float", "1",
		"--output", fmt.Sprintf("[%s,%sWarped.nii.gz]", prefix, prefix),
		"--interpolation", "Linear",
		"--winsorize-image-intensities", "[0.005,0.995]",
		"--use-histogram-matching", "0",
		"--initial-moving-transform", fmt.Sprintf("[%s,%s,1]", fixed, moving),
	}
	for _, s := range stages {
		args = append(args,
			"--transform", s.transform,
			"--metric", fmt.Sprintf(s.metric, fixed, moving),
			"--convergence", fmt.Sprintf("[%s,1e-6,10]", s.iterations),
			"--shrink-factors", s.shrink,
			"--smoothing-sigmas", s.smoothing,
		)
	}
	if mask != "" {
		args = append(args, "--masks", fmt.Sprintf("[%s,NULL]", mask))
	}
	return args, nil
}

// Register writes the inputs to scratch, runs antsRegistration and collects
// the produced transforms. They live in scratch; see Result.Persist.
func (r *AntsRegistrar) Register(ctx context.Context, fixed, moving *models.Volume, kind TransformKind, mask *models.Volume, scratch string) (*Result, error) {
	fixedPath := filepath.Join(scratch, "fixed.nii.gz")
	movingPath := filepath.Join(scratch, "moving.nii.gz")
	if err := nifti.Write(fixedPath, fixed); err != nil {
		return nil, err
	}
	if err := nifti.Write(movingPath, moving); err != nil {
		return nil, err
	}
	maskPath := ""
	if mask != nil {
		maskPath = filepath.Join(scratch, "mask.nii.gz")
		if err := nifti.Write(maskPath, mask); err != nil {
			return nil, err
		}
	}

	prefix := filepath.Join(scratch, "reg_")
	args, err := r.Args(kind, fixedPath, movingPath, maskPath, prefix)
	if err != nil {
		return nil, err
	}
	binary := r.Binary
	if binary == "" {
		binary = "antsRegistration"
	}
	log.Debugf("Running %s %s", binary, strings.Join(args, " "))
	if _, err := r.Runner.Run(ctx, binary, args, threadEnv(r.Threads)); err != nil {
		return nil, err
	}

	affine := prefix + "0GenericAffine.mat"
	res := &Result{Kind: kind}
	outputs := []string{affine}
	if kind.Deformable() {
		warp, invWarp := prefix+"1Warp.nii.gz", prefix+"1InverseWarp.nii.gz"
		outputs = append(outputs, warp, invWarp)
		res.Forward = []Transform{{Path: warp}, {Path: affine}}
		res.Inverse = []Transform{{Path: affine, Invert: true}, {Path: invWarp}}
	} else {
		res.Forward = []Transform{{Path: affine}}
		res.Inverse = []Transform{{Path: affine, Invert: true}}
	}
	for _, p := range outputs {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("antsRegistration did not produce %s", filepath.Base(p))
		}
	}
	return res, nil
}

// AntsResampler runs antsApplyTransforms.
type AntsResampler struct {
	Runner CommandRunner

	// Binary defaults to "antsApplyTransforms" found on PATH.
	Binary string

	Threads int
}

// NewAntsResampler returns a resampler using the tools on PATH.
func NewAntsResampler(threads int) *AntsResampler {
	return &AntsResampler{Runner: ExecRunner{}, Threads: threads}
}

// Args builds the antsApplyTransforms command line.
func (r *AntsResampler) Args(fixed, moving, output string, transforms []Transform, interp Interpolation) ([]string, error) {
	args := []string{
		"--dimensionality", "3",
		"--input", moving,
		"--reference-image", fixed,
		"--output", output,
		"--interpolation", string(interp),
	}
	for _, t := range transforms {
		if t.Path == "" {
			return nil, fmt.Errorf("antsApplyTransforms needs file transforms, got an in-memory matrix")
		}
		if t.Invert {
			args = append(args, "--transform", fmt.Sprintf("[%s,1]", t.Path))
		} else {
			args = append(args, "--transform", t.Path)
		}
	}
	return args, nil
}

// Resample writes fixed and moving to scratch, runs antsApplyTransforms and
// reads the result back with the pixel type of moving.
func (r *AntsResampler) Resample(ctx context.Context, fixed, moving *models.Volume, transforms []Transform, interp Interpolation, scratch string) (*models.Volume, error) {
	fixedPath := filepath.Join(scratch, "reference.nii.gz")
	movingPath := filepath.Join(scratch, "input.nii.gz")
	outPath := filepath.Join(scratch, "resampled.nii.gz")
	args, err := r.Args(fixedPath, movingPath, outPath, transforms, interp)
	if err != nil {
		return nil, err
	}
	if err := nifti.Write(fixedPath, fixed); err != nil {
		return nil, err
	}
	if err := nifti.Write(movingPath, moving); err != nil {
		return nil, err
	}
	binary := r.Binary
	if binary == "" {
		binary = "antsApplyTransforms"
	}
	log.Debugf("Running %s %s", binary, strings.Join(args, " "))
	out, err := r.Runner.Run(ctx, binary, args, threadEnv(r.Threads))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(out)) > 0 {
		log.Debugf("%s", out)
	}
	v, err := nifti.Read(outPath, nifti.ReadOptions{PixelType: moving.PixelType})
	if err != nil {
		return nil, err
	}
	if v.Shape != fixed.Shape {
		return nil, fmt.Errorf("antsApplyTransforms returned shape %v, want %v", v.Shape, fixed.Shape)
	}
	// keep the exact fixed affine rather than its float32 copy
	v.Affine = mat.DenseCopyOf(fixed.Affine)
	return v, nil
}
