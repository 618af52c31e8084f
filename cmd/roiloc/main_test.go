package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"roiloc/internal/log"
	"roiloc/internal/models"
	"roiloc/pkg/location"
	"roiloc/pkg/nifti"
	"roiloc/pkg/roierr"
)

func quiet(t *testing.T) {
	prev := log.SetOutput(&bytes.Buffer{})
	t.Cleanup(func() { log.SetOutput(prev) })
}

func writeCrop(t *testing.T, dir string) (ref *models.Volume, refPath, cropPath string, box location.BoundingBox) {
	t.Helper()
	ref = models.NewVolume(models.Shape{6, 5, 4}, mat.NewDense(4, 4, []float64{
		-1, 0, 0, 5,
		0, -1, 0, 4,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}), models.Float)
	for i := range ref.Data {
		ref.Data[i] = float64(i + 1)
	}
	refPath = filepath.Join(dir, "sub01_T1w.nii.gz")
	require.NoError(t, nifti.Write(refPath, ref))

	lpi, err := nifti.Reorient(ref, "LPI")
	require.NoError(t, err)
	box = location.BoundingBox{1, 1, 1, 4, 3, 3}
	crop, err := location.Crop(lpi, box)
	require.NoError(t, err)
	cropPath = filepath.Join(dir, "sub01_T1w_Hippocampus_right_AffineFast_crop.nii.gz")
	require.NoError(t, nifti.Write(cropPath, crop))
	require.NoError(t, location.WriteCoords(location.CoordsPath(cropPath), box))
	return ref, refPath, cropPath, box
}

func TestUncropKeepBackground(t *testing.T) {
	quiet(t)
	dir := t.TempDir()
	ref, refPath, cropPath, _ := writeCrop(t, dir)
	out := filepath.Join(dir, "restored.nii.gz")

	require.NoError(t, uncrop(&uncropOptions{
		crop:           cropPath,
		reference:      refPath,
		coords:         location.CoordsPath(cropPath),
		output:         out,
		keepBackground: true,
	}))

	got, err := nifti.Read(out, nifti.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "RAI", nifti.Orientation(got.Affine))
	assert.Equal(t, ref.Shape, got.Shape)
	assert.Equal(t, ref.Data, got.Data)
}

func TestUncropZeroFill(t *testing.T) {
	quiet(t)
	dir := t.TempDir()
	_, refPath, cropPath, box := writeCrop(t, dir)
	out := filepath.Join(dir, "restored.nii")

	require.NoError(t, uncrop(&uncropOptions{
		crop:      cropPath,
		reference: refPath,
		coords:    location.CoordsPath(cropPath),
		output:    out,
	}))

	got, err := nifti.Read(out, nifti.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, location.Summarize(got).Nonzero, box.Size().Len())
}

func TestUncropMissingCoords(t *testing.T) {
	quiet(t)
	dir := t.TempDir()
	_, refPath, cropPath, _ := writeCrop(t, dir)

	err := uncrop(&uncropOptions{
		crop:      cropPath,
		reference: refPath,
		coords:    filepath.Join(dir, "none.txt"),
		output:    filepath.Join(dir, "out.nii"),
	})
	assert.ErrorIs(t, err, roierr.ErrConfiguration)
}

func TestConfigInit(t *testing.T) {
	quiet(t)
	path := filepath.Join(t.TempDir(), "roiloc.yaml")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"config", "init", path})
	require.NoError(t, cmd.Execute())
	assert.FileExists(t, path)

	cmd = newRootCmd()
	cmd.SetArgs([]string{"config", "init", path})
	assert.Error(t, cmd.Execute())
}

func TestRootRejectsMissingContrast(t *testing.T) {
	quiet(t)
	t.Setenv("ROILOC_CONTRAST", "")
	dir := t.TempDir()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"-p", dir, "-i", "*.nii.gz", "--assets", dir})
	err := cmd.Execute()
	assert.ErrorIs(t, err, roierr.ErrConfiguration)
}

func TestRootRequiresPath(t *testing.T) {
	quiet(t)
	cmd := newRootCmd()
	cmd.SetArgs([]string{"-c", "t1"})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
