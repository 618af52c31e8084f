package preview

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roiloc/internal/models"
)

// gradient returns a volume whose samples grow with x.
func gradient(shape models.Shape) *models.Volume {
	v := models.NewVolume(shape, nil, models.Float)
	for z := 0; z < shape[2]; z++ {
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[0]; x++ {
				v.Set(x, y, z, float64(x+1))
			}
		}
	}
	return v
}

func TestExtractSliceDimensions(t *testing.T) {
	v := NewViewer(gradient(models.Shape{8, 6, 4}))

	tests := []struct {
		axis string
		w, h int
	}{
		{"x", 6, 4},
		{"Y", 8, 4},
		{"z", 8, 6},
	}
	for _, tt := range tests {
		img, err := v.ExtractSlice(tt.axis, 1)
		require.NoError(t, err, tt.axis)
		assert.Equal(t, image.Rect(0, 0, tt.w, tt.h), img.Bounds(), tt.axis)
	}
}

func TestExtractSliceErrors(t *testing.T) {
	v := NewViewer(gradient(models.Shape{8, 6, 4}))

	_, err := v.ExtractSlice("x", -1)
	assert.Error(t, err)
	_, err = v.ExtractSlice("z", 4)
	assert.Error(t, err)
	_, err = v.ExtractSlice("w", 0)
	assert.Error(t, err)
}

func TestWindowing(t *testing.T) {
	v := NewViewer(gradient(models.Shape{8, 6, 4}))
	img, err := v.ExtractSlice("z", 0)
	require.NoError(t, err)

	g := img.(*image.Gray16)
	assert.Equal(t, uint16(0), g.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(65535), g.Gray16At(7, 0).Y)
	assert.Less(t, g.Gray16At(2, 0).Y, g.Gray16At(5, 0).Y)
}

func TestWindowConstantAndEmpty(t *testing.T) {
	lo, hi := window([]float64{0, 0, 0})
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 1.0, hi)

	lo, hi = window([]float64{0, 3, 3})
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 3.0, hi)
}

func TestSaveMidSlices(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "previews")
	v := NewViewer(gradient(models.Shape{8, 6, 4}))

	paths, err := v.SaveMidSlices(dir, "sub01_crop")
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "sub01_crop_x.png"), paths[0])

	f, err := os.Open(paths[2])
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
}
