package location

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"roiloc/internal/models"
)

// blockMask returns a mask of the given shape with ones in lo..hi inclusive.
func blockMask(shape models.Shape, lo, hi Vec3) *models.Volume {
	m := models.NewVolume(shape, nil, models.UnsignedInt)
	for z := lo[2]; z <= hi[2]; z++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for x := lo[0]; x <= hi[0]; x++ {
				m.Set(x, y, z, 1)
			}
		}
	}
	return m
}

func TestExtractCoordsExample(t *testing.T) {
	mask := blockMask(models.Shape{20, 20, 10}, Vec3{5, 3, 2}, Vec3{9, 12, 2})

	box, err := ExtractCoords(mask, Vec3{2, 2, 1}, Vec3{0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, BoundingBox{3, 1, 1, 11, 14, 3}, box)

	box, err = ExtractCoords(mask, Vec3{2, 2, 1}, Vec3{-10, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 0, box[0], "minX 5-2-10 must clamp to 0")
	assert.Equal(t, 9-10+2, box[3], "maxX is shifted but not clamped")
}

func TestExtractCoordsClampsEachBound(t *testing.T) {
	mask := blockMask(models.Shape{10, 10, 10}, Vec3{1, 4, 7}, Vec3{2, 5, 8})

	box, err := ExtractCoords(mask, Vec3{50, 1, 50}, Vec3{})
	require.NoError(t, err)
	assert.Equal(t, BoundingBox{0, 3, 0, 10, 6, 10}, box)

	// a large margin on x does not change y
	box2, err := ExtractCoords(mask, Vec3{1000, 1, 0}, Vec3{})
	require.NoError(t, err)
	assert.Equal(t, box[1], box2[1])
	assert.Equal(t, box[4], box2[4])
}

func TestExtractCoordsEmptyMask(t *testing.T) {
	mask := models.NewVolume(models.Shape{4, 4, 4}, nil, models.UnsignedInt)
	_, err := ExtractCoords(mask, Vec3{8, 8, 8}, Vec3{})
	assert.True(t, errors.Is(err, ErrEmptyMask))
}

func TestExtractCoordsBadData(t *testing.T) {
	mask := &models.Volume{Data: make([]float64, 3), Shape: models.Shape{2, 2, 2}}
	_, err := ExtractCoords(mask, Vec3{}, Vec3{})
	assert.Error(t, err)
}

// A single block mask: the box contains every foreground voxel and equals the
// raw box widened by the margin and shifted by the offset when nothing clamps.
func TestExtractCoordsProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var shape models.Shape
		var lo, hi, margin, offset Vec3
		for a := 0; a < 3; a++ {
			shape[a] = rapid.IntRange(1, 24).Draw(t, "extent")
			lo[a] = rapid.IntRange(0, shape[a]-1).Draw(t, "lo")
			hi[a] = rapid.IntRange(lo[a], shape[a]-1).Draw(t, "hi")
			margin[a] = rapid.IntRange(0, 12).Draw(t, "margin")
			offset[a] = rapid.IntRange(-12, 12).Draw(t, "offset")
		}
		mask := blockMask(shape, lo, hi)

		raw, err := ExtractCoords(mask, Vec3{}, Vec3{})
		if err != nil {
			t.Fatalf("raw box: %v", err)
		}
		for a := 0; a < 3; a++ {
			if raw[a] != lo[a] || raw[a+3] != hi[a] {
				t.Fatalf("raw box %v is not minimal for block %v..%v", raw, lo, hi)
			}
		}

		box, err := ExtractCoords(mask, margin, offset)
		if err != nil {
			t.Fatalf("box: %v", err)
		}
		for a := 0; a < 3; a++ {
			wantLo := lo[a] + offset[a] - margin[a]
			wantHi := hi[a] + offset[a] + margin[a]
			switch {
			case wantLo < 0 && box[a] != 0:
				t.Fatalf("axis %d: min %d should clamp to 0", a, box[a])
			case wantLo >= 0 && box[a] != wantLo:
				t.Fatalf("axis %d: min %d, want %d", a, box[a], wantLo)
			}
			switch {
			case wantHi > shape[a] && box[a+3] != shape[a]:
				t.Fatalf("axis %d: max %d should clamp to %d", a, box[a+3], shape[a])
			case wantHi <= shape[a] && box[a+3] != wantHi:
				t.Fatalf("axis %d: max %d, want %d", a, box[a+3], wantHi)
			}
			if offset[a] == 0 && (box[a] > lo[a] || box[a+3] < hi[a]) {
				t.Fatalf("axis %d: box %v does not contain block %v..%v", a, box, lo, hi)
			}
		}
	})
}

func TestCoordsSidecar(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, "a_crop.txt"), CoordsPath(filepath.Join(dir, "a_crop.nii.gz")))
	assert.Equal(t, "b.txt", CoordsPath("b.nii"))
	assert.Equal(t, "c.mgz.txt", CoordsPath("c.mgz"))

	path := filepath.Join(dir, "box.txt")
	box := BoundingBox{3, 1, 1, 11, 14, 3}
	require.NoError(t, WriteCoords(path, box))
	got, err := ReadCoords(path)
	require.NoError(t, err)
	assert.Equal(t, box, got)
}

func TestReadCoordsFloatNotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "box.txt")
	content := "3.000000000000000000e+00\n1.000000000000000000e+00\n1.000000000000000000e+00\n" +
		"1.100000000000000000e+01\n1.400000000000000000e+01\n3.000000000000000000e+00\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	got, err := ReadCoords(path)
	require.NoError(t, err)
	assert.Equal(t, BoundingBox{3, 1, 1, 11, 14, 3}, got)
}

func TestReadCoordsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"short":    "1\n2\n3\n",
		"long":     "1 2 3 4 5 6 7\n",
		"fraction": "1 2 3 4 5 6.5\n",
		"text":     "a b c d e f\n",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name+".txt")
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		_, err := ReadCoords(path)
		assert.Errorf(t, err, "case %s", name)
	}
	_, err := ReadCoords(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}
