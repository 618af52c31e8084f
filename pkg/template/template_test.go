package template

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roiloc/internal/models"
	"roiloc/pkg/nifti"
	"roiloc/pkg/roierr"
)

const labelCSV = `Mindboggle ID,Label Name,RH Label,LH Labels,Notes
1002,caudal anterior cingulate,1,52,
1017,Hippocampus,48,99,
1018,Amygdala,19,70,
`

func encodeVolume(t *testing.T, v *models.Volume, gz bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	if gz {
		zw := gzip.NewWriter(&buf)
		require.NoError(t, nifti.Encode(zw, v))
		require.NoError(t, zw.Close())
	} else {
		require.NoError(t, nifti.Encode(&buf, v))
	}
	return buf.Bytes()
}

func testAssets(t *testing.T) *Assets {
	tmpl := models.NewVolume(models.Shape{3, 3, 3}, nil, models.Float)
	tmpl.Data[4] = 0.5
	atlas := models.NewVolume(models.Shape{3, 3, 3}, nil, models.UnsignedInt)
	atlas.Data[0] = 48

	fsys := fstest.MapFS{}
	fsys[TemplateName("t1", false)] = &fstest.MapFile{Data: encodeVolume(t, tmpl, false)}
	fsys[TemplateName("t2", true)+".gz"] = &fstest.MapFile{Data: encodeVolume(t, tmpl, true)}
	fsys[AtlasName] = &fstest.MapFile{Data: encodeVolume(t, atlas, false)}
	fsys[LabelTableName] = &fstest.MapFile{Data: []byte(labelCSV)}
	return New(NewFSProvider(fsys, "assets"))
}

func TestTemplateName(t *testing.T) {
	assert.Equal(t, "icbm152/mni_icbm152_t1_tal_nlin_sym_09c.nii", TemplateName("t1", false))
	assert.Equal(t, "icbm152/mni_icbm152_t2bet_tal_nlin_sym_09c.nii", TemplateName("t2", true))
}

func TestAssetsLoad(t *testing.T) {
	a := testAssets(t)

	tmpl, err := a.Template("t1", false)
	require.NoError(t, err)
	assert.Equal(t, models.Float, tmpl.PixelType)
	assert.Equal(t, 0.5, tmpl.Data[4])

	// falls back to the gzip asset
	_, err = a.Template("t2", true)
	require.NoError(t, err)

	_, err = a.Template("t2", false)
	assert.ErrorContains(t, err, "assets/icbm152")

	atlas, err := a.Atlas()
	require.NoError(t, err)
	assert.Equal(t, models.UnsignedInt, atlas.PixelType)
	assert.Equal(t, 48.0, atlas.Data[0])
}

func TestUnsupportedContrast(t *testing.T) {
	_, err := testAssets(t).Template("flair", false)
	assert.True(t, errors.Is(err, roierr.ErrConfiguration))
	assert.NoError(t, ValidateContrast("t2"))
}

func TestLabelLookup(t *testing.T) {
	labels, err := testAssets(t).Labels()
	require.NoError(t, err)

	p, err := labels.Lookup("hippocampus")
	require.NoError(t, err)
	assert.Equal(t, LabelPair{Right: 48, Left: 99}, p)

	p, err = labels.Lookup("  CAUDAL   anterior cingulate ")
	require.NoError(t, err)
	assert.Equal(t, LabelPair{Right: 1, Left: 52}, p)

	_, err = labels.Lookup("Hipocampus")
	assert.True(t, errors.Is(err, roierr.ErrConfiguration))
	assert.Contains(t, err.Error(), "Amygdala")

	assert.Equal(t, []string{"Amygdala", "Caudal Anterior Cingulate", "Hippocampus"}, labels.Names())
}

func TestParseLabelTableErrors(t *testing.T) {
	cases := map[string]string{
		"missing column": "Label Name,RH Label\nHippocampus,48\n",
		"bad index":      "Label Name,RH Label,LH Labels\nHippocampus,x,99\n",
		"fraction":       "Label Name,RH Label,LH Labels\nHippocampus,4.5,99\n",
		"empty":          "Label Name,RH Label,LH Labels\n",
		"no header":      "",
	}
	for name, in := range cases {
		_, err := ParseLabelTable(strings.NewReader(in))
		assert.Errorf(t, err, "case %s", name)
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Hippocampus", NormalizeName("hippocampus"))
	assert.Equal(t, "Lateral Ventricle", NormalizeName("LATERAL ventricle"))
}
