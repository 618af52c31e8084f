package nifti

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"roiloc/internal/models"
)

const (
	headerSize = 348
	voxOffset  = 352
)

// NIfTI-1 datatype codes.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
	DTInt64   int16 = 1024
	DTUint64  int16 = 1280
)

// header mirrors the 348-byte NIfTI-1 header field by field.
type header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// bytesPerVoxel returns the on-disk size of one sample for a datatype code.
func bytesPerVoxel(dt int16) (int, error) {
	switch dt {
	case DTUint8, DTInt8:
		return 1, nil
	case DTInt16, DTUint16:
		return 2, nil
	case DTInt32, DTUint32, DTFloat32:
		return 4, nil
	case DTFloat64, DTInt64, DTUint64:
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported NIfTI datatype %d", dt)
}

// decodeSamples converts raw voxel bytes into float64 samples.
func decodeSamples(raw []byte, dt int16, order binary.ByteOrder, n int) ([]float64, error) {
	size, err := bytesPerVoxel(dt)
	if err != nil {
		return nil, err
	}
	if len(raw) < n*size {
		return nil, fmt.Errorf("truncated voxel data: have %d bytes, need %d", len(raw), n*size)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := raw[i*size : (i+1)*size]
		switch dt {
		case DTUint8:
			out[i] = float64(b[0])
		case DTInt8:
			out[i] = float64(int8(b[0]))
		case DTInt16:
			out[i] = float64(int16(order.Uint16(b)))
		case DTUint16:
			out[i] = float64(order.Uint16(b))
		case DTInt32:
			out[i] = float64(int32(order.Uint32(b)))
		case DTUint32:
			out[i] = float64(order.Uint32(b))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case DTFloat64:
			out[i] = math.Float64frombits(order.Uint64(b))
		case DTInt64:
			out[i] = float64(int64(order.Uint64(b)))
		case DTUint64:
			out[i] = float64(order.Uint64(b))
		}
	}
	return out, nil
}

// encodeSamples writes samples as float32 or uint32, little endian.
func encodeSamples(data []float64, dt int16) ([]byte, error) {
	switch dt {
	case DTFloat32:
		buf := make([]byte, 4*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
		}
		return buf, nil
	case DTUint32:
		buf := make([]byte, 4*len(data))
		for i, v := range data {
			if v < 0 {
				v = 0
			}
			binary.LittleEndian.PutUint32(buf[4*i:], uint32(math.Round(v)))
		}
		return buf, nil
	}
	return nil, fmt.Errorf("cannot encode datatype %d", dt)
}

// affine returns the voxel-to-world matrix, preferring the sform, then the
// qform, then plain pixdim scaling.
func (h *header) affine() *mat.Dense {
	if h.SformCode > 0 {
		return mat.NewDense(4, 4, []float64{
			float64(h.SrowX[0]), float64(h.SrowX[1]), float64(h.SrowX[2]), float64(h.SrowX[3]),
			float64(h.SrowY[0]), float64(h.SrowY[1]), float64(h.SrowY[2]), float64(h.SrowY[3]),
			float64(h.SrowZ[0]), float64(h.SrowZ[1]), float64(h.SrowZ[2]), float64(h.SrowZ[3]),
			0, 0, 0, 1,
		})
	}
	dx, dy, dz := float64(h.Pixdim[1]), float64(h.Pixdim[2]), float64(h.Pixdim[3])
	for _, d := range []*float64{&dx, &dy, &dz} {
		if *d == 0 {
			*d = 1
		}
	}
	if h.QformCode <= 0 {
		return mat.NewDense(4, 4, []float64{
			dx, 0, 0, 0,
			0, dy, 0, 0,
			0, 0, dz, 0,
			0, 0, 0, 1,
		})
	}
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		a = 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*a, c*a, d*a
		a = 0
	} else {
		a = math.Sqrt(a)
	}
	qfac := float64(h.Pixdim[0])
	if qfac == 0 {
		qfac = 1
	}
	dz *= qfac
	return mat.NewDense(4, 4, []float64{
		(a*a + b*b - c*c - d*d) * dx, 2 * (b*c - a*d) * dy, 2 * (b*d + a*c) * dz, float64(h.QoffsetX),
		2 * (b*c + a*d) * dx, (a*a + c*c - b*b - d*d) * dy, 2 * (c*d - a*b) * dz, float64(h.QoffsetY),
		2 * (b*d - a*c) * dx, 2 * (c*d + a*b) * dy, (a*a + d*d - c*c - b*b) * dz, float64(h.QoffsetZ),
		0, 0, 0, 1,
	})
}

// setAffine fills sform, qform and pixdim from a voxel-to-world matrix.
func (h *header) setAffine(aff *mat.Dense) {
	for j := 0; j < 4; j++ {
		h.SrowX[j] = float32(aff.At(0, j))
		h.SrowY[j] = float32(aff.At(1, j))
		h.SrowZ[j] = float32(aff.At(2, j))
	}
	h.SformCode = 2
	h.QformCode = 2

	var r [3][3]float64
	var sp [3]float64
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			sp[j] += aff.At(i, j) * aff.At(i, j)
		}
		sp[j] = math.Sqrt(sp[j])
		if sp[j] == 0 {
			sp[j] = 1
		}
		for i := 0; i < 3; i++ {
			r[i][j] = aff.At(i, j) / sp[j]
		}
	}
	qfac := 1.0
	det := r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
	if det < 0 {
		qfac = -1
		for i := 0; i < 3; i++ {
			r[i][2] = -r[i][2]
		}
	}
	_, b, c, d := quaternion(r)
	h.QuaternB, h.QuaternC, h.QuaternD = float32(b), float32(c), float32(d)
	h.QoffsetX = float32(aff.At(0, 3))
	h.QoffsetY = float32(aff.At(1, 3))
	h.QoffsetZ = float32(aff.At(2, 3))
	h.Pixdim[0] = float32(qfac)
	h.Pixdim[1], h.Pixdim[2], h.Pixdim[3] = float32(sp[0]), float32(sp[1]), float32(sp[2])
}

// quaternion converts a proper rotation matrix to a unit quaternion with a >= 0.
func quaternion(r [3][3]float64) (a, b, c, d float64) {
	a = r[0][0] + r[1][1] + r[2][2] + 1
	if a > 0.5 {
		a = 0.5 * math.Sqrt(a)
		b = 0.25 * (r[2][1] - r[1][2]) / a
		c = 0.25 * (r[0][2] - r[2][0]) / a
		d = 0.25 * (r[1][0] - r[0][1]) / a
	} else {
		xd := 1 + r[0][0] - (r[1][1] + r[2][2])
		yd := 1 + r[1][1] - (r[0][0] + r[2][2])
		zd := 1 + r[2][2] - (r[0][0] + r[1][1])
		switch {
		case xd > 1:
			b = 0.5 * math.Sqrt(xd)
			c = 0.25 * (r[0][1] + r[1][0]) / b
			d = 0.25 * (r[0][2] + r[2][0]) / b
			a = 0.25 * (r[2][1] - r[1][2]) / b
		case yd > 1:
			c = 0.5 * math.Sqrt(yd)
			b = 0.25 * (r[0][1] + r[1][0]) / c
			d = 0.25 * (r[1][2] + r[2][1]) / c
			a = 0.25 * (r[0][2] - r[2][0]) / c
		default:
			d = 0.5 * math.Sqrt(zd)
			b = 0.25 * (r[0][2] + r[2][0]) / d
			c = 0.25 * (r[1][2] + r[2][1]) / d
			a = 0.25 * (r[1][0] - r[0][1]) / d
		}
		if a < 0 {
			a, b, c, d = -a, -b, -c, -d
		}
	}
	return a, b, c, d
}

// newHeader builds a header for a volume written with the given datatype.
func newHeader(v *models.Volume, dt int16, descrip string) (*header, error) {
	size, err := bytesPerVoxel(dt)
	if err != nil {
		return nil, err
	}
	h := &header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  dt,
		Bitpix:    int16(8 * size),
		VoxOffset: voxOffset,
		SclSlope:  1,
		XyztUnits: 2 | 8, // mm, seconds
	}
	h.Dim[0] = 3
	for i := 0; i < 3; i++ {
		if v.Shape[i] > math.MaxInt16 {
			return nil, fmt.Errorf("axis %d extent %d too large for NIfTI-1", i, v.Shape[i])
		}
		h.Dim[i+1] = int16(v.Shape[i])
	}
	for i := 4; i < 8; i++ {
		h.Dim[i] = 1
		h.Pixdim[i] = 1
	}
	h.setAffine(v.Affine)
	copy(h.Descrip[:], strings.TrimSpace(descrip))
	copy(h.Magic[:], "n+1\x00")
	return h, nil
}
