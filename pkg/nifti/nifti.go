// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz) and reorients them to a named axis convention.
package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"roiloc/internal/models"
)

// ReadOptions control how a file is turned into a Volume.
type ReadOptions struct {
	// PixelType is the sample type of the returned volume. UnsignedInt rounds
	// samples and clamps negatives to zero.
	PixelType models.PixelType

	// Orientation, when not empty, reorients the volume after reading,
	// e.g. "LPI".
	Orientation string
}

// Read loads a volume from path. Gzip compression is detected from the
// content, not the file name.
func Read(path string, opts ReadOptions) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	v, err := Decode(f, opts)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return v, nil
}

// Decode parses a NIfTI-1 stream, gzip-compressed or not.
func Decode(r io.Reader, opts ReadOptions) (*models.Volume, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		src = zr
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return decode(raw, opts)
}

func decode(raw []byte, opts ReadOptions) (*models.Volume, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("file too short for a NIfTI-1 header (%d bytes)", len(raw))
	}
	var order binary.ByteOrder = binary.LittleEndian
	if int32(order.Uint32(raw)) != headerSize {
		order = binary.BigEndian
		if int32(order.Uint32(raw)) != headerSize {
			return nil, fmt.Errorf("not a NIfTI-1 file")
		}
	}
	var h header
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, &h); err != nil {
		return nil, err
	}
	switch string(h.Magic[:3]) {
	case "n+1":
	case "ni1":
		return nil, fmt.Errorf("two-file NIfTI (.hdr/.img) is not supported")
	default:
		return nil, fmt.Errorf("bad NIfTI magic %q", h.Magic[:3])
	}

	nd := int(h.Dim[0])
	if nd < 1 || nd > 7 {
		return nil, fmt.Errorf("invalid dimension count %d", nd)
	}
	shape := models.Shape{1, 1, 1}
	for i := 0; i < nd; i++ {
		n := int(h.Dim[i+1])
		if n < 1 {
			return nil, fmt.Errorf("invalid extent %d on axis %d", n, i)
		}
		if i < 3 {
			shape[i] = n
		} else if n > 1 {
			return nil, fmt.Errorf("volume has %d dimensions, only 3D volumes are supported", nd)
		}
	}

	offset := int(h.VoxOffset)
	if offset < voxOffset {
		offset = voxOffset
	}
	if offset > len(raw) {
		return nil, fmt.Errorf("voxel offset %d past end of file", offset)
	}
	data, err := decodeSamples(raw[offset:], h.Datatype, order, shape.Len())
	if err != nil {
		return nil, err
	}

	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope != 0 && !(slope == 1 && inter == 0) {
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}
	if opts.PixelType == models.UnsignedInt {
		for i, s := range data {
			s = math.Round(s)
			if s < 0 || math.IsNaN(s) {
				s = 0
			}
			data[i] = s
		}
	}

	v := &models.Volume{
		Data:      data,
		Shape:     shape,
		Affine:    h.affine(),
		PixelType: opts.PixelType,
	}
	if opts.Orientation != "" {
		return Reorient(v, opts.Orientation)
	}
	return v, nil
}

// Write saves v to path, gzip-compressed when the name ends in ".gz".
// Float volumes are stored as float32 and label volumes as uint32.
func Write(path string, v *models.Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}
	if err := Encode(w, v); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// Encode writes v as an uncompressed NIfTI-1 stream.
func Encode(w io.Writer, v *models.Volume) error {
	if len(v.Data) != v.Shape.Len() {
		return fmt.Errorf("volume has %d samples for shape %v", len(v.Data), v.Shape)
	}
	dt := DTFloat32
	if v.PixelType == models.UnsignedInt {
		dt = DTUint32
	}
	h, err := newHeader(v, dt, "roiloc")
	if err != nil {
		return err
	}
	body, err := encodeSamples(v.Data, dt)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return err
	}
	// empty extension flag
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	if _, err := bw.Write(body); err != nil {
		return err
	}
	return bw.Flush()
}
