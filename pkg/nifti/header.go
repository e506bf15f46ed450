// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and .nii.gz).
//
// Only what the preprocessing pipeline needs is supported: 3D scalar images
// (4D with a single time point is accepted), the common integer and float
// datatypes, intensity scaling, and the sform/qform/pixdim affine cascade.
package nifti

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"ctroiprep/pkg/geometry"
)

const (
	headerSize = 348
	dataOffset = 352
)

// Datatype codes from the NIfTI-1 standard.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
)

var (
	// ErrNotNifti means the header size field or magic string is wrong.
	ErrNotNifti = errors.New("not a NIfTI-1 file")

	// ErrUnsupported means the file is valid NIfTI-1 but uses a feature
	// this package does not read.
	ErrUnsupported = errors.New("unsupported NIfTI-1 feature")
)

// header is the on-disk NIfTI-1 header. Field order and sizes follow the
// standard exactly so it can be decoded with encoding/binary.
type header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
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
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QOffsetX      float32
	QOffsetY      float32
	QOffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// byteOrder detects the file's endianness from the sizeof_hdr field.
func byteOrder(raw []byte) (binary.ByteOrder, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: short header", ErrNotNifti)
	}
	switch {
	case binary.LittleEndian.Uint32(raw) == headerSize:
		return binary.LittleEndian, nil
	case binary.BigEndian.Uint32(raw) == headerSize:
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("%w: sizeof_hdr is not %d", ErrNotNifti, headerSize)
	}
}

func (h *header) validate() error {
	if string(h.Magic[:3]) != "n+1" {
		return fmt.Errorf("%w: magic %q (only single-file .nii is read)", ErrNotNifti, h.Magic[:3])
	}
	nd := int(h.Dim[0])
	if nd < 1 || nd > 7 {
		return fmt.Errorf("%w: dim[0] = %d", ErrNotNifti, nd)
	}
	if nd < 3 {
		return fmt.Errorf("%w: %d-dimensional image", ErrUnsupported, nd)
	}
	for d := 4; d <= nd; d++ {
		if h.Dim[d] > 1 {
			return fmt.Errorf("%w: extent %d along dimension %d", ErrUnsupported, h.Dim[d], d)
		}
	}
	for d := 1; d <= 3; d++ {
		if h.Dim[d] < 1 {
			return fmt.Errorf("%w: dim[%d] = %d", ErrNotNifti, d, h.Dim[d])
		}
	}
	if _, err := sampleSize(h.Datatype); err != nil {
		return err
	}
	return nil
}

func (h *header) shape() [3]int {
	return [3]int{int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])}
}

// affine applies the standard precedence: sform when its code is set, then
// the qform quaternion, then bare pixdim scaling.
func (h *header) affine() geometry.Affine {
	switch {
	case h.SformCode > 0:
		a := geometry.Identity()
		for c := 0; c < 4; c++ {
			a[0][c] = float64(h.SrowX[c])
			a[1][c] = float64(h.SrowY[c])
			a[2][c] = float64(h.SrowZ[c])
		}
		return a
	case h.QformCode > 0:
		return h.qformAffine()
	default:
		return geometry.Scale(pixdim(h.Pixdim[1]), pixdim(h.Pixdim[2]), pixdim(h.Pixdim[3]))
	}
}

func (h *header) qformAffine() geometry.Affine {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// b, c, d describe a 180 degree rotation; renormalize them.
		n := math.Sqrt(b*b + c*c + d*d)
		b, c, d, a = b/n, c/n, d/n, 0
	} else {
		a = math.Sqrt(a)
	}
	q := quat.Number{Real: a, Imag: b, Jmag: c, Kmag: d}

	qfac := 1.0
	if h.Pixdim[0] < 0 {
		qfac = -1
	}
	scale := [3]float64{pixdim(h.Pixdim[1]), pixdim(h.Pixdim[2]), qfac * pixdim(h.Pixdim[3])}

	out := geometry.Identity()
	for axis := 0; axis < 3; axis++ {
		col := rotate(q, geometry.AxisVec(axis, scale[axis]))
		out[0][axis], out[1][axis], out[2][axis] = col.X, col.Y, col.Z
	}
	out[0][3] = float64(h.QOffsetX)
	out[1][3] = float64(h.QOffsetY)
	out[2][3] = float64(h.QOffsetZ)
	return out
}

// setAffine stores a as both the sform and the qform of the header.
func (h *header) setAffine(a geometry.Affine) {
	h.SformCode = 1
	h.QformCode = 1
	for c := 0; c < 4; c++ {
		h.SrowX[c] = float32(a[0][c])
		h.SrowY[c] = float32(a[1][c])
		h.SrowZ[c] = float32(a[2][c])
	}

	size := a.VoxelSize()
	h.Pixdim[1], h.Pixdim[2], h.Pixdim[3] = float32(size.X), float32(size.Y), float32(size.Z)

	// Normalized rotation; a left-handed frame is stored with qfac = -1.
	var r [3][3]float64
	dims := [3]float64{size.X, size.Y, size.Z}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			if dims[col] != 0 {
				r[row][col] = a[row][col] / dims[col]
			}
		}
	}
	h.Pixdim[0] = 1
	if det3(r) < 0 {
		h.Pixdim[0] = -1
		for row := 0; row < 3; row++ {
			r[row][2] = -r[row][2]
		}
	}

	q := quaternion(r)
	h.QuaternB, h.QuaternC, h.QuaternD = float32(q.Imag), float32(q.Jmag), float32(q.Kmag)
	h.QOffsetX, h.QOffsetY, h.QOffsetZ = float32(a[0][3]), float32(a[1][3]), float32(a[2][3])
}

// rotate applies the unit quaternion q to v.
func rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vec{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// quaternion converts a proper rotation matrix into a unit quaternion with a
// non-negative real part.
func quaternion(r [3][3]float64) quat.Number {
	var a, b, c, d float64
	trace := r[0][0] + r[1][1] + r[2][2] + 1
	if trace > 0.5 {
		a = 0.5 * math.Sqrt(trace)
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
	}
	q := quat.Number{Real: a, Imag: b, Jmag: c, Kmag: d}
	if a < 0 {
		q = quat.Scale(-1, q)
	}
	if n := quat.Abs(q); n > 0 {
		q = quat.Scale(1/n, q)
	}
	return q
}

func det3(r [3][3]float64) float64 {
	return r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
}

// pixdim treats a missing spacing as 1 mm.
func pixdim(v float32) float64 {
	if v <= 0 || math.IsNaN(float64(v)) {
		return 1
	}
	return float64(v)
}

// sampleSize returns the on-disk size in bytes of one sample of datatype dt.
func sampleSize(dt int16) (int, error) {
	switch dt {
	case DTUint8, DTInt8:
		return 1, nil
	case DTInt16, DTUint16:
		return 2, nil
	case DTInt32, DTUint32, DTFloat32:
		return 4, nil
	case DTFloat64:
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: datatype %d", ErrUnsupported, dt)
	}
}
