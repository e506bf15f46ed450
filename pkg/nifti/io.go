package nifti

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"ctroiprep/internal/models"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Read loads a NIfTI-1 volume from path. Gzip compression is detected from
// the stream, not from the file name.
func Read(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open NIfTI file: %w", err)
	}
	defer f.Close()

	vol, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return vol, nil
}

// Decode reads a single-file NIfTI-1 image, optionally gzip-compressed.
// Samples are converted to float64 with scl_slope/scl_inter applied.
func Decode(r io.Reader) (*models.Volume, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	if magic, err := br.Peek(2); err == nil && bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer zr.Close()
		br = bufio.NewReaderSize(zr, 1<<20)
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotNifti, err)
	}
	order, err := byteOrder(raw)
	if err != nil {
		return nil, err
	}

	var h header
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	if err := h.validate(); err != nil {
		return nil, err
	}

	offset := int64(h.VoxOffset)
	if offset < headerSize {
		offset = dataOffset
	}
	if _, err := io.CopyN(io.Discard, br, offset-headerSize); err != nil {
		return nil, fmt.Errorf("failed to skip to voxel data: %w", err)
	}

	vol := models.NewVolume(models.Shape(h.shape()), h.affine())
	if err := readSamples(br, order, h.Datatype, vol.Data); err != nil {
		return nil, fmt.Errorf("failed to read voxel data: %w", err)
	}

	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope != 0 && !math.IsNaN(slope) && (slope != 1 || inter != 0) {
		for i, v := range vol.Data {
			vol.Data[i] = v*slope + inter
		}
	}
	return vol, nil
}

// readSamples decodes len(dst) samples of datatype dt into dst.
func readSamples(r io.Reader, order binary.ByteOrder, dt int16, dst []float64) error {
	size, err := sampleSize(dt)
	if err != nil {
		return err
	}

	const chunk = 1 << 16
	buf := make([]byte, chunk*size)
	for start := 0; start < len(dst); start += chunk {
		n := min(chunk, len(dst)-start)
		b := buf[:n*size]
		if _, err := io.ReadFull(r, b); err != nil {
			return err
		}
		out := dst[start : start+n]
		for i := range out {
			s := b[i*size : (i+1)*size]
			switch dt {
			case DTUint8:
				out[i] = float64(s[0])
			case DTInt8:
				out[i] = float64(int8(s[0]))
			case DTInt16:
				out[i] = float64(int16(order.Uint16(s)))
			case DTUint16:
				out[i] = float64(order.Uint16(s))
			case DTInt32:
				out[i] = float64(int32(order.Uint32(s)))
			case DTUint32:
				out[i] = float64(order.Uint32(s))
			case DTFloat32:
				out[i] = float64(math.Float32frombits(order.Uint32(s)))
			case DTFloat64:
				out[i] = math.Float64frombits(order.Uint64(s))
			}
		}
	}
	return nil
}

// Write saves vol to path as little-endian float32 NIfTI-1 with the volume's
// affine stored as both sform and qform. A name ending in ".gz" is
// gzip-compressed.
func Write(path string, vol *models.Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create NIfTI file: %w", err)
	}

	if strings.HasSuffix(path, ".gz") {
		err = EncodeGzip(f, vol)
	} else {
		err = Encode(f, vol)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// EncodeGzip writes vol as a gzip-compressed float32 NIfTI-1 image.
func EncodeGzip(w io.Writer, vol *models.Volume) error {
	zw := gzip.NewWriter(w)
	if err := Encode(zw, vol); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Encode writes vol as an uncompressed float32 NIfTI-1 image.
func Encode(w io.Writer, vol *models.Volume) error {
	if !vol.Shape.Valid() || len(vol.Data) != vol.Shape.Len() {
		return fmt.Errorf("invalid volume: shape %s with %d samples", vol.Shape, len(vol.Data))
	}
	for axis, n := range vol.Shape {
		if n > math.MaxInt16 {
			return fmt.Errorf("%w: extent %d along axis %d", ErrUnsupported, n, axis)
		}
	}

	h := header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Dim:       [8]int16{3, int16(vol.Shape[0]), int16(vol.Shape[1]), int16(vol.Shape[2]), 1, 1, 1, 1},
		Datatype:  DTFloat32,
		Bitpix:    32,
		Pixdim:    [8]float32{1, 1, 1, 1, 1, 1, 1, 1},
		VoxOffset: dataOffset,
		SclSlope:  1,
		XYZTUnits: 2, // millimetres
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	copy(h.Descrip[:], "ctroiprep")
	h.setAffine(vol.Affine)

	bw := bufio.NewWriterSize(w, 1<<20)
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	// Empty extension block.
	if _, err := bw.Write(make([]byte, dataOffset-headerSize)); err != nil {
		return err
	}

	var sample [4]byte
	for _, v := range vol.Data {
		binary.LittleEndian.PutUint32(sample[:], math.Float32bits(float32(v)))
		if _, err := bw.Write(sample[:]); err != nil {
			return fmt.Errorf("failed to write voxel data: %w", err)
		}
	}
	return bw.Flush()
}
