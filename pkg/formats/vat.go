package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/x448/float16"

	"github.com/Faultbox/midgard-vat/pkg/vat"
)

// VAT (vertex animation texture) container format errors.
var (
	ErrInvalidVATMagic       = errors.New("invalid VAT magic: expected 'GVAT'")
	ErrUnsupportedVATVersion = errors.New("unsupported VAT version")
	ErrUnsupportedVATFormat  = errors.New("unsupported VAT pixel format")
	ErrTruncatedVATData      = errors.New("truncated VAT data")
	ErrTrailingVATData       = errors.New("unexpected data after VAT pixels")
	ErrInvalidVATSize        = errors.New("invalid VAT dimensions")
	ErrVATValueRange         = errors.New("VAT value out of pixel format range")
)

const (
	vatMagic        = "GVAT"
	vatVersionMajor = 1
	vatVersionMinor = 0
)

// VATVersion represents the VAT file version.
type VATVersion struct {
	Major uint8
	Minor uint8
}

// String returns the version as "Major.Minor".
func (v VATVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// vatFixedHeader is the fixed-size part of the header, after the magic.
type vatFixedHeader struct {
	Major     uint8
	Minor     uint8
	Kind      uint8
	Format    uint8
	Width     uint32
	Height    uint32
	FrameRate float32
	Duration  float32
	BoundsMin [3]float32
	BoundsMax [3]float32
}

// VAT is a parsed vertex animation texture file.
type VAT struct {
	Version   VATVersion
	Kind      vat.TextureKind
	Format    vat.PixelFormat
	Width     int
	Height    int
	FrameRate float32
	Duration  float32
	Bounds    vat.Bounds
	Name      string
	Clip      string
	Pix       []float32 // RGBA, row-major, decoded to float32
}

// Texture converts the file into an in-memory texture.
func (v *VAT) Texture() *vat.Texture {
	return &vat.Texture{
		Name:      v.Name,
		Clip:      v.Clip,
		Kind:      v.Kind,
		Format:    v.Format,
		Width:     v.Width,
		Height:    v.Height,
		FrameRate: v.FrameRate,
		Duration:  v.Duration,
		Pix:       v.Pix,
	}
}

// PayloadSize returns the pixel data size in bytes.
func (v *VAT) PayloadSize() int {
	return v.Width * v.Height * vat.Channels * v.Format.BytesPerChannel()
}

// EncodeVAT serializes a texture. Pixels are stored with the texture's
// pixel format; half storage rounds each channel to float16.
func EncodeVAT(tex *vat.Texture) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteVAT(&buf, tex); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteVAT writes a texture to w.
func WriteVAT(w io.Writer, tex *vat.Texture) error {
	if tex == nil {
		return fmt.Errorf("%w: nil texture", ErrInvalidVATSize)
	}
	if tex.Width <= 0 || tex.Height <= 0 || tex.Width*tex.Height > vat.MaxPixels {
		return fmt.Errorf("%w: %dx%d", ErrInvalidVATSize, tex.Width, tex.Height)
	}
	if len(tex.Pix) != tex.Width*tex.Height*vat.Channels {
		return fmt.Errorf("%w: pixel buffer has %d values, want %d", ErrInvalidVATSize, len(tex.Pix), tex.Width*tex.Height*vat.Channels)
	}
	if tex.Format != vat.FormatRGBAHalf && tex.Format != vat.FormatRGBAFloat {
		return fmt.Errorf("%w: %s", ErrUnsupportedVATFormat, tex.Format)
	}
	if len(tex.Name) > math.MaxUint16 || len(tex.Clip) > math.MaxUint16 {
		return fmt.Errorf("texture name too long")
	}

	bounds := tex.Bounds()
	if !tex.Format.Fits(bounds) {
		return fmt.Errorf("%w: %s holds +-%d, bounds are %v to %v", ErrVATValueRange, tex.Format, vat.MaxHalf, bounds.Min, bounds.Max)
	}
	header := vatFixedHeader{
		Major:     vatVersionMajor,
		Minor:     vatVersionMinor,
		Kind:      uint8(tex.Kind),
		Format:    uint8(tex.Format),
		Width:     uint32(tex.Width),
		Height:    uint32(tex.Height),
		FrameRate: tex.FrameRate,
		Duration:  tex.Duration,
		BoundsMin: bounds.Min,
		BoundsMax: bounds.Max,
	}

	if _, err := io.WriteString(w, vatMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := writeString16(w, tex.Name); err != nil {
		return fmt.Errorf("writing name: %w", err)
	}
	if err := writeString16(w, tex.Clip); err != nil {
		return fmt.Errorf("writing clip name: %w", err)
	}

	if tex.Format == vat.FormatRGBAFloat {
		if err := binary.Write(w, binary.LittleEndian, tex.Pix); err != nil {
			return fmt.Errorf("writing pixels: %w", err)
		}
		return nil
	}

	half := make([]uint16, len(tex.Pix))
	for i, v := range tex.Pix {
		half[i] = float16.Fromfloat32(v).Bits()
	}
	if err := binary.Write(w, binary.LittleEndian, half); err != nil {
		return fmt.Errorf("writing pixels: %w", err)
	}
	return nil
}

// ParseVAT parses VAT data from a byte slice.
func ParseVAT(data []byte) (*VAT, error) {
	if len(data) < len(vatMagic) {
		return nil, ErrTruncatedVATData
	}
	if string(data[:len(vatMagic)]) != vatMagic {
		return nil, ErrInvalidVATMagic
	}

	r := bytes.NewReader(data[len(vatMagic):])

	var header vatFixedHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, ErrTruncatedVATData
	}

	v := &VAT{
		Version:   VATVersion{Major: header.Major, Minor: header.Minor},
		Kind:      vat.TextureKind(header.Kind),
		Format:    vat.PixelFormat(header.Format),
		Width:     int(header.Width),
		Height:    int(header.Height),
		FrameRate: header.FrameRate,
		Duration:  header.Duration,
		Bounds:    vat.Bounds{Min: header.BoundsMin, Max: header.BoundsMax},
	}

	if v.Version.Major != vatVersionMajor {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVATVersion, v.Version)
	}
	if v.Format != vat.FormatRGBAHalf && v.Format != vat.FormatRGBAFloat {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVATFormat, header.Format)
	}
	if v.Width == 0 || v.Height == 0 || uint64(header.Width)*uint64(header.Height) > vat.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidVATSize, v.Width, v.Height)
	}

	var err error
	if v.Name, err = readString16(r); err != nil {
		return nil, err
	}
	if v.Clip, err = readString16(r); err != nil {
		return nil, err
	}

	size := v.PayloadSize()
	switch {
	case r.Len() < size:
		return nil, fmt.Errorf("%w: %d pixel bytes, want %d", ErrTruncatedVATData, r.Len(), size)
	case r.Len() > size:
		return nil, fmt.Errorf("%w: %d extra bytes", ErrTrailingVATData, r.Len()-size)
	}

	v.Pix = make([]float32, v.Width*v.Height*vat.Channels)
	if v.Format == vat.FormatRGBAFloat {
		if err := binary.Read(r, binary.LittleEndian, v.Pix); err != nil {
			return nil, ErrTruncatedVATData
		}
		return v, nil
	}

	half := make([]uint16, len(v.Pix))
	if err := binary.Read(r, binary.LittleEndian, half); err != nil {
		return nil, ErrTruncatedVATData
	}
	for i, h := range half {
		v.Pix[i] = float16.Frombits(h).Float32()
	}
	return v, nil
}

// ParseVATFile parses a VAT file from disk.
func ParseVATFile(path string) (*VAT, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading VAT file: %w", err)
	}
	return ParseVAT(data)
}

func writeString16(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString16(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", ErrTruncatedVATData
	}
	if int(n) > r.Len() {
		return "", ErrTruncatedVATData
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", ErrTruncatedVATData
	}
	return string(buf), nil
}
