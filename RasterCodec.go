package Gorast

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// WKB栅格格式常量
const (
	wkbRasterVersion = 0

	bandFlagExternal = 0x80
	bandFlagNoData   = 0x40
	bandFlagIsNoData = 0x20
	bandFlagTypeMask = 0x0F

	wkbRasterHeaderSize = 1 + 2 + 2 + 6*8 + 4 + 2 + 2
)

// Serialize 将栅格编码为WKB栅格格式（小端序）。外部波段只写入引用。
func Serialize(r *Raster) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil raster", ErrInvalidEncoding)
	}
	if r.width > math.MaxUint16 || r.height > math.MaxUint16 {
		return nil, fmt.Errorf("%w: raster size %dx%d exceeds %d", ErrInvalidEncoding, r.width, r.height, math.MaxUint16)
	}
	if len(r.bands) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: too many bands (%d)", ErrInvalidEncoding, len(r.bands))
	}

	size := wkbRasterHeaderSize
	for _, b := range r.bands {
		size += 1 + b.pixType.Size()
		if b.external != nil {
			size += 1 + len(b.external.Path) + 1
		} else {
			size += len(b.data)
		}
	}

	le := binary.LittleEndian
	buf := make([]byte, 0, size)
	buf = append(buf, 1)
	buf = le.AppendUint16(buf, wkbRasterVersion)
	buf = le.AppendUint16(buf, uint16(len(r.bands)))
	for _, v := range []float64{r.gt.ScaleX, r.gt.ScaleY, r.gt.OriginX, r.gt.OriginY, r.gt.SkewX, r.gt.SkewY} {
		buf = le.AppendUint64(buf, math.Float64bits(v))
	}
	buf = le.AppendUint32(buf, uint32(int32(r.srid)))
	buf = le.AppendUint16(buf, uint16(r.width))
	buf = le.AppendUint16(buf, uint16(r.height))

	for i, b := range r.bands {
		flags := byte(b.pixType)
		if b.hasNoData {
			flags |= bandFlagNoData
		}
		if b.IsWholeBandNoData() {
			flags |= bandFlagIsNoData
		}
		if b.external != nil {
			flags |= bandFlagExternal
		}
		buf = append(buf, flags)

		nd := make([]byte, b.pixType.Size())
		b.pixType.encodeAt(nd, 0, b.noData)
		buf = append(buf, nd...)

		if b.external != nil {
			if b.external.BandNum < 0 || b.external.BandNum > math.MaxInt8 {
				return nil, fmt.Errorf("%w: band %d external band number %d out of range",
					ErrInvalidEncoding, i+1, b.external.BandNum)
			}
			if strings.IndexByte(b.external.Path, 0) >= 0 {
				return nil, fmt.Errorf("%w: band %d external path contains NUL", ErrInvalidEncoding, i+1)
			}
			buf = append(buf, byte(b.external.BandNum))
			buf = append(buf, b.external.Path...)
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, b.data...)
	}
	return buf, nil
}

// SerializeHex 编码为大写十六进制WKB字符串
func SerializeHex(r *Raster) (string, error) {
	b, err := Serialize(r)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// wkbReader 带边界检查的顺序读取器
type wkbReader struct {
	buf   []byte
	off   int
	order binary.ByteOrder
}

func (rd *wkbReader) take(n int, what string) ([]byte, error) {
	if n < 0 || len(rd.buf)-rd.off < n {
		return nil, fmt.Errorf("%w: truncated %s at offset %d", ErrInvalidEncoding, what, rd.off)
	}
	b := rd.buf[rd.off : rd.off+n]
	rd.off += n
	return b, nil
}

func (rd *wkbReader) u8(what string) (byte, error) {
	b, err := rd.take(1, what)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (rd *wkbReader) u16(what string) (uint16, error) {
	b, err := rd.take(2, what)
	if err != nil {
		return 0, err
	}
	return rd.order.Uint16(b), nil
}

func (rd *wkbReader) u32(what string) (uint32, error) {
	b, err := rd.take(4, what)
	if err != nil {
		return 0, err
	}
	return rd.order.Uint32(b), nil
}

func (rd *wkbReader) f64(what string) (float64, error) {
	b, err := rd.take(8, what)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(rd.order.Uint64(b)), nil
}

// pixels 读取 n 个像素并转为内部小端布局
func (rd *wkbReader) pixels(pt PixelType, n int, what string) ([]byte, error) {
	size := pt.Size()
	src, err := rd.take(n*size, what)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(src))
	copy(out, src)
	if rd.order == binary.BigEndian && size > 1 {
		for off := 0; off < len(out); off += size {
			px := out[off : off+size]
			for i, j := 0, size-1; i < j; i, j = i+1, j-1 {
				px[i], px[j] = px[j], px[i]
			}
		}
	}
	return out, nil
}

// Deserialize 解码WKB栅格，支持大端与小端
func Deserialize(data []byte) (*Raster, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidEncoding)
	}
	rd := &wkbReader{buf: data, off: 1}
	switch data[0] {
	case 0:
		rd.order = binary.BigEndian
	case 1:
		rd.order = binary.LittleEndian
	default:
		return nil, fmt.Errorf("%w: invalid endian flag %d", ErrInvalidEncoding, data[0])
	}

	version, err := rd.u16("version")
	if err != nil {
		return nil, err
	}
	if version != wkbRasterVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidEncoding, version)
	}
	nbands, err := rd.u16("band count")
	if err != nil {
		return nil, err
	}

	var vals [6]float64
	names := [6]string{"scaleX", "scaleY", "originX", "originY", "skewX", "skewY"}
	for i := range vals {
		if vals[i], err = rd.f64(names[i]); err != nil {
			return nil, err
		}
	}
	srid, err := rd.u32("srid")
	if err != nil {
		return nil, err
	}
	width, err := rd.u16("width")
	if err != nil {
		return nil, err
	}
	height, err := rd.u16("height")
	if err != nil {
		return nil, err
	}

	r := &Raster{
		width:  int(width),
		height: int(height),
		gt: GeoTransform{
			ScaleX:  vals[0],
			ScaleY:  vals[1],
			OriginX: vals[2],
			OriginY: vals[3],
			SkewX:   vals[4],
			SkewY:   vals[5],
		},
		srid: int(int32(srid)),
	}
	if !r.IsEmpty() {
		if err := r.gt.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
		}
	}

	npix := r.width * r.height
	for i := 0; i < int(nbands); i++ {
		what := fmt.Sprintf("band %d", i+1)
		flags, err := rd.u8(what + " flags")
		if err != nil {
			return nil, err
		}
		pt := PixelType(flags & bandFlagTypeMask)
		if !pt.Valid() {
			return nil, fmt.Errorf("%w: %s has unknown pixel type %d", ErrInvalidEncoding, what, int(pt))
		}
		nd, err := rd.pixels(pt, 1, what+" nodata")
		if err != nil {
			return nil, err
		}

		b := &Band{pixType: pt, width: r.width, height: r.height}
		if flags&bandFlagNoData != 0 {
			b.hasNoData = true
			b.noData = pt.decodeAt(nd, 0)
		}

		if flags&bandFlagExternal != 0 {
			num, err := rd.u8(what + " external band number")
			if err != nil {
				return nil, err
			}
			rest := rd.buf[rd.off:]
			end := bytes.IndexByte(rest, 0)
			if end < 0 {
				return nil, fmt.Errorf("%w: %s external path is not terminated", ErrInvalidEncoding, what)
			}
			b.external = &ExternalRef{BandNum: int(int8(num)), Path: string(rest[:end])}
			rd.off += end + 1
		} else {
			if b.data, err = rd.pixels(pt, npix, what+" pixels"); err != nil {
				return nil, err
			}
		}
		if flags&bandFlagIsNoData != 0 && b.hasNoData {
			b.isNoData = true
		}
		r.bands = append(r.bands, b)
	}

	if rd.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidEncoding, len(data)-rd.off)
	}
	return r, nil
}

// DeserializeHex 解码十六进制WKB栅格
func DeserializeHex(s string) (*Raster, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}
	return Deserialize(b)
}
