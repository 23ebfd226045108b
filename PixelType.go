package Gorast

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// PixelType 像素类型
type PixelType int

const (
	PT1BB   PixelType = iota // 1位布尔
	PT2BUI                   // 2位无符号整数
	PT4BUI                   // 4位无符号整数
	PT8BSI                   // 8位有符号整数
	PT8BUI                   // 8位无符号整数
	PT16BSI                  // 16位有符号整数
	PT16BUI                  // 16位无符号整数
	PT32BSI                  // 32位有符号整数
	PT32BUI                  // 32位无符号整数
	PT32BF                   // 32位浮点
	PT64BF                   // 64位浮点
)

// pixelCodec 单一像素类型的编解码规则
type pixelCodec struct {
	name   string
	size   int
	min    float64
	max    float64
	isInt  bool
	decode func(b []byte) float64
	encode func(b []byte, v float64) // v 已被裁剪到值域内
}

var pixelCodecs = [...]pixelCodec{
	PT1BB: {name: "1BB", size: 1, min: 0, max: 1, isInt: true,
		decode: decodeUint8, encode: encodeUint8},
	PT2BUI: {name: "2BUI", size: 1, min: 0, max: 3, isInt: true,
		decode: decodeUint8, encode: encodeUint8},
	PT4BUI: {name: "4BUI", size: 1, min: 0, max: 15, isInt: true,
		decode: decodeUint8, encode: encodeUint8},
	PT8BSI: {name: "8BSI", size: 1, min: math.MinInt8, max: math.MaxInt8, isInt: true,
		decode: func(b []byte) float64 { return float64(int8(b[0])) },
		encode: func(b []byte, v float64) { b[0] = byte(int8(v)) }},
	PT8BUI: {name: "8BUI", size: 1, min: 0, max: math.MaxUint8, isInt: true,
		decode: decodeUint8, encode: encodeUint8},
	PT16BSI: {name: "16BSI", size: 2, min: math.MinInt16, max: math.MaxInt16, isInt: true,
		decode: func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) },
		encode: func(b []byte, v float64) { binary.LittleEndian.PutUint16(b, uint16(int16(v))) }},
	PT16BUI: {name: "16BUI", size: 2, min: 0, max: math.MaxUint16, isInt: true,
		decode: func(b []byte) float64 { return float64(binary.LittleEndian.Uint16(b)) },
		encode: func(b []byte, v float64) { binary.LittleEndian.PutUint16(b, uint16(v)) }},
	PT32BSI: {name: "32BSI", size: 4, min: math.MinInt32, max: math.MaxInt32, isInt: true,
		decode: func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) },
		encode: func(b []byte, v float64) { binary.LittleEndian.PutUint32(b, uint32(int32(v))) }},
	PT32BUI: {name: "32BUI", size: 4, min: 0, max: math.MaxUint32, isInt: true,
		decode: func(b []byte) float64 { return float64(binary.LittleEndian.Uint32(b)) },
		encode: func(b []byte, v float64) { binary.LittleEndian.PutUint32(b, uint32(v)) }},
	PT32BF: {name: "32BF", size: 4, min: -math.MaxFloat32, max: math.MaxFloat32,
		decode: func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) },
		encode: func(b []byte, v float64) { binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v))) }},
	PT64BF: {name: "64BF", size: 8, min: -math.MaxFloat64, max: math.MaxFloat64,
		decode: func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) },
		encode: func(b []byte, v float64) { binary.LittleEndian.PutUint64(b, math.Float64bits(v)) }},
}

func decodeUint8(b []byte) float64    { return float64(b[0]) }
func encodeUint8(b []byte, v float64) { b[0] = uint8(v) }

// Valid 是否为已知像素类型
func (pt PixelType) Valid() bool {
	return pt >= PT1BB && pt <= PT64BF
}

func (pt PixelType) codec() *pixelCodec {
	return &pixelCodecs[pt]
}

// String 像素类型名称
func (pt PixelType) String() string {
	if !pt.Valid() {
		return "Unknown"
	}
	return pt.codec().name
}

// Size 每像素字节数（1/2/4位类型按1字节存储）
func (pt PixelType) Size() int {
	if !pt.Valid() {
		return 0
	}
	return pt.codec().size
}

// IsInteger 是否为整数类型
func (pt PixelType) IsInteger() bool {
	return pt.Valid() && pt.codec().isInt
}

// MinValue 像素类型可表示的最小值，常用作未声明NoData时的默认值
func MinValue(pt PixelType) float64 {
	if !pt.Valid() {
		return math.NaN()
	}
	return pt.codec().min
}

// MaxValue 像素类型可表示的最大值
func MaxValue(pt PixelType) float64 {
	if !pt.Valid() {
		return math.NaN()
	}
	return pt.codec().max
}

// ParsePixelType 解析像素类型名称，如 "8BUI"、"32bf"
func ParsePixelType(s string) (PixelType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i := range pixelCodecs {
		if pixelCodecs[i].name == name {
			return PixelType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedPixelType, s)
}

// Clamp 将数值裁剪到像素类型值域内，整数类型向零截断
func (pt PixelType) Clamp(v float64) float64 {
	c := pt.codec()
	if math.IsNaN(v) {
		if c.isInt {
			return 0
		}
		return v
	}
	if pt == PT1BB {
		if v != 0 {
			return 1
		}
		return 0
	}
	if v < c.min {
		v = c.min
	} else if v > c.max {
		v = c.max
	}
	if c.isInt {
		v = math.Trunc(v)
	}
	return v
}

// decodeAt 读取缓冲区中第 idx 个像素
func (pt PixelType) decodeAt(buf []byte, idx int) float64 {
	c := pt.codec()
	off := idx * c.size
	return c.decode(buf[off : off+c.size])
}

// encodeAt 裁剪后写入缓冲区中第 idx 个像素
func (pt PixelType) encodeAt(buf []byte, idx int, v float64) {
	c := pt.codec()
	off := idx * c.size
	c.encode(buf[off:off+c.size], pt.Clamp(v))
}
