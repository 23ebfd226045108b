// RasterBand.go
package Gorast

import (
	"fmt"
	"math"
)

// ExternalRef 外部波段引用（文件中的波段号与路径），由外部协作者解码
type ExternalRef struct {
	BandNum int // 外部文件中的波段号，从0开始
	Path    string
}

// ExternalBandReader 外部波段像素读取器
type ExternalBandReader interface {
	ReadPixel(ref ExternalRef, pt PixelType, col, row int) (float64, error)
}

// Band 栅格波段
type Band struct {
	pixType   PixelType
	width     int
	height    int
	hasNoData bool
	noData    float64
	isNoData  bool // 整个波段均为NoData的缓存标记，仅为优化提示

	data      []byte // 内存波段独占的像素缓冲区
	external  *ExternalRef
	reader    ExternalBandReader
	destroyed bool
}

// BandInfo 波段信息
type BandInfo struct {
	PixelType   PixelType
	Width       int
	Height      int
	NoDataValue float64
	HasNoData   bool
	IsNoData    bool
	External    bool
	Path        string
}

// NewBand 创建内存波段，像素初始为0
func NewBand(pt PixelType, width, height int, hasNoData bool, noData float64) (*Band, error) {
	if !pt.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPixelType, int(pt))
	}
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("invalid band size %dx%d", width, height)
	}
	b := &Band{
		pixType: pt,
		width:   width,
		height:  height,
		data:    make([]byte, width*height*pt.Size()),
	}
	if hasNoData {
		b.SetNoData(noData, false)
	}
	return b, nil
}

// NewExternalBand 创建外部波段，像素读取委托给 reader
func NewExternalBand(pt PixelType, width, height int, ref ExternalRef, reader ExternalBandReader) (*Band, error) {
	if !pt.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPixelType, int(pt))
	}
	return &Band{
		pixType:  pt,
		width:    width,
		height:   height,
		external: &ref,
		reader:   reader,
	}, nil
}

// PixelType 波段像素类型
func (b *Band) PixelType() PixelType { return b.pixType }

// Width 波段宽度
func (b *Band) Width() int { return b.width }

// Height 波段高度
func (b *Band) Height() int { return b.height }

// IsExternal 是否为外部波段
func (b *Band) IsExternal() bool { return b.external != nil }

// ExternalRef 外部波段引用，内存波段返回 nil
func (b *Band) ExternalRef() *ExternalRef {
	if b.external == nil {
		return nil
	}
	ref := *b.external
	return &ref
}

// SetExternalReader 为外部波段设置读取器
func (b *Band) SetExternalReader(r ExternalBandReader) {
	b.reader = r
}

// Info 获取波段信息
func (b *Band) Info() BandInfo {
	info := BandInfo{
		PixelType:   b.pixType,
		Width:       b.width,
		Height:      b.height,
		NoDataValue: b.noData,
		HasNoData:   b.hasNoData,
		IsNoData:    b.isNoData,
		External:    b.external != nil,
	}
	if b.external != nil {
		info.Path = b.external.Path
	}
	return info
}

// ==================== NoData ====================

// HasNoData 是否声明了NoData
func (b *Band) HasNoData() bool { return b.hasNoData }

// GetNoData 获取NoData值，未声明时返回错误
func (b *Band) GetNoData() (float64, error) {
	if !b.hasNoData {
		return 0, fmt.Errorf("%w: band has no nodata value", ErrInvalidBand)
	}
	return b.noData, nil
}

// SetNoData 设置NoData值（按像素类型裁剪），recheck 为 true 时重新扫描波段刷新整波段NoData标记
func (b *Band) SetNoData(value float64, recheck bool) {
	b.noData = b.pixType.roundTrip(value)
	b.hasNoData = true
	b.isNoData = false
	if recheck {
		b.CheckWholeBandNoData()
	}
}

// ClearNoData 删除NoData声明
func (b *Band) ClearNoData() {
	b.hasNoData = false
	b.noData = 0
	b.isNoData = false
}

// IsWholeBandNoData 返回缓存的整波段NoData标记，不扫描像素
func (b *Band) IsWholeBandNoData() bool {
	return b.hasNoData && b.isNoData
}

// SetWholeBandNoData 直接设置整波段NoData标记，未声明NoData时不允许置为 true
func (b *Band) SetWholeBandNoData(flag bool) error {
	if flag && !b.hasNoData {
		return fmt.Errorf("%w: cannot flag band without nodata as nodata", ErrInvalidBand)
	}
	b.isNoData = flag
	return nil
}

// CheckWholeBandNoData 扫描全部像素并刷新整波段NoData标记
func (b *Band) CheckWholeBandNoData() bool {
	if !b.hasNoData {
		b.isNoData = false
		return false
	}
	n := b.width * b.height
	if b.external != nil {
		b.isNoData = false
		for i := 0; i < n; i++ {
			v, err := b.readExternal(i%b.width, i/b.width)
			if err != nil || !b.equalsNoData(v) {
				return false
			}
		}
		b.isNoData = true
		return true
	}
	for i := 0; i < n; i++ {
		if !b.equalsNoData(b.pixType.decodeAt(b.data, i)) {
			b.isNoData = false
			return false
		}
	}
	b.isNoData = true
	return true
}

func (b *Band) equalsNoData(v float64) bool {
	if !b.hasNoData {
		return false
	}
	if math.IsNaN(b.noData) {
		return math.IsNaN(v)
	}
	return v == b.noData
}

// ==================== 像素读写 ====================

func (b *Band) checkBounds(col, row int) error {
	if b.destroyed {
		return fmt.Errorf("%w: band has been destroyed", ErrInvalidBand)
	}
	if col < 0 || row < 0 || col >= b.width || row >= b.height {
		return fmt.Errorf("%w: (%d,%d) outside %dx%d", ErrPixelOutOfRange, col, row, b.width, b.height)
	}
	return nil
}

// GetPixel 读取像素值（列、行从0开始），返回值与是否为NoData
func (b *Band) GetPixel(col, row int) (float64, bool, error) {
	if err := b.checkBounds(col, row); err != nil {
		return 0, false, err
	}
	if b.hasNoData && b.isNoData {
		return b.noData, true, nil
	}
	var v float64
	if b.external != nil {
		ev, err := b.readExternal(col, row)
		if err != nil {
			return 0, false, err
		}
		v = ev
	} else {
		v = b.pixType.decodeAt(b.data, row*b.width+col)
	}
	return v, b.equalsNoData(v), nil
}

func (b *Band) readExternal(col, row int) (float64, error) {
	if b.reader == nil {
		return 0, fmt.Errorf("%w: %s band %d", ErrNoExternalReader, b.external.Path, b.external.BandNum)
	}
	v, err := b.reader.ReadPixel(*b.external, b.pixType, col, row)
	if err != nil {
		return 0, fmt.Errorf("failed to read external band %s: %w", b.external.Path, err)
	}
	return b.pixType.roundTrip(v), nil
}

// SetPixel 写入像素值，超出像素类型值域时裁剪到边界
func (b *Band) SetPixel(col, row int, value float64) error {
	if err := b.checkBounds(col, row); err != nil {
		return err
	}
	if b.external != nil {
		return fmt.Errorf("%w: external band is read-only", ErrInvalidBand)
	}
	b.setIndex(row*b.width+col, value)
	return nil
}

// setIndex 按线性下标写入，调用方保证下标有效
func (b *Band) setIndex(idx int, value float64) {
	b.pixType.encodeAt(b.data, idx, value)
	if b.isNoData && !b.equalsNoData(b.pixType.decodeAt(b.data, idx)) {
		b.isNoData = false
	}
}

// Fill 用同一个值填充整个波段
func (b *Band) Fill(value float64) error {
	if b.external != nil {
		return fmt.Errorf("%w: external band is read-only", ErrInvalidBand)
	}
	n := b.width * b.height
	if n == 0 {
		return nil
	}
	size := b.pixType.Size()
	b.pixType.encodeAt(b.data, 0, value)
	for off := size; off < len(b.data); off *= 2 {
		copy(b.data[off:], b.data[:off])
	}
	b.isNoData = b.hasNoData && b.equalsNoData(b.pixType.decodeAt(b.data, 0))
	return nil
}

// Copy 深拷贝波段
func (b *Band) Copy() *Band {
	nb := *b
	if b.data != nil {
		nb.data = make([]byte, len(b.data))
		copy(nb.data, b.data)
	}
	if b.external != nil {
		ref := *b.external
		nb.external = &ref
	}
	return &nb
}

// Destroy 释放波段持有的缓冲区，之后的像素读写返回 ErrInvalidBand
func (b *Band) Destroy() {
	b.data = nil
	b.external = nil
	b.reader = nil
	b.width, b.height = 0, 0
	b.destroyed = true
}

// roundTrip 按像素类型编码后再解码，得到该类型实际能存储的值
func (pt PixelType) roundTrip(v float64) float64 {
	var buf [8]byte
	pt.encodeAt(buf[:], 0, v)
	return pt.decodeAt(buf[:], 0)
}
