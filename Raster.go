/*
Copyright (C) 2025 [GrainArc]

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package Gorast

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// SRIDUnknown 未知空间参考
const SRIDUnknown = -1

// Raster 栅格，独占其全部波段
type Raster struct {
	width  int
	height int
	gt     GeoTransform
	srid   int
	bands  []*Band
}

// NewRaster 创建无波段栅格
func NewRaster(width, height int, gt GeoTransform, srid int) (*Raster, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("invalid raster size %dx%d", width, height)
	}
	if width > 0 && height > 0 {
		if err := gt.Validate(); err != nil {
			return nil, err
		}
	}
	return &Raster{
		width:  width,
		height: height,
		gt:     gt,
		srid:   srid,
	}, nil
}

// NewEmptyRaster 创建宽高为0的空栅格
func NewEmptyRaster(gt GeoTransform, srid int) *Raster {
	return &Raster{gt: gt, srid: srid}
}

// Width 栅格宽度
func (r *Raster) Width() int { return r.width }

// Height 栅格高度
func (r *Raster) Height() int { return r.height }

// SRID 空间参考ID
func (r *Raster) SRID() int { return r.srid }

// SetSRID 设置空间参考ID
func (r *Raster) SetSRID(srid int) { r.srid = srid }

// GeoTransform 地理变换参数
func (r *Raster) GeoTransform() GeoTransform { return r.gt }

// SetGeoTransform 设置地理变换参数
func (r *Raster) SetGeoTransform(gt GeoTransform) error {
	if !r.IsEmpty() {
		if err := gt.Validate(); err != nil {
			return err
		}
	}
	r.gt = gt
	return nil
}

// IsEmpty 宽或高为0即为空栅格
func (r *Raster) IsEmpty() bool {
	return r == nil || r.width == 0 || r.height == 0
}

// NumBands 波段数量
func (r *Raster) NumBands() int { return len(r.bands) }

// GetBand 按波段号（从1开始）获取波段
func (r *Raster) GetBand(bandNum int) (*Band, error) {
	if bandNum < 1 || bandNum > len(r.bands) {
		return nil, fmt.Errorf("%w: band %d (valid: 1-%d)", ErrInvalidBand, bandNum, len(r.bands))
	}
	return r.bands[bandNum-1], nil
}

// band 按波段号获取，不存在时返回 nil
func (r *Raster) band(bandNum int) *Band {
	if r == nil || bandNum < 1 || bandNum > len(r.bands) {
		return nil
	}
	return r.bands[bandNum-1]
}

// AddBand 追加波段并返回其波段号，波段尺寸必须与栅格一致
func (r *Raster) AddBand(b *Band) (int, error) {
	if b == nil {
		return 0, fmt.Errorf("%w: nil band", ErrInvalidBand)
	}
	if b.width != r.width || b.height != r.height {
		return 0, fmt.Errorf("%w: band size %dx%d does not match raster %dx%d",
			ErrInvalidBand, b.width, b.height, r.width, r.height)
	}
	r.bands = append(r.bands, b)
	return len(r.bands), nil
}

// AddNewBand 创建并追加一个以 initValue 填充的内存波段
func (r *Raster) AddNewBand(pt PixelType, initValue float64, hasNoData bool, noData float64) (int, error) {
	b, err := NewBand(pt, r.width, r.height, hasNoData, noData)
	if err != nil {
		return 0, err
	}
	if err := b.Fill(initValue); err != nil {
		return 0, err
	}
	return r.AddBand(b)
}

// RemoveBand 删除波段
func (r *Raster) RemoveBand(bandNum int) error {
	b, err := r.GetBand(bandNum)
	if err != nil {
		return err
	}
	b.Destroy()
	r.bands = append(r.bands[:bandNum-1], r.bands[bandNum:]...)
	return nil
}

// Header 复制栅格头（尺寸、地理变换、SRID），不含波段
func (r *Raster) Header() *Raster {
	return &Raster{width: r.width, height: r.height, gt: r.gt, srid: r.srid}
}

// Clone 深拷贝栅格及全部波段
func (r *Raster) Clone() *Raster {
	nr := r.Header()
	nr.bands = make([]*Band, len(r.bands))
	for i, b := range r.bands {
		nr.bands[i] = b.Copy()
	}
	return nr
}

// Destroy 释放全部波段缓冲区
func (r *Raster) Destroy() {
	if r == nil {
		return
	}
	for _, b := range r.bands {
		b.Destroy()
	}
	r.bands = nil
}

// Bounds 栅格四角的外包矩形（世界坐标）
func (r *Raster) Bounds() orb.Bound {
	corners := [4][2]int{{0, 0}, {r.width, 0}, {0, r.height}, {r.width, r.height}}
	bound := orb.Bound{
		Min: orb.Point{math.Inf(1), math.Inf(1)},
		Max: orb.Point{math.Inf(-1), math.Inf(-1)},
	}
	for _, c := range corners {
		x, y := r.CellToWorld(float64(c[0]), float64(c[1]))
		bound = bound.Extend(orb.Point{x, y})
	}
	return bound
}

// sameGrid 尺寸与地理变换完全一致
func (r *Raster) sameGrid(o *Raster) bool {
	return r.width == o.width && r.height == o.height && r.gt == o.gt && r.srid == o.srid
}
