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
)

// IteratorInput 迭代器的一个输入：栅格、波段号（从1开始）以及缺失像素是否按NoData处理
type IteratorInput struct {
	Raster              *Raster
	BandNum             int
	TreatAbsentAsNoData bool
}

// IterateOptions 迭代输出选项
type IterateOptions struct {
	Extent    ExtentType
	Custom    *Raster // 仅 ExtentCustom 使用
	PixelType PixelType
	HasNoData bool
	NoData    float64
}

// PixelValue 某输入在当前输出像素处的状态
//
// Absent 表示该输入在此处没有覆盖（超出范围或没有该波段）且未要求按NoData处理；
// 此时 NoData 同样为 true。X、Y 为源像素坐标，从1开始。
type PixelValue struct {
	Value  float64
	NoData bool
	Absent bool
	X      int
	Y      int
}

// Valid 是否为有效值（既非NoData也非缺失）
func (p PixelValue) Valid() bool {
	return !p.NoData && !p.Absent
}

// PixelWindow 回调上下文，整个迭代过程复用同一个实例
type PixelWindow struct {
	X      int // 输出像素列，从1开始
	Y      int // 输出像素行，从1开始
	Inputs []PixelValue
}

// PixelFunc 逐像素回调，返回输出值以及是否为NoData
type PixelFunc func(w *PixelWindow) (value float64, isNoData bool, err error)

// iterSource 单个输入在迭代中的只读视图
type iterSource struct {
	band           *Band
	off            PixelOffset
	width, height  int
	absentAsNoData bool
	absentValue    float64
}

// Iterate 对多个对齐的栅格逐像素迭代，调用 fn 计算输出，返回只有一个波段的新栅格。
// 输出范围为空时返回不含波段的空栅格。fn 返回错误时整个操作失败，不返回部分结果。
func (e *Engine) Iterate(inputs []IteratorInput, opts IterateOptions, fn PixelFunc) (*Raster, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no iterator inputs", ErrInvalidBand)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: nil pixel function", ErrCallbackFailure)
	}
	if !opts.PixelType.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPixelType, int(opts.PixelType))
	}

	rasters := make([]*Raster, len(inputs))
	for i, in := range inputs {
		if in.Raster == nil {
			return nil, fmt.Errorf("%w: input %d has nil raster", ErrInvalidBand, i+1)
		}
		rasters[i] = in.Raster
	}

	ext, err := e.Reconcile(rasters, opts.Extent, opts.Custom)
	if err != nil {
		return nil, err
	}
	out := ext.Header
	if out.IsEmpty() {
		e.logger.Debug("输出范围为空，直接返回空栅格", "extent", opts.Extent, "inputs", len(inputs))
		return out, nil
	}

	fill := MinValue(opts.PixelType)
	if opts.HasNoData {
		fill = opts.NoData
	}
	band, err := e.newBand(opts.PixelType, out.width, out.height, opts.HasNoData, opts.NoData)
	if err != nil {
		return nil, err
	}
	if err := band.Fill(fill); err != nil {
		return nil, err
	}
	out.bands = []*Band{band}

	sources := make([]iterSource, len(inputs))
	allNoData := true
	for i, in := range inputs {
		b := in.Raster.band(in.BandNum)
		s := iterSource{
			band:           b,
			off:            ext.Offsets[i],
			width:          in.Raster.width,
			height:         in.Raster.height,
			absentAsNoData: in.TreatAbsentAsNoData,
		}
		if b != nil && b.hasNoData {
			s.absentValue = b.noData
		}
		sources[i] = s
		if !in.TreatAbsentAsNoData || (b != nil && !b.IsWholeBandNoData()) {
			allNoData = false
		}
	}
	if allNoData {
		e.logger.Debug("所有输入均为整波段NoData，跳过逐像素计算",
			"width", out.width, "height", out.height)
		return out, nil
	}

	e.logger.Debug("开始逐像素迭代", "inputs", len(inputs), "extent", opts.Extent,
		"width", out.width, "height", out.height, "pixtype", opts.PixelType)

	window := &PixelWindow{Inputs: make([]PixelValue, len(sources))}
	for y := 0; y < out.height; y++ {
		for x := 0; x < out.width; x++ {
			window.X, window.Y = x+1, y+1
			for i := range sources {
				s := &sources[i]
				pv := &window.Inputs[i]
				sx, sy := x-s.off.DX, y-s.off.DY
				pv.X, pv.Y = sx+1, sy+1
				if s.band == nil || sx < 0 || sy < 0 || sx >= s.width || sy >= s.height {
					pv.Value = s.absentValue
					pv.NoData = true
					pv.Absent = !s.absentAsNoData
					continue
				}
				v, isNoData, err := s.band.GetPixel(sx, sy)
				if err != nil {
					out.Destroy()
					return nil, fmt.Errorf("failed to read input %d at (%d,%d): %w", i+1, sx, sy, err)
				}
				pv.Value, pv.NoData, pv.Absent = v, isNoData, false
			}

			v, isNoData, err := fn(window)
			if err != nil {
				out.Destroy()
				return nil, fmt.Errorf("%w at pixel (%d,%d): %w", ErrCallbackFailure, x+1, y+1, err)
			}
			if !isNoData {
				band.setIndex(y*out.width+x, v)
			}
		}
	}
	return out, nil
}
