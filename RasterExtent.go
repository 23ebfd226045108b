package Gorast

import (
	"fmt"
	"strings"
)

// ExtentType 多栅格运算输出范围的确定方式
type ExtentType int

const (
	ExtentFirst ExtentType = iota
	ExtentSecond
	ExtentLast
	ExtentUnion
	ExtentIntersection
	ExtentCustom
)

func (et ExtentType) String() string {
	switch et {
	case ExtentFirst:
		return "FIRST"
	case ExtentSecond:
		return "SECOND"
	case ExtentLast:
		return "LAST"
	case ExtentUnion:
		return "UNION"
	case ExtentIntersection:
		return "INTERSECTION"
	case ExtentCustom:
		return "CUSTOM"
	default:
		return "Unknown"
	}
}

// ParseExtentType 解析范围类型名称（不区分大小写）
func ParseExtentType(s string) (ExtentType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FIRST":
		return ExtentFirst, nil
	case "SECOND":
		return ExtentSecond, nil
	case "LAST":
		return ExtentLast, nil
	case "UNION":
		return ExtentUnion, nil
	case "INTERSECTION":
		return ExtentIntersection, nil
	case "CUSTOM":
		return ExtentCustom, nil
	}
	return 0, fmt.Errorf("%w: unknown extent type %q", ErrInvalidExtent, s)
}

// PixelOffset 输出像素 (x,y) 对应输入像素 (x-DX, y-DY)
type PixelOffset struct {
	DX int
	DY int
}

// ExtentResult 范围协调结果
type ExtentResult struct {
	Header  *Raster // 输出栅格头，不含波段
	Offsets []PixelOffset
}

// pixelRect 参考网格中的像素矩形 [minX,maxX) x [minY,maxY)
type pixelRect struct {
	minX, minY, maxX, maxY int
}

func (r pixelRect) empty() bool {
	return r.maxX <= r.minX || r.maxY <= r.minY
}

// Reconcile 按范围策略计算输出栅格头以及各输入相对输出的像素偏移
func (e *Engine) Reconcile(rasters []*Raster, policy ExtentType, custom *Raster) (*ExtentResult, error) {
	if len(rasters) == 0 {
		return nil, fmt.Errorf("%w: no rasters to reconcile", ErrInvalidExtent)
	}
	for i, r := range rasters {
		if r == nil {
			return nil, fmt.Errorf("%w: raster at index %d is nil", ErrInvalidExtent, i)
		}
	}

	// 参考栅格：CUSTOM 时为自定义范围，否则为第一个非空输入
	var ref *Raster
	if policy == ExtentCustom {
		if custom == nil {
			return nil, fmt.Errorf("%w: CUSTOM extent requires a custom raster", ErrInvalidExtent)
		}
		if !custom.IsEmpty() {
			ref = custom
		}
	}
	if ref == nil {
		for _, r := range rasters {
			if !r.IsEmpty() {
				ref = r
				break
			}
		}
	}

	if ref != nil {
		if err := ref.gt.Validate(); err != nil {
			return nil, err
		}
		for i, r := range rasters {
			if res := e.SameAlignment(ref, r); !res.Aligned {
				return nil, &MisalignedError{Reason: fmt.Sprintf("raster %d: %s", i+1, res.Reason)}
			}
		}
	}

	var header *Raster
	switch policy {
	case ExtentFirst:
		header = rasters[0].Header()
	case ExtentSecond:
		if len(rasters) < 2 {
			return nil, fmt.Errorf("%w: SECOND extent requires at least two rasters", ErrInvalidExtent)
		}
		header = rasters[1].Header()
	case ExtentLast:
		header = rasters[len(rasters)-1].Header()
	case ExtentCustom:
		header = custom.Header()
	case ExtentUnion, ExtentIntersection:
		if ref == nil {
			header = NewEmptyRaster(rasters[0].gt, rasters[0].srid)
			break
		}
		rect, ok, err := combineRects(ref, rasters, policy == ExtentUnion)
		if err != nil {
			return nil, err
		}
		if !ok {
			header = NewEmptyRaster(ref.gt, ref.srid)
			break
		}
		header = &Raster{
			width:  rect.maxX - rect.minX,
			height: rect.maxY - rect.minY,
			gt:     ref.gt.WithOriginAt(float64(rect.minX), float64(rect.minY)),
			srid:   ref.srid,
		}
	default:
		return nil, fmt.Errorf("%w: unknown extent type %d", ErrInvalidExtent, int(policy))
	}

	offsets := make([]PixelOffset, len(rasters))
	if !header.IsEmpty() {
		for i, r := range rasters {
			if r.IsEmpty() {
				continue
			}
			dx, dy, err := pixelOffset(header, r)
			if err != nil {
				return nil, err
			}
			offsets[i] = PixelOffset{DX: dx, DY: dy}
		}
	}
	return &ExtentResult{Header: header, Offsets: offsets}, nil
}

// combineRects 在参考网格中求所有输入像素矩形的并集或交集，ok 为 false 表示结果为空
func combineRects(ref *Raster, rasters []*Raster, union bool) (pixelRect, bool, error) {
	var acc pixelRect
	first := true
	for _, r := range rasters {
		if r.IsEmpty() {
			if union {
				continue
			}
			return pixelRect{}, false, nil
		}
		dx, dy, err := pixelOffset(ref, r)
		if err != nil {
			return pixelRect{}, false, err
		}
		rect := pixelRect{minX: dx, minY: dy, maxX: dx + r.width, maxY: dy + r.height}
		if first {
			acc = rect
			first = false
			continue
		}
		if union {
			acc.minX = min(acc.minX, rect.minX)
			acc.minY = min(acc.minY, rect.minY)
			acc.maxX = max(acc.maxX, rect.maxX)
			acc.maxY = max(acc.maxY, rect.maxY)
		} else {
			acc.minX = max(acc.minX, rect.minX)
			acc.minY = max(acc.minY, rect.minY)
			acc.maxX = min(acc.maxX, rect.maxX)
			acc.maxY = min(acc.maxY, rect.maxY)
			if acc.empty() {
				return pixelRect{}, false, nil
			}
		}
	}
	if first || acc.empty() {
		return pixelRect{}, false, nil
	}
	return acc, true, nil
}
