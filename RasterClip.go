package Gorast

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
)

// ClipOptions 裁剪选项
type ClipOptions struct {
	KeepExtent bool      // true 保留数据栅格完整范围（FIRST），false 裁剪到与掩膜重叠部分（INTERSECTION）
	BandNums   []int     // 参与裁剪的波段号，为空表示全部波段
	NoData     []float64 // 各输出波段的NoData值，未提供时使用波段自身的NoData或类型最小值
}

func (o *ClipOptions) extent() ExtentType {
	if o.KeepExtent {
		return ExtentFirst
	}
	return ExtentIntersection
}

// ClipByMask 使用 0/1（或NoData）掩膜栅格裁剪数据栅格。
// 掩膜为NoData、缺失或为0处输出NoData，其余位置输出原值。
func (e *Engine) ClipByMask(data, mask *Raster, options *ClipOptions) (*Raster, error) {
	if mask == nil {
		return nil, fmt.Errorf("%w: nil mask raster", ErrInvalidBand)
	}
	return e.clip(data, mask.Header(), func() (*Raster, error) { return mask, nil }, options)
}

// ClipByGeometry 使用几何体裁剪栅格，掩膜按数据栅格的网格栅格化
func (e *Engine) ClipByGeometry(data *Raster, geom orb.Geometry, options *ClipOptions) (*Raster, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: nil data raster", ErrInvalidBand)
	}
	grid := MaskGridFor(data)
	header, err := GeometryGrid(geom, grid)
	if err != nil {
		return nil, err
	}
	return e.clip(data, header, func() (*Raster, error) {
		return e.rasterizer.RasterizeGeometry(geom, grid)
	}, options)
}

// ClipByWKB 使用WKB几何体裁剪栅格
func (e *Engine) ClipByWKB(data *Raster, wkbGeom []byte, options *ClipOptions) (*Raster, error) {
	geom, err := wkb.Unmarshal(wkbGeom)
	if err != nil {
		return nil, fmt.Errorf("failed to decode clip geometry: %w", err)
	}
	return e.ClipByGeometry(data, geom, options)
}

// ClipByGeoJSON 使用GeoJSON要素的几何体裁剪栅格
func (e *Engine) ClipByGeoJSON(data *Raster, feature *geojson.Feature, options *ClipOptions) (*Raster, error) {
	if feature == nil || feature.Geometry == nil {
		return nil, fmt.Errorf("feature has no geometry")
	}
	return e.ClipByGeometry(data, feature.Geometry, options)
}

// clip 裁剪主流程，maskFn 仅在存在非整波段NoData的数据波段时才被调用
func (e *Engine) clip(data, maskHeader *Raster, maskFn func() (*Raster, error), options *ClipOptions) (*Raster, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: nil data raster", ErrInvalidBand)
	}
	if options == nil {
		options = &ClipOptions{}
	}

	bandNums := options.BandNums
	if len(bandNums) == 0 {
		for i := 1; i <= data.NumBands(); i++ {
			bandNums = append(bandNums, i)
		}
	}
	for _, n := range bandNums {
		if _, err := data.GetBand(n); err != nil {
			return nil, err
		}
	}

	ext, err := e.Reconcile([]*Raster{data, maskHeader}, options.extent(), nil)
	if err != nil {
		return nil, err
	}
	header := ext.Header
	if header.IsEmpty() {
		e.logger.Debug("裁剪范围与栅格不相交，返回空栅格")
		return NewEmptyRaster(data.gt, data.srid), nil
	}

	out := header.Header()
	var mask *Raster
	for i, n := range bandNums {
		db := data.band(n)
		noData := MinValue(db.pixType)
		if i < len(options.NoData) {
			noData = options.NoData[i]
		} else if db.hasNoData {
			noData = db.noData
		}

		if db.IsWholeBandNoData() {
			b, err := e.newBand(db.pixType, header.width, header.height, true, noData)
			if err != nil {
				out.Destroy()
				return nil, err
			}
			if err := b.Fill(noData); err != nil {
				out.Destroy()
				return nil, err
			}
			out.bands = append(out.bands, b)
			continue
		}

		if mask == nil {
			m, err := maskFn()
			if err != nil {
				out.Destroy()
				return nil, fmt.Errorf("failed to build clip mask: %w", err)
			}
			mask = m
		}

		clipped, err := e.Iterate(
			[]IteratorInput{
				{Raster: data, BandNum: n, TreatAbsentAsNoData: true},
				{Raster: mask, BandNum: 1, TreatAbsentAsNoData: true},
			},
			IterateOptions{
				Extent:    ExtentCustom,
				Custom:    header,
				PixelType: db.pixType,
				HasNoData: true,
				NoData:    noData,
			},
			clipPixel,
		)
		if err != nil {
			out.Destroy()
			return nil, fmt.Errorf("failed to clip band %d: %w", n, err)
		}
		out.bands = append(out.bands, clipped.bands[0])
	}
	return out, nil
}

// clipPixel 掩膜为NoData或0时输出NoData，否则保留数据值
func clipPixel(w *PixelWindow) (float64, bool, error) {
	d, m := w.Inputs[0], w.Inputs[1]
	if !m.Valid() || m.Value == 0 || !d.Valid() {
		return 0, true, nil
	}
	return d.Value, false, nil
}

// MaskGridFor 与数据栅格网格一致的掩膜栅格化参数（8BUI，1为内部，NoData为0）
func MaskGridFor(data *Raster) RasterizeGrid {
	gt := data.gt
	return RasterizeGrid{
		ScaleX:    gt.ScaleX,
		ScaleY:    gt.ScaleY,
		SkewX:     gt.SkewX,
		SkewY:     gt.SkewY,
		GridX:     gt.OriginX,
		GridY:     gt.OriginY,
		SRID:      data.srid,
		PixelType: PT8BUI,
		Value:     1,
		HasNoData: true,
		NoData:    0,
	}
}
