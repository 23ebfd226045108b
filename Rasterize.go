package Gorast

import (
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"golang.org/x/image/vector"
)

// RasterizeGrid 几何栅格化参数。输出原点对齐到以 (GridX, GridY) 为锚点的网格
type RasterizeGrid struct {
	ScaleX    float64
	ScaleY    float64
	SkewX     float64
	SkewY     float64
	GridX     float64
	GridY     float64
	SRID      int
	PixelType PixelType
	Value     float64 // 几何体覆盖像元写入的值
	HasNoData bool
	NoData    float64 // 未覆盖像元的值
}

func (g RasterizeGrid) geoTransform() GeoTransform {
	return GeoTransform{
		ScaleX:  g.ScaleX,
		ScaleY:  g.ScaleY,
		SkewX:   g.SkewX,
		SkewY:   g.SkewY,
		OriginX: g.GridX,
		OriginY: g.GridY,
	}
}

// Rasterizer 几何体栅格化协作者
type Rasterizer interface {
	Rasterize(wkbGeom []byte, grid RasterizeGrid) (*Raster, error)
	RasterizeGeometry(geom orb.Geometry, grid RasterizeGrid) (*Raster, error)
}

// GeometryGrid 计算覆盖几何体外包矩形的对齐网格栅格头，几何体为空时返回空栅格
func GeometryGrid(geom orb.Geometry, grid RasterizeGrid) (*Raster, error) {
	ref := grid.geoTransform()
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if geom == nil || pointCount(geom) == 0 {
		return NewEmptyRaster(ref, grid.SRID), nil
	}

	bound := geom.Bound()
	minC, minR := math.Inf(1), math.Inf(1)
	maxC, maxR := math.Inf(-1), math.Inf(-1)
	for _, p := range []orb.Point{bound.Min, bound.Max, {bound.Min[0], bound.Max[1]}, {bound.Max[0], bound.Min[1]}} {
		c, r, err := ref.Invert(p[0], p[1])
		if err != nil {
			return nil, err
		}
		minC, maxC = math.Min(minC, c), math.Max(maxC, c)
		minR, maxR = math.Min(minR, r), math.Max(maxR, r)
	}
	c0, r0 := math.Floor(minC), math.Floor(minR)
	c1, r1 := math.Ceil(maxC), math.Ceil(maxR)
	if c1 <= c0 {
		c1 = c0 + 1
	}
	if r1 <= r0 {
		r1 = r0 + 1
	}
	return &Raster{
		width:  int(c1 - c0),
		height: int(r1 - r0),
		gt:     ref.WithOriginAt(c0, r0),
		srid:   grid.SRID,
	}, nil
}

func pointCount(geom orb.Geometry) int {
	switch g := geom.(type) {
	case orb.Point:
		return 1
	case orb.MultiPoint:
		return len(g)
	case orb.LineString:
		return len(g)
	case orb.MultiLineString:
		n := 0
		for _, ls := range g {
			n += len(ls)
		}
		return n
	case orb.Ring:
		return len(g)
	case orb.Polygon:
		n := 0
		for _, r := range g {
			n += len(r)
		}
		return n
	case orb.MultiPolygon:
		n := 0
		for _, p := range g {
			n += pointCount(p)
		}
		return n
	case orb.Collection:
		n := 0
		for _, c := range g {
			n += pointCount(c)
		}
		return n
	case orb.Bound:
		return 2
	default:
		return 0
	}
}

// VectorRasterizer 基于 golang.org/x/image/vector 的默认栅格化器。
// 面按覆盖率≥0.5写入，线和点写入其经过的像元。
type VectorRasterizer struct{}

// Rasterize 栅格化WKB几何体
func (vr VectorRasterizer) Rasterize(wkbGeom []byte, grid RasterizeGrid) (*Raster, error) {
	geom, err := wkb.Unmarshal(wkbGeom)
	if err != nil {
		return nil, fmt.Errorf("failed to decode wkb geometry: %w", err)
	}
	return vr.RasterizeGeometry(geom, grid)
}

// RasterizeGeometry 栅格化 orb 几何体，输出单波段栅格
func (vr VectorRasterizer) RasterizeGeometry(geom orb.Geometry, grid RasterizeGrid) (*Raster, error) {
	if !grid.PixelType.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPixelType, int(grid.PixelType))
	}
	out, err := GeometryGrid(geom, grid)
	if err != nil {
		return nil, err
	}
	if out.IsEmpty() {
		return out, nil
	}

	fill := 0.0
	if grid.HasNoData {
		fill = grid.NoData
	}
	if _, err := out.AddNewBand(grid.PixelType, fill, grid.HasNoData, grid.NoData); err != nil {
		return nil, err
	}
	b := out.bands[0]

	bp := &burnPass{gt: out.gt, band: b, value: grid.Value}
	if err := bp.burn(geom); err != nil {
		return nil, err
	}
	if bp.raster != nil {
		bp.flushArea()
	}
	return out, nil
}

// burnPass 单次栅格化的状态，面先累积到 vector.Rasterizer 再一次性写入
type burnPass struct {
	gt     GeoTransform
	band   *Band
	value  float64
	raster *vector.Rasterizer
}

func (bp *burnPass) toPixel(p orb.Point) (float64, float64) {
	c, r, _ := bp.gt.Invert(p[0], p[1])
	return c, r
}

func (bp *burnPass) burn(geom orb.Geometry) error {
	switch g := geom.(type) {
	case orb.Point:
		bp.burnPoint(g)
	case orb.MultiPoint:
		for _, p := range g {
			bp.burnPoint(p)
		}
	case orb.LineString:
		bp.burnLine(g)
	case orb.MultiLineString:
		for _, ls := range g {
			bp.burnLine(ls)
		}
	case orb.Ring:
		bp.addPolygon(orb.Polygon{g})
	case orb.Polygon:
		bp.addPolygon(g)
	case orb.MultiPolygon:
		for _, p := range g {
			bp.addPolygon(p)
		}
	case orb.Bound:
		bp.addPolygon(g.ToPolygon())
	case orb.Collection:
		for _, c := range g {
			if err := bp.burn(c); err != nil {
				return err
			}
		}
	case nil:
	default:
		return fmt.Errorf("unsupported geometry type %T", geom)
	}
	return nil
}

func (bp *burnPass) burnCell(c, r float64) {
	col, row := int(math.Floor(c)), int(math.Floor(r))
	if col < 0 || row < 0 || col >= bp.band.width || row >= bp.band.height {
		return
	}
	bp.band.setIndex(row*bp.band.width+col, bp.value)
}

func (bp *burnPass) burnPoint(p orb.Point) {
	bp.burnCell(bp.toPixel(p))
}

// burnLine 以四分之一像元步长沿线段采样
func (bp *burnPass) burnLine(ls orb.LineString) {
	if len(ls) == 1 {
		bp.burnPoint(ls[0])
		return
	}
	for i := 1; i < len(ls); i++ {
		x0, y0 := bp.toPixel(ls[i-1])
		x1, y1 := bp.toPixel(ls[i])
		steps := int(math.Ceil(math.Max(math.Abs(x1-x0), math.Abs(y1-y0)) * 4))
		if steps == 0 {
			steps = 1
		}
		for s := 0; s <= steps; s++ {
			t := float64(s) / float64(steps)
			bp.burnCell(x0+(x1-x0)*t, y0+(y1-y0)*t)
		}
	}
}

// addPolygon 外环逆时针、内环顺时针后加入路径，保证洞被正确扣除
func (bp *burnPass) addPolygon(poly orb.Polygon) {
	if bp.raster == nil {
		bp.raster = vector.NewRasterizer(bp.band.width, bp.band.height)
	}
	for i, ring := range poly {
		if len(ring) < 3 {
			continue
		}
		want := orb.CCW
		if i > 0 {
			want = orb.CW
		}
		if ring.Orientation() != want {
			ring = ring.Clone()
			ring.Reverse()
		}
		x, y := bp.toPixel(ring[0])
		bp.raster.MoveTo(float32(x), float32(y))
		for _, p := range ring[1:] {
			x, y = bp.toPixel(p)
			bp.raster.LineTo(float32(x), float32(y))
		}
		bp.raster.ClosePath()
	}
}

func (bp *burnPass) flushArea() {
	w, h := bp.band.width, bp.band.height
	dst := image.NewAlpha(image.Rect(0, 0, w, h))
	bp.raster.Draw(dst, dst.Bounds(), image.Opaque, image.Point{})
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			if dst.Pix[row*dst.Stride+col] >= 128 {
				bp.band.setIndex(row*w+col, bp.value)
			}
		}
	}
}
