package Gorast

import (
	"fmt"
	"math"
)

// GeoTransform 仿射地理变换
//
//	x = OriginX + ScaleX*col + SkewX*row
//	y = OriginY + SkewY*col + ScaleY*row
type GeoTransform struct {
	ScaleX  float64
	ScaleY  float64
	SkewX   float64
	SkewY   float64
	OriginX float64
	OriginY float64
}

// DefaultGeoTransform 像素坐标系的默认变换（原点0,0，像元大小1，Y向下）
func DefaultGeoTransform() GeoTransform {
	return GeoTransform{ScaleX: 1, ScaleY: -1}
}

// GeoTransformFromGDAL 从GDAL顺序 [originX, scaleX, skewX, originY, skewY, scaleY] 构造
func GeoTransformFromGDAL(gt [6]float64) GeoTransform {
	return GeoTransform{
		OriginX: gt[0],
		ScaleX:  gt[1],
		SkewX:   gt[2],
		OriginY: gt[3],
		SkewY:   gt[4],
		ScaleY:  gt[5],
	}
}

// GDAL 转为GDAL顺序
func (gt GeoTransform) GDAL() [6]float64 {
	return [6]float64{gt.OriginX, gt.ScaleX, gt.SkewX, gt.OriginY, gt.SkewY, gt.ScaleY}
}

func (gt GeoTransform) determinant() float64 {
	return gt.ScaleX*gt.ScaleY - gt.SkewX*gt.SkewY
}

// Validate 像元大小为0或矩阵不可逆时返回 ErrSingularTransform
func (gt GeoTransform) Validate() error {
	if gt.ScaleX == 0 || gt.ScaleY == 0 {
		return fmt.Errorf("%w: zero pixel scale (%g, %g)", ErrSingularTransform, gt.ScaleX, gt.ScaleY)
	}
	det := gt.determinant()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return fmt.Errorf("%w: determinant %g", ErrSingularTransform, det)
	}
	return nil
}

// Apply 像素坐标转世界坐标
func (gt GeoTransform) Apply(col, row float64) (x, y float64) {
	x = gt.OriginX + gt.ScaleX*col + gt.SkewX*row
	y = gt.OriginY + gt.SkewY*col + gt.ScaleY*row
	return x, y
}

// Invert 世界坐标转像素坐标（保留小数）
func (gt GeoTransform) Invert(x, y float64) (col, row float64, err error) {
	if err := gt.Validate(); err != nil {
		return 0, 0, err
	}
	det := gt.determinant()
	dx := x - gt.OriginX
	dy := y - gt.OriginY
	col = (gt.ScaleY*dx - gt.SkewX*dy) / det
	row = (gt.ScaleX*dy - gt.SkewY*dx) / det
	return col, row, nil
}

// WithOriginAt 以原栅格的 (col,row) 像元角点为新原点，像元大小与旋转不变
func (gt GeoTransform) WithOriginAt(col, row float64) GeoTransform {
	ngt := gt
	ngt.OriginX, ngt.OriginY = gt.Apply(col, row)
	return ngt
}

// CellToWorld 像素坐标（列、行）转世界坐标
func (r *Raster) CellToWorld(col, row float64) (x, y float64) {
	return r.gt.Apply(col, row)
}

// WorldToCellFrac 世界坐标转像素坐标（保留小数）
func (r *Raster) WorldToCellFrac(x, y float64) (col, row float64, err error) {
	return r.gt.Invert(x, y)
}

// WorldToCell 世界坐标转所在像元（向下取整）
func (r *Raster) WorldToCell(x, y float64) (col, row int, err error) {
	fc, fr, err := r.gt.Invert(x, y)
	if err != nil {
		return 0, 0, err
	}
	return int(math.Floor(fc)), int(math.Floor(fr)), nil
}

// ==================== 对齐检查 ====================

// AlignmentResult 对齐检查结果
type AlignmentResult struct {
	Aligned bool
	Reason  string
}

// SameAlignment 判断两栅格是否位于同一像元网格
func (e *Engine) SameAlignment(a, b *Raster) AlignmentResult {
	return sameAlignment(a, b, e.cfg.AlignmentEpsilon)
}

func sameAlignment(a, b *Raster, eps float64) AlignmentResult {
	if a.IsEmpty() || b.IsEmpty() {
		return AlignmentResult{Aligned: true}
	}
	if a.srid != b.srid {
		return AlignmentResult{Reason: fmt.Sprintf("rasters have different SRIDs (%d, %d)", a.srid, b.srid)}
	}
	ga, gb := a.gt, b.gt
	ref := math.Max(math.Abs(ga.ScaleX), math.Abs(ga.ScaleY))
	if !nearlyEqual(ga.ScaleX, gb.ScaleX, eps*ref) {
		return AlignmentResult{Reason: fmt.Sprintf("rasters have different scales on the X axis (%g, %g)", ga.ScaleX, gb.ScaleX)}
	}
	if !nearlyEqual(ga.ScaleY, gb.ScaleY, eps*ref) {
		return AlignmentResult{Reason: fmt.Sprintf("rasters have different scales on the Y axis (%g, %g)", ga.ScaleY, gb.ScaleY)}
	}
	if !nearlyEqual(ga.SkewX, gb.SkewX, eps*ref) {
		return AlignmentResult{Reason: fmt.Sprintf("rasters have different skews on the X axis (%g, %g)", ga.SkewX, gb.SkewX)}
	}
	if !nearlyEqual(ga.SkewY, gb.SkewY, eps*ref) {
		return AlignmentResult{Reason: fmt.Sprintf("rasters have different skews on the Y axis (%g, %g)", ga.SkewY, gb.SkewY)}
	}
	col, row, err := ga.Invert(gb.OriginX, gb.OriginY)
	if err != nil {
		return AlignmentResult{Reason: err.Error()}
	}
	if !nearlyInteger(col, eps) || !nearlyInteger(row, eps) {
		return AlignmentResult{Reason: fmt.Sprintf("rasters' upper-left corners are offset by a fractional pixel (%g, %g)", col, row)}
	}
	return AlignmentResult{Aligned: true}
}

func nearlyEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func nearlyInteger(v, eps float64) bool {
	return math.Abs(v-math.Round(v)) <= eps
}

// pixelOffset 计算 b 的原点在 a 像元网格中的整数位置，调用方保证两者已对齐
func pixelOffset(a, b *Raster) (dx, dy int, err error) {
	col, row, err := a.gt.Invert(b.gt.OriginX, b.gt.OriginY)
	if err != nil {
		return 0, 0, err
	}
	return int(math.Round(col)), int(math.Round(row)), nil
}
