// RasterBandAdvanced.go
package Gorast

import (
	"fmt"
	"math"
)

// ==================== 波段数据读写 ====================

// ReadBandData 读取波段全部像素为float64数组（行优先）
func (r *Raster) ReadBandData(bandNum int) ([]float64, error) {
	b, err := r.GetBand(bandNum)
	if err != nil {
		return nil, err
	}
	buffer := make([]float64, b.width*b.height)
	for i := range buffer {
		v, _, err := b.GetPixel(i%b.width, i/b.width)
		if err != nil {
			return nil, err
		}
		buffer[i] = v
	}
	return buffer, nil
}

// WriteBandData 写入波段数据，数值按像素类型裁剪
func (r *Raster) WriteBandData(bandNum int, data []float64) error {
	b, err := r.GetBand(bandNum)
	if err != nil {
		return err
	}
	if b.external != nil {
		return fmt.Errorf("%w: external band is read-only", ErrInvalidBand)
	}
	expectedSize := b.width * b.height
	if len(data) != expectedSize {
		return fmt.Errorf("data size mismatch: expected %d, got %d", expectedSize, len(data))
	}
	for i, v := range data {
		b.pixType.encodeAt(b.data, i, v)
	}
	b.CheckWholeBandNoData()
	return nil
}

// ==================== 波段统计 ====================

// BandStatistics 波段统计信息，仅统计非NoData像素
type BandStatistics struct {
	Count  int64
	Min    float64
	Max    float64
	Sum    float64
	Mean   float64
	StdDev float64
}

// Statistics 计算波段统计信息（总体标准差），没有有效像素时 Count 为0，其余字段为NaN
func (b *Band) Statistics() (*BandStatistics, error) {
	stats := &BandStatistics{
		Min:    math.Inf(1),
		Max:    math.Inf(-1),
		Mean:   math.NaN(),
		StdDev: math.NaN(),
	}
	if b.IsWholeBandNoData() {
		stats.Min, stats.Max, stats.Sum = math.NaN(), math.NaN(), math.NaN()
		return stats, nil
	}

	// Welford 在线算法
	var mean, m2 float64
	for row := 0; row < b.height; row++ {
		for col := 0; col < b.width; col++ {
			v, isNoData, err := b.GetPixel(col, row)
			if err != nil {
				return nil, err
			}
			if isNoData || math.IsNaN(v) {
				continue
			}
			stats.Count++
			stats.Sum += v
			stats.Min = math.Min(stats.Min, v)
			stats.Max = math.Max(stats.Max, v)
			delta := v - mean
			mean += delta / float64(stats.Count)
			m2 += delta * (v - mean)
		}
	}

	if stats.Count == 0 {
		stats.Min, stats.Max, stats.Sum = math.NaN(), math.NaN(), math.NaN()
		return stats, nil
	}
	stats.Mean = mean
	stats.StdDev = math.Sqrt(m2 / float64(stats.Count))
	return stats, nil
}

// Histogram 在 [min, max] 上按 buckets 个等宽区间统计非NoData像素，区间外的值忽略
func (b *Band) Histogram(buckets int, min, max float64) ([]uint64, error) {
	if buckets <= 0 {
		return nil, fmt.Errorf("invalid bucket count: %d", buckets)
	}
	if !(max > min) {
		return nil, fmt.Errorf("invalid histogram range [%g, %g]", min, max)
	}
	result := make([]uint64, buckets)
	if b.IsWholeBandNoData() {
		return result, nil
	}
	width := (max - min) / float64(buckets)
	for row := 0; row < b.height; row++ {
		for col := 0; col < b.width; col++ {
			v, isNoData, err := b.GetPixel(col, row)
			if err != nil {
				return nil, err
			}
			if isNoData || v < min || v > max || math.IsNaN(v) {
				continue
			}
			i := int((v - min) / width)
			if i >= buckets {
				i = buckets - 1
			}
			result[i]++
		}
	}
	return result, nil
}

// ==================== 重分类 ====================

// ReclassifyRule 重分类规则
type ReclassifyRule struct {
	MinValue float64 // 最小值（包含）
	MaxValue float64 // 最大值（不包含）
	NewValue float64 // 新值
}

// ReclassifyBand 按规则重分类单个波段，未命中任何规则的像素写入 defaultValue，
// NoData像素保持为输出NoData
func (e *Engine) ReclassifyBand(r *Raster, bandNum int, rules []ReclassifyRule, defaultValue float64, opts IterateOptions) (*Raster, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil raster", ErrInvalidBand)
	}
	if _, err := r.GetBand(bandNum); err != nil {
		return nil, err
	}
	opts.Extent = ExtentFirst
	return e.Iterate([]IteratorInput{{Raster: r, BandNum: bandNum}}, opts,
		func(w *PixelWindow) (float64, bool, error) {
			in := w.Inputs[0]
			if !in.Valid() {
				return 0, true, nil
			}
			for _, rule := range rules {
				if in.Value >= rule.MinValue && in.Value < rule.MaxValue {
					return rule.NewValue, false, nil
				}
			}
			return defaultValue, false, nil
		})
}
