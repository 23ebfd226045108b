// RasterMosaic.go
package Gorast

import (
	"fmt"
	"strings"
)

// UnionType 合并（镶嵌聚合）方式
type UnionType int

const (
	UnionLast UnionType = iota
	UnionFirst
	UnionMin
	UnionMax
	UnionCount
	UnionSum
	UnionMean
	UnionRange
)

func (ut UnionType) String() string {
	switch ut {
	case UnionLast:
		return "LAST"
	case UnionFirst:
		return "FIRST"
	case UnionMin:
		return "MIN"
	case UnionMax:
		return "MAX"
	case UnionCount:
		return "COUNT"
	case UnionSum:
		return "SUM"
	case UnionMean:
		return "MEAN"
	case UnionRange:
		return "RANGE"
	default:
		return "Unknown"
	}
}

// ParseUnionType 解析合并方式名称（不区分大小写）
func ParseUnionType(s string) (UnionType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for ut := UnionLast; ut <= UnionRange; ut++ {
		if ut.String() == name {
			return ut, nil
		}
	}
	return 0, fmt.Errorf("unknown union type %q", s)
}

// accumulatorKinds MEAN、RANGE 需要两个累加器
func (ut UnionType) accumulatorKinds() []UnionType {
	switch ut {
	case UnionMean:
		return []UnionType{UnionCount, UnionSum}
	case UnionRange:
		return []UnionType{UnionMin, UnionMax}
	default:
		return []UnionType{ut}
	}
}

// UnionArg 单个输出波段的合并参数
type UnionArg struct {
	BandNum int // 输入栅格的波段号，从1开始
	Type    UnionType
}

type unionState struct {
	arg   UnionArg
	kinds []UnionType
	acc   []*Raster // 与 kinds 一一对应的单波段累加栅格
}

// UnionAggregator 流式合并聚合器，一次折叠一个输入栅格
type UnionAggregator struct {
	e       *Engine
	args    []UnionArg
	states  []*unionState
	started bool
	folded  int
}

// NewUnionAggregator 创建合并聚合器，args 为空时对第一个输入的每个波段使用 LAST
func (e *Engine) NewUnionAggregator(args ...UnionArg) (*UnionAggregator, error) {
	for i, a := range args {
		if a.BandNum < 1 {
			return nil, fmt.Errorf("%w: union arg %d has band %d", ErrInvalidBand, i+1, a.BandNum)
		}
		if a.Type < UnionLast || a.Type > UnionRange {
			return nil, fmt.Errorf("union arg %d has unknown type %d", i+1, int(a.Type))
		}
	}
	return &UnionAggregator{e: e, args: append([]UnionArg(nil), args...)}, nil
}

// Count 已折叠的栅格数量
func (ua *UnionAggregator) Count() int { return ua.folded }

func (ua *UnionAggregator) start(r *Raster) bool {
	args := ua.args
	if len(args) == 0 {
		if r.NumBands() == 0 {
			return false
		}
		for i := 1; i <= r.NumBands(); i++ {
			args = append(args, UnionArg{BandNum: i, Type: UnionLast})
		}
	}
	ua.states = make([]*unionState, len(args))
	for i, a := range args {
		kinds := a.Type.accumulatorKinds()
		ua.states[i] = &unionState{arg: a, kinds: kinds, acc: make([]*Raster, len(kinds))}
	}
	ua.started = true
	return true
}

// Add 将一个栅格折叠进累加器，nil 栅格被跳过。出错时累加器保持不变。
func (ua *UnionAggregator) Add(r *Raster) error {
	if r == nil {
		ua.e.logger.Debug("跳过空输入栅格")
		return nil
	}
	if !ua.started && !ua.start(r) {
		ua.e.logger.Warn("输入栅格没有波段，无法推断合并参数，已跳过")
		return nil
	}

	type pending struct {
		st  *unionState
		k   int
		acc *Raster
	}
	var updates []pending
	discard := func() {
		for _, p := range updates {
			p.acc.Destroy()
		}
	}

	for _, st := range ua.states {
		if r.band(st.arg.BandNum) == nil {
			ua.e.logger.Warn("输入栅格缺少波段，已跳过", "band", st.arg.BandNum, "bands", r.NumBands())
			continue
		}
		for k, kind := range st.kinds {
			next, err := ua.fold(st.acc[k], kind, r, st.arg.BandNum)
			if err != nil {
				discard()
				return fmt.Errorf("union %s on band %d failed: %w", st.arg.Type, st.arg.BandNum, err)
			}
			updates = append(updates, pending{st: st, k: k, acc: next})
		}
	}

	for _, p := range updates {
		if old := p.st.acc[p.k]; old != nil && old != p.acc {
			old.Destroy()
		}
		p.st.acc[p.k] = p.acc
	}
	ua.folded++
	return nil
}

// accumulatorFormat 累加器的像素类型与NoData。
// 源波段没有NoData时累加器也没有NoData，未覆盖的像元按类型最小值填充；
// SUM 已扩展到 64BF，源类型更窄时使用 64BF 最小值作为NoData。
func accumulatorFormat(kind UnionType, src *Band) (pt PixelType, hasNoData bool, noData float64) {
	switch kind {
	case UnionCount:
		return PT32BUI, false, 0
	case UnionSum:
		pt = PT64BF
	default:
		pt = src.pixType
	}
	if src.hasNoData {
		return pt, true, src.noData
	}
	if kind == UnionSum && src.pixType != PT64BF {
		return pt, true, MinValue(PT64BF)
	}
	return pt, false, MinValue(pt)
}

// fold 将 r 的一个波段折叠进累加器 acc，返回新的累加器
func (ua *UnionAggregator) fold(acc *Raster, kind UnionType, r *Raster, bandNum int) (*Raster, error) {
	src := r.band(bandNum)
	accBand := acc.band(1)

	var pt PixelType
	var hasNoData bool
	var noData float64
	if accBand != nil {
		pt, hasNoData = accBand.pixType, accBand.hasNoData
		noData = accBand.noData
		if !hasNoData {
			noData = MinValue(pt)
		}
	} else {
		pt, hasNoData, noData = accumulatorFormat(kind, src)
	}

	if accBand != nil && acc.sameGrid(r) {
		return ua.mergeAligned(acc, src, kind)
	}

	if acc == nil {
		acc = NewEmptyRaster(r.gt, r.srid)
	}
	inputs := []IteratorInput{
		{Raster: acc, BandNum: 1, TreatAbsentAsNoData: true},
		{Raster: r, BandNum: bandNum, TreatAbsentAsNoData: true},
	}
	opts := IterateOptions{
		Extent:    ExtentUnion,
		PixelType: pt,
		HasNoData: hasNoData,
		NoData:    noData,
	}
	return ua.e.Iterate(inputs, opts, func(w *PixelWindow) (float64, bool, error) {
		v, isNoData := reduceUnion(kind, w.Inputs[0], w.Inputs[1])
		return v, isNoData, nil
	})
}

// mergeAligned 同网格快速路径：逐行直接合并缓冲区，结果与通用迭代器一致
func (ua *UnionAggregator) mergeAligned(acc *Raster, src *Band, kind UnionType) (*Raster, error) {
	ab := acc.bands[0]
	out := acc.Clone()
	ob := out.bands[0]

	fill := MinValue(ob.pixType)
	if ob.hasNoData {
		fill = ob.noData
	}
	ob.isNoData = ob.hasNoData

	for row := 0; row < acc.height; row++ {
		base := row * acc.width
		for col := 0; col < acc.width; col++ {
			av, aNoData, err := ab.GetPixel(col, row)
			if err != nil {
				out.Destroy()
				return nil, err
			}
			sv, sNoData, err := src.GetPixel(col, row)
			if err != nil {
				out.Destroy()
				return nil, err
			}
			v, isNoData := reduceUnion(kind,
				PixelValue{Value: av, NoData: aNoData},
				PixelValue{Value: sv, NoData: sNoData})
			if isNoData {
				v = fill
			}
			ob.setIndex(base+col, v)
		}
	}
	return out, nil
}

// reduceUnion 单像素合并规则，a 为累加器，b 为新输入
func reduceUnion(kind UnionType, a, b PixelValue) (float64, bool) {
	av, bv := a.Valid(), b.Valid()
	if kind == UnionCount {
		switch {
		case !av && !bv:
			return 0, false
		case !bv:
			return a.Value, false
		case !av:
			return 1, false
		default:
			return a.Value + 1, false
		}
	}

	switch {
	case !av && !bv:
		return 0, true
	case !bv:
		return a.Value, false
	case !av:
		return b.Value, false
	}
	switch kind {
	case UnionFirst:
		return a.Value, false
	case UnionMin:
		return min(a.Value, b.Value), false
	case UnionMax:
		return max(a.Value, b.Value), false
	case UnionSum:
		return a.Value + b.Value, false
	default:
		return b.Value, false
	}
}

// Finalize 输出合并结果，每个合并参数对应一个波段，随后聚合器被重置
func (ua *UnionAggregator) Finalize() (*Raster, error) {
	defer ua.Reset()
	if !ua.started {
		return NewEmptyRaster(DefaultGeoTransform(), SRIDUnknown), nil
	}

	results := make([]*Raster, len(ua.states))
	release := func() {
		for i, st := range ua.states {
			if results[i] != nil && (len(st.acc) == 0 || results[i] != st.acc[0]) {
				results[i].Destroy()
			}
		}
	}
	for i, st := range ua.states {
		res, err := ua.finalizeState(st)
		if err != nil {
			release()
			return nil, err
		}
		results[i] = res
	}

	var nonEmpty []*Raster
	for _, res := range results {
		if res != nil && !res.IsEmpty() {
			nonEmpty = append(nonEmpty, res)
		}
	}
	if len(nonEmpty) == 0 {
		release()
		for _, res := range results {
			if res != nil {
				return NewEmptyRaster(res.gt, res.srid), nil
			}
		}
		return NewEmptyRaster(DefaultGeoTransform(), SRIDUnknown), nil
	}
	ext, err := ua.e.Reconcile(nonEmpty, ExtentUnion, nil)
	if err != nil {
		release()
		return nil, err
	}

	out := ext.Header.Header()
	transferred := make([]bool, len(results))
	for i, res := range results {
		band, err := ua.bandOnGrid(res, ext.Header, ua.states[i])
		if err != nil {
			release()
			return nil, err
		}
		transferred[i] = res != nil && len(res.bands) > 0 && res.bands[0] == band
		if _, err := out.AddBand(band); err != nil {
			release()
			return nil, err
		}
	}
	// 波段所有权已转移到 out，其余中间结果由 Reset 或此处释放
	for i, res := range results {
		if res == nil {
			continue
		}
		if transferred[i] {
			res.bands = nil
		} else if res != ua.states[i].acc[0] {
			res.Destroy()
		}
	}
	ua.e.logger.Debug("合并完成", "rasters", ua.folded, "bands", out.NumBands(),
		"width", out.width, "height", out.height)
	return out, nil
}

// finalizeState 单一累加器直接返回，MEAN/RANGE 再做一次两输入迭代
func (ua *UnionAggregator) finalizeState(st *unionState) (*Raster, error) {
	if len(st.kinds) == 1 {
		return st.acc[0], nil
	}
	first, second := st.acc[0], st.acc[1]
	if first == nil || second == nil || first.band(1) == nil || second.band(1) == nil {
		return nil, nil
	}
	// MEAN 沿用 SUM 的NoData，RANGE 沿用 MIN 的NoData
	noData := MinValue(PT64BF)
	src := second.band(1)
	if st.arg.Type == UnionRange {
		src = first.band(1)
	}
	if src.hasNoData {
		noData = src.noData
	}
	inputs := []IteratorInput{
		{Raster: first, BandNum: 1, TreatAbsentAsNoData: true},
		{Raster: second, BandNum: 1, TreatAbsentAsNoData: true},
	}
	opts := IterateOptions{Extent: ExtentUnion, PixelType: PT64BF, HasNoData: true, NoData: noData}
	meanOrRange := st.arg.Type
	return ua.e.Iterate(inputs, opts, func(w *PixelWindow) (float64, bool, error) {
		a, b := w.Inputs[0], w.Inputs[1]
		if meanOrRange == UnionMean {
			// a 为 COUNT，b 为 SUM
			if !a.Valid() || a.Value <= 0 || !b.Valid() {
				return 0, true, nil
			}
			return b.Value / a.Value, false, nil
		}
		// a 为 MIN，b 为 MAX
		if !a.Valid() || !b.Valid() {
			return 0, true, nil
		}
		return b.Value - a.Value, false, nil
	})
}

// bandOnGrid 将结果波段放到最终网格上，网格不同时通过 CUSTOM 范围迭代扩展
func (ua *UnionAggregator) bandOnGrid(res *Raster, header *Raster, st *unionState) (*Band, error) {
	if res == nil || res.band(1) == nil {
		ua.e.logger.Warn("合并参数没有任何有效输入，输出整波段NoData", "band", st.arg.BandNum, "type", st.arg.Type)
		b, err := ua.e.newBand(PT64BF, header.width, header.height, true, MinValue(PT64BF))
		if err != nil {
			return nil, err
		}
		if err := b.Fill(MinValue(PT64BF)); err != nil {
			return nil, err
		}
		return b, nil
	}
	if res.sameGrid(header) {
		return res.bands[0], nil
	}
	rb := res.bands[0]
	noData := rb.noData
	if !rb.hasNoData {
		noData = MinValue(rb.pixType)
	}
	expanded, err := ua.e.Iterate(
		[]IteratorInput{{Raster: res, BandNum: 1, TreatAbsentAsNoData: true}},
		IterateOptions{Extent: ExtentCustom, Custom: header, PixelType: rb.pixType, HasNoData: rb.hasNoData, NoData: noData},
		func(w *PixelWindow) (float64, bool, error) {
			p := w.Inputs[0]
			if !p.Valid() {
				return 0, true, nil
			}
			return p.Value, false, nil
		})
	if err != nil {
		return nil, err
	}
	b := expanded.bands[0]
	expanded.bands = nil
	return b, nil
}

// Reset 释放全部累加器并恢复初始状态
func (ua *UnionAggregator) Reset() {
	for _, st := range ua.states {
		for _, acc := range st.acc {
			acc.Destroy()
		}
	}
	ua.states = nil
	ua.started = false
	ua.folded = 0
}

// Union 对一组栅格执行合并聚合
func (e *Engine) Union(rasters []*Raster, args ...UnionArg) (*Raster, error) {
	ua, err := e.NewUnionAggregator(args...)
	if err != nil {
		return nil, err
	}
	for i, r := range rasters {
		if err := ua.Add(r); err != nil {
			ua.Reset()
			return nil, fmt.Errorf("failed to add raster %d: %w", i+1, err)
		}
	}
	return ua.Finalize()
}
