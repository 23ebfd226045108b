package Gorast

import (
	"errors"
	"testing"
)

func sumValid(w *PixelWindow) (float64, bool, error) {
	sum, found := 0.0, false
	for _, in := range w.Inputs {
		if in.Valid() {
			sum += in.Value
			found = true
		}
	}
	return sum, !found, nil
}

func TestIterateIdentity(t *testing.T) {
	e := newTestEngine(t)
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	src := newTestRaster(t, 3, 3, gridAt(10, 20), PT8BUI, ptr(0), values)
	src.SetSRID(3857)

	out, err := e.Iterate([]IteratorInput{{Raster: src, BandNum: 1}},
		IterateOptions{Extent: ExtentFirst, PixelType: PT8BUI, HasNoData: true, NoData: 0},
		func(w *PixelWindow) (float64, bool, error) {
			return w.Inputs[0].Value, w.Inputs[0].NoData, nil
		})
	if err != nil {
		t.Fatalf("Iterate() error = %v", err)
	}
	if !out.sameGrid(src) {
		t.Errorf("output grid %+v differs from input %+v", out.Header(), src.Header())
	}
	got, _ := out.ReadBandData(1)
	for i := range values {
		if got[i] != values[i] {
			t.Errorf("pixel %d = %g, want %g", i, got[i], values[i])
		}
	}
}

func TestIterateUnionSum(t *testing.T) {
	for _, treatAbsent := range []bool{true, false} {
		e := newTestEngine(t)
		a := newTestRaster(t, 4, 4, gridAt(0, 0), PT64BF, nil, []float64{5})
		b := newTestRaster(t, 4, 4, gridAt(2, 2), PT64BF, nil, []float64{5})

		var absentSeen bool
		out, err := e.Iterate(
			[]IteratorInput{
				{Raster: a, BandNum: 1, TreatAbsentAsNoData: treatAbsent},
				{Raster: b, BandNum: 1, TreatAbsentAsNoData: treatAbsent},
			},
			IterateOptions{Extent: ExtentUnion, PixelType: PT64BF, HasNoData: true, NoData: -1},
			func(w *PixelWindow) (float64, bool, error) {
				if w.X == 6 && w.Y == 1 {
					absentSeen = w.Inputs[0].Absent && w.Inputs[1].Absent
					if !w.Inputs[0].NoData {
						t.Error("absent input should also report NoData")
					}
				}
				return sumValid(w)
			})
		if err != nil {
			t.Fatalf("Iterate() error = %v", err)
		}
		if out.Width() != 6 || out.Height() != 6 {
			t.Fatalf("size = %dx%d, want 6x6", out.Width(), out.Height())
		}
		if absentSeen == treatAbsent {
			t.Errorf("treatAbsent=%v: Absent flag = %v", treatAbsent, absentSeen)
		}

		counts := map[float64]int{}
		noData := 0
		for row := 0; row < 6; row++ {
			for col := 0; col < 6; col++ {
				v, isNoData := pixelAt(t, out, 1, col, row)
				inA := col < 4 && row < 4
				inB := col >= 2 && row >= 2
				switch {
				case inA && inB:
					if v != 10 {
						t.Errorf("(%d,%d) = %g, want 10", col, row, v)
					}
				case inA || inB:
					if v != 5 {
						t.Errorf("(%d,%d) = %g, want 5", col, row, v)
					}
				default:
					if !isNoData {
						t.Errorf("(%d,%d) = %g, want nodata", col, row, v)
					}
				}
				if isNoData {
					noData++
				} else {
					counts[v]++
				}
			}
		}
		if counts[10] != 4 || counts[5] != 24 || noData != 8 {
			t.Errorf("counts = %v nodata=%d", counts, noData)
		}
	}
}

func TestIterateSourceCoordinates(t *testing.T) {
	e := newTestEngine(t)
	a := newTestRaster(t, 4, 4, gridAt(0, 0), PT8BUI, nil, []float64{1})
	b := newTestRaster(t, 4, 4, gridAt(2, 2), PT8BUI, nil, []float64{2})

	var window *PixelWindow
	reused := true
	_, err := e.Iterate(
		[]IteratorInput{{Raster: a, BandNum: 1}, {Raster: b, BandNum: 1}},
		IterateOptions{Extent: ExtentUnion, PixelType: PT8BUI},
		func(w *PixelWindow) (float64, bool, error) {
			if window == nil {
				window = w
			} else if window != w {
				reused = false
			}
			if w.X == 3 && w.Y == 3 {
				if w.Inputs[0].X != 3 || w.Inputs[0].Y != 3 {
					t.Errorf("input 1 position = (%d,%d), want (3,3)", w.Inputs[0].X, w.Inputs[0].Y)
				}
				if w.Inputs[1].X != 1 || w.Inputs[1].Y != 1 {
					t.Errorf("input 2 position = (%d,%d), want (1,1)", w.Inputs[1].X, w.Inputs[1].Y)
				}
			}
			return 0, false, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if !reused {
		t.Error("the same PixelWindow should be passed to every call")
	}
}

var errBoom = errors.New("boom")

func TestIterateCallbackFailure(t *testing.T) {
	e := newTestEngine(t)
	src := newTestRaster(t, 3, 3, gridAt(0, 0), PT8BUI, nil, []float64{1})
	out, err := e.Iterate([]IteratorInput{{Raster: src, BandNum: 1}},
		IterateOptions{Extent: ExtentFirst, PixelType: PT8BUI},
		func(w *PixelWindow) (float64, bool, error) {
			if w.X == 2 && w.Y == 2 {
				return 0, false, errBoom
			}
			return 1, false, nil
		})
	if out != nil {
		t.Error("failed iteration should not return a raster")
	}
	if !errors.Is(err, ErrCallbackFailure) || !errors.Is(err, errBoom) {
		t.Errorf("error = %v, want ErrCallbackFailure wrapping boom", err)
	}
}

func TestIterateWholeBandNoDataShortCircuit(t *testing.T) {
	e := newTestEngine(t)
	a := newTestRaster(t, 3, 3, gridAt(0, 0), PT16BSI, ptr(-9999), []float64{-9999})
	b := newTestRaster(t, 3, 3, gridAt(1, 1), PT16BSI, ptr(-9999), []float64{-9999})

	calls := 0
	out, err := e.Iterate(
		[]IteratorInput{
			{Raster: a, BandNum: 1, TreatAbsentAsNoData: true},
			{Raster: b, BandNum: 1, TreatAbsentAsNoData: true},
		},
		IterateOptions{Extent: ExtentUnion, PixelType: PT16BSI, HasNoData: true, NoData: -1},
		func(*PixelWindow) (float64, bool, error) {
			calls++
			return 1, false, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("callback called %d times", calls)
	}
	if out.Width() != 4 || out.Height() != 4 {
		t.Fatalf("size = %dx%d", out.Width(), out.Height())
	}
	band, _ := out.GetBand(1)
	if !band.IsWholeBandNoData() {
		t.Error("output should be flagged whole-band nodata")
	}
	if v, isNoData := pixelAt(t, out, 1, 3, 3); !isNoData || v != -1 {
		t.Errorf("pixel = %g, %v, want output nodata -1", v, isNoData)
	}

	// 未要求按NoData处理缺失时不能短路
	calls = 0
	if _, err := e.Iterate([]IteratorInput{{Raster: a, BandNum: 1}},
		IterateOptions{Extent: ExtentFirst, PixelType: PT16BSI},
		func(*PixelWindow) (float64, bool, error) { calls++; return 0, false, nil }); err != nil {
		t.Fatal(err)
	}
	if calls != 9 {
		t.Errorf("callback called %d times, want 9", calls)
	}
}

func TestIterateMissingBand(t *testing.T) {
	e := newTestEngine(t)
	src := newTestRaster(t, 2, 2, gridAt(0, 0), PT8BUI, nil, []float64{4})

	out, err := e.Iterate([]IteratorInput{
		{Raster: src, BandNum: 1},
		{Raster: src, BandNum: 2},
	}, IterateOptions{Extent: ExtentFirst, PixelType: PT8BUI},
		func(w *PixelWindow) (float64, bool, error) {
			if !w.Inputs[1].Absent || !w.Inputs[1].NoData {
				t.Errorf("missing band input = %+v, want absent", w.Inputs[1])
			}
			return sumValid(w)
		})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := pixelAt(t, out, 1, 1, 1); v != 4 {
		t.Errorf("pixel = %g, want 4", v)
	}
}

func TestIterateEmptyResult(t *testing.T) {
	e := newTestEngine(t)
	a := newTestRaster(t, 2, 2, gridAt(0, 0), PT8BUI, nil, []float64{1})
	b := newTestRaster(t, 2, 2, gridAt(9, 9), PT8BUI, nil, []float64{1})
	out, err := e.Iterate([]IteratorInput{{Raster: a, BandNum: 1}, {Raster: b, BandNum: 1}},
		IterateOptions{Extent: ExtentIntersection, PixelType: PT8BUI},
		func(*PixelWindow) (float64, bool, error) {
			t.Error("callback must not run for an empty extent")
			return 0, false, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if !out.IsEmpty() || out.NumBands() != 0 {
		t.Errorf("expected empty raster, got %dx%d with %d bands", out.Width(), out.Height(), out.NumBands())
	}
}

func TestIterateErrors(t *testing.T) {
	e := newTestEngine(t)
	src := newTestRaster(t, 4, 4, gridAt(0, 0), PT8BUI, nil, []float64{1})
	pass := func(*PixelWindow) (float64, bool, error) { return 0, false, nil }

	tests := []struct {
		name    string
		e       *Engine
		inputs  []IteratorInput
		opts    IterateOptions
		fn      PixelFunc
		wantErr error
	}{
		{"no inputs", e, nil, IterateOptions{PixelType: PT8BUI}, pass, ErrInvalidBand},
		{"nil raster", e, []IteratorInput{{BandNum: 1}}, IterateOptions{PixelType: PT8BUI}, pass, ErrInvalidBand},
		{"nil func", e, []IteratorInput{{Raster: src, BandNum: 1}}, IterateOptions{PixelType: PT8BUI}, nil, ErrCallbackFailure},
		{"bad pixel type", e, []IteratorInput{{Raster: src, BandNum: 1}}, IterateOptions{PixelType: PixelType(-1)}, pass, ErrUnsupportedPixelType},
		{"misaligned", e, []IteratorInput{{Raster: src, BandNum: 1},
			{Raster: newTestRaster(t, 2, 2, gridAt(0.25, 0), PT8BUI, nil, nil), BandNum: 1}},
			IterateOptions{Extent: ExtentUnion, PixelType: PT8BUI}, pass, ErrMisalignedRasters},
		{"allocation", newTestEngine(t, WithAllocator(HeapAllocator{MaxBytes: 8})),
			[]IteratorInput{{Raster: src, BandNum: 1}}, IterateOptions{PixelType: PT64BF}, pass, ErrAllocationFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.e.Iterate(tt.inputs, tt.opts, tt.fn)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if out != nil {
				t.Error("failed iteration should not return a raster")
			}
		})
	}
}

func TestIterateOutputClamped(t *testing.T) {
	e := newTestEngine(t)
	src := newTestRaster(t, 1, 1, gridAt(0, 0), PT8BUI, nil, []float64{200})
	out, err := e.Iterate([]IteratorInput{{Raster: src, BandNum: 1}},
		IterateOptions{Extent: ExtentFirst, PixelType: PT8BUI},
		func(w *PixelWindow) (float64, bool, error) { return w.Inputs[0].Value * 2, false, nil })
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := pixelAt(t, out, 1, 0, 0); v != 255 {
		t.Errorf("pixel = %g, want 255", v)
	}
}
