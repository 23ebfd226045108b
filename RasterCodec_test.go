package Gorast

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestSerializeRoundTrip(t *testing.T) {
	gt := GeoTransform{ScaleX: 30, ScaleY: -30, SkewX: 0.5, SkewY: -0.25, OriginX: 500000, OriginY: 4200000}
	r, err := NewRaster(3, 2, gt, 32650)
	if err != nil {
		t.Fatal(err)
	}
	addTestBand(t, r, PT16BSI, ptr(-9999), []float64{1, -2, 300, -9999, 5, 32767})
	addTestBand(t, r, PT32BF, nil, []float64{0.5, 1.5, 2.5, 3.5, 4.5, 5.5})
	addTestBand(t, r, PT8BUI, ptr(0), []float64{0})
	addTestBand(t, r, PT64BF, ptr(-1e30), []float64{math.Pi})

	raw, err := Serialize(r)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if raw[0] != 1 {
		t.Errorf("endian flag = %d, want 1", raw[0])
	}
	got, err := Deserialize(raw)
	if err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}

	if got.Width() != 3 || got.Height() != 2 || got.SRID() != 32650 || got.GeoTransform() != gt {
		t.Errorf("header = %dx%d srid %d gt %+v", got.Width(), got.Height(), got.SRID(), got.GeoTransform())
	}
	if got.NumBands() != r.NumBands() {
		t.Fatalf("NumBands() = %d, want %d", got.NumBands(), r.NumBands())
	}
	for n := 1; n <= r.NumBands(); n++ {
		want, _ := r.GetBand(n)
		have, _ := got.GetBand(n)
		if want.Info() != have.Info() {
			t.Errorf("band %d info = %+v, want %+v", n, have.Info(), want.Info())
		}
		for row := 0; row < 2; row++ {
			for col := 0; col < 3; col++ {
				wv, wn, _ := want.GetPixel(col, row)
				hv, hn, _ := have.GetPixel(col, row)
				if wv != hv || wn != hn {
					t.Errorf("band %d (%d,%d) = %g/%v, want %g/%v", n, col, row, hv, hn, wv, wn)
				}
			}
		}
	}
	if b, _ := got.GetBand(3); !b.IsWholeBandNoData() {
		t.Error("whole-band nodata flag lost")
	}

	again, err := Serialize(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(raw) {
		t.Error("re-serialization is not byte identical")
	}
}

func TestSerializeHex(t *testing.T) {
	r := newTestRaster(t, 1, 1, gridAt(0, 0), PT8BUI, nil, []float64{171})
	s, err := SerializeHex(r)
	if err != nil {
		t.Fatal(err)
	}
	if s != strings.ToUpper(s) || !strings.HasPrefix(s, "01000001") || !strings.HasSuffix(s, "0400AB") {
		t.Errorf("SerializeHex() = %s", s)
	}
	got, err := DeserializeHex(" " + strings.ToLower(s) + "\n")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := pixelAt(t, got, 1, 0, 0); v != 171 {
		t.Errorf("pixel = %g, want 171", v)
	}
	if _, err := DeserializeHex("0G"); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("bad hex error = %v", err)
	}
}

// bigEndianRaster 手工构造的大端 2x1 16BSI 栅格，NoData为-1
func bigEndianRaster() []byte {
	be := binary.BigEndian
	buf := []byte{0}
	buf = be.AppendUint16(buf, 0)
	buf = be.AppendUint16(buf, 1)
	for _, v := range []float64{2, -2, 10, 20, 0, 0} {
		buf = be.AppendUint64(buf, math.Float64bits(v))
	}
	buf = be.AppendUint32(buf, 4326)
	buf = be.AppendUint16(buf, 2)
	buf = be.AppendUint16(buf, 1)
	buf = append(buf, byte(PT16BSI)|bandFlagNoData)
	buf = be.AppendUint16(buf, 0xFFFF)
	buf = be.AppendUint16(buf, 258)
	buf = be.AppendUint16(buf, 0xFFFF)
	return buf
}

func TestDeserializeBigEndian(t *testing.T) {
	r, err := Deserialize(bigEndianRaster())
	if err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if r.SRID() != 4326 || r.GeoTransform().OriginX != 10 || r.GeoTransform().ScaleY != -2 {
		t.Errorf("header srid %d gt %+v", r.SRID(), r.GeoTransform())
	}
	b, _ := r.GetBand(1)
	if nd, err := b.GetNoData(); err != nil || nd != -1 {
		t.Errorf("GetNoData() = %g, %v", nd, err)
	}
	if v, isNoData := pixelAt(t, r, 1, 0, 0); v != 258 || isNoData {
		t.Errorf("(0,0) = %g nodata=%v, want 258", v, isNoData)
	}
	if _, isNoData := pixelAt(t, r, 1, 1, 0); !isNoData {
		t.Error("(1,0) should be nodata")
	}

	// 重新编码统一为小端
	le, err := Serialize(r)
	if err != nil {
		t.Fatal(err)
	}
	if le[0] != 1 || binary.LittleEndian.Uint16(le[len(le)-4:]) != 258 {
		t.Errorf("little endian pixels = % x", le[len(le)-4:])
	}
}

func TestDeserializeErrors(t *testing.T) {
	valid := bigEndianRaster()
	mutate := func(f func(b []byte) []byte) []byte {
		c := append([]byte(nil), valid...)
		return f(c)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad endian", mutate(func(b []byte) []byte { b[0] = 7; return b })},
		{"bad version", mutate(func(b []byte) []byte { b[2] = 1; return b })},
		{"truncated header", valid[:20]},
		{"truncated pixels", valid[:len(valid)-1]},
		{"trailing byte", append(append([]byte(nil), valid...), 0)},
		{"unknown pixel type", mutate(func(b []byte) []byte { b[wkbRasterHeaderSize] = 0x0F; return b })},
		{"singular transform", mutate(func(b []byte) []byte {
			binary.BigEndian.PutUint64(b[5:], math.Float64bits(0))
			return b
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Deserialize(tt.data); !errors.Is(err, ErrInvalidEncoding) {
				t.Errorf("Deserialize() error = %v, want ErrInvalidEncoding", err)
			}
		})
	}
}

func TestSerializeExternalBand(t *testing.T) {
	r, err := NewRaster(4, 4, gridAt(0, 0), 0)
	if err != nil {
		t.Fatal(err)
	}
	ext, err := NewExternalBand(PT16BUI, 4, 4, ExternalRef{BandNum: 2, Path: "/data/dem.tif"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddBand(ext); err != nil {
		t.Fatal(err)
	}

	raw, err := Serialize(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != wkbRasterHeaderSize+1+2+1+len("/data/dem.tif")+1 {
		t.Errorf("encoded size = %d", len(raw))
	}
	got, err := Deserialize(raw)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := got.GetBand(1)
	if !b.IsExternal() || *b.ExternalRef() != (ExternalRef{BandNum: 2, Path: "/data/dem.tif"}) {
		t.Errorf("external ref = %+v", b.ExternalRef())
	}

	noTerm := raw[:len(raw)-1]
	if _, err := Deserialize(noTerm); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("unterminated path error = %v", err)
	}

	ext.external.Path = "bad\x00path"
	if _, err := Serialize(r); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("NUL in path error = %v", err)
	}
	ext.external.Path = "ok"
	ext.external.BandNum = 200
	if _, err := Serialize(r); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("band number 200 error = %v", err)
	}
}

func TestSerializeEmptyAndOversized(t *testing.T) {
	empty := NewEmptyRaster(GeoTransform{}, 0)
	raw, err := Serialize(empty)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != wkbRasterHeaderSize {
		t.Errorf("empty raster size = %d, want %d", len(raw), wkbRasterHeaderSize)
	}
	got, err := Deserialize(raw)
	if err != nil || !got.IsEmpty() {
		t.Errorf("empty round trip = %v, %v", got, err)
	}

	big := &Raster{width: 70000, height: 1, gt: gridAt(0, 0)}
	if _, err := Serialize(big); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("oversized error = %v", err)
	}
	if _, err := Serialize(nil); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("nil raster error = %v", err)
	}
}
