package Gorast

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *RasterStore {
	t.Helper()
	s, err := OpenRasterStore(":memory:")
	if err != nil {
		t.Fatalf("OpenRasterStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRasterStoreSaveLoad(t *testing.T) {
	s := newTestStore(t)
	r := newTestRaster(t, 3, 2, GeoTransform{ScaleX: 10, ScaleY: -10, OriginX: 100, OriginY: 200}, PT16BSI, ptr(-1),
		[]float64{1, 2, 3, -1, 5, 6})
	r.SetSRID(3857)

	id, err := s.Save("dem", r)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(id) != 36 {
		t.Errorf("id = %q, want uuid", id)
	}

	got, err := s.WithContext(context.Background()).Load(id)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.SRID() != 3857 || got.GeoTransform() != r.GeoTransform() || got.Width() != 3 {
		t.Errorf("loaded header srid %d gt %+v", got.SRID(), got.GeoTransform())
	}
	if v, isNoData := pixelAt(t, got, 1, 2, 1); v != 6 || isNoData {
		t.Errorf("(2,1) = %g nodata=%v", v, isNoData)
	}
	if _, isNoData := pixelAt(t, got, 1, 0, 1); !isNoData {
		t.Error("(0,1) should be nodata")
	}

	if _, err := s.Save("dem", r); !errors.Is(err, ErrDuplicateRaster) {
		t.Errorf("duplicate Save() error = %v", err)
	}
	if _, err := s.Load("missing"); !errors.Is(err, ErrRasterNotFound) {
		t.Errorf("Load(missing) error = %v", err)
	}
	if _, err := s.Save("nil", nil); err == nil {
		t.Error("Save(nil) should fail")
	}
}

func TestRasterStoreListDelete(t *testing.T) {
	s := newTestStore(t)
	a := newTestRaster(t, 2, 2, gridAt(0, 0), PT8BUI, ptr(0), []float64{1})
	addTestBand(t, a, PT32BF, nil, []float64{0.5})
	idA, err := s.Save("a", a)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save("b", newTestRaster(t, 1, 1, gridAt(5, 5), PT8BUI, nil, []float64{1})); err != nil {
		t.Fatal(err)
	}

	records, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("List() = %d records, want 2", len(records))
	}
	var rec *RasterRecord
	for i := range records {
		if records[i].Data != nil {
			t.Errorf("record %s carries pixel data", records[i].Name)
		}
		if records[i].ID == idA {
			rec = &records[i]
		}
	}
	if rec == nil || rec.Name != "a" || rec.NumBands != 2 || rec.Width != 2 {
		t.Fatalf("record a = %+v", rec)
	}
	var meta rasterMeta
	if err := json.Unmarshal(rec.Meta, &meta); err != nil {
		t.Fatal(err)
	}
	if len(meta.Bands) != 2 || meta.Bands[0].PixelType != "8BUI" || meta.Bands[0].NoData == nil || meta.Bands[1].NoData != nil {
		t.Errorf("meta = %+v", meta)
	}
	if meta.GeoTransform != a.GeoTransform().GDAL() {
		t.Errorf("meta geotransform = %v", meta.GeoTransform)
	}

	if err := s.Delete(idA); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(idA); !errors.Is(err, ErrRasterNotFound) {
		t.Errorf("second Delete() error = %v", err)
	}
	if records, _ := s.List(); len(records) != 1 {
		t.Errorf("List() after delete = %d records", len(records))
	}
}

func TestRasterStoreFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rasters.db")
	s, err := OpenRasterStore(path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Save("one", newTestRaster(t, 1, 1, gridAt(0, 0), PT8BUI, nil, []float64{42}))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenRasterStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	r, err := s.Load(id)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := pixelAt(t, r, 1, 0, 0); v != 42 {
		t.Errorf("pixel = %g, want 42", v)
	}
}

func TestUnionByIDs(t *testing.T) {
	e := newTestEngine(t)
	s := newTestStore(t)
	idA, err := s.Save("a", newTestRaster(t, 2, 2, gridAt(0, 0), PT16BSI, ptr(-1), []float64{3}))
	if err != nil {
		t.Fatal(err)
	}
	idB, err := s.Save("b", newTestRaster(t, 2, 2, gridAt(1, 0), PT16BSI, ptr(-1), []float64{4}))
	if err != nil {
		t.Fatal(err)
	}

	task, err := s.UnionByIDs(e, []string{idA, idB}, UnionArg{BandNum: 1, Type: UnionSum})
	if err != nil {
		t.Fatalf("UnionByIDs() error = %v", err)
	}
	if task.Status != TaskDone || task.Operation != "union" || task.ResultID == "" || task.Error != "" {
		t.Fatalf("task = %+v", task)
	}
	var args unionTaskArgs
	if err := json.Unmarshal(task.Args, &args); err != nil {
		t.Fatal(err)
	}
	if len(args.IDs) != 2 || len(args.Args) != 1 || args.Args[0].Type != "SUM" {
		t.Errorf("task args = %+v", args)
	}

	out, err := s.Load(task.ResultID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Width() != 3 || out.Height() != 2 {
		t.Fatalf("result size = %dx%d, want 3x2", out.Width(), out.Height())
	}
	for col, want := range []float64{3, 7, 4} {
		if v, isNoData := pixelAt(t, out, 1, col, 0); v != want || isNoData {
			t.Errorf("(%d,0) = %g nodata=%v, want %g", col, v, isNoData, want)
		}
	}

	records, _ := s.List()
	found := false
	for _, r := range records {
		if r.ID == task.ResultID && r.Name == "union-"+task.TaskID {
			found = true
		}
	}
	if !found {
		t.Error("result raster not listed under union-<task>")
	}
}

func TestUnionByIDsFailure(t *testing.T) {
	e := newTestEngine(t)
	s := newTestStore(t)
	idA, err := s.Save("a", newTestRaster(t, 2, 2, gridAt(0, 0), PT8BUI, nil, []float64{1}))
	if err != nil {
		t.Fatal(err)
	}

	task, err := s.UnionByIDs(e, []string{idA, "missing"})
	if !errors.Is(err, ErrRasterNotFound) {
		t.Fatalf("UnionByIDs() error = %v", err)
	}
	if task == nil || task.Status != TaskFailed || task.Error == "" || task.ResultID != "" {
		t.Fatalf("task = %+v", task)
	}
	stored, err := s.GetTask(task.TaskID)
	if err != nil || stored.Status != TaskFailed {
		t.Fatalf("GetTask() = %+v, %v", stored, err)
	}
	var args unionTaskArgs
	if err := json.Unmarshal(stored.Args, &args); err != nil || len(args.IDs) != 2 || args.IDs[1] != "missing" {
		t.Errorf("failed task args = %s (%v)", stored.Args, err)
	}
	if _, err := s.GetTask("nope"); err == nil {
		t.Error("GetTask(nope) should fail")
	}
	if records, _ := s.List(); len(records) != 1 {
		t.Errorf("failed union stored %d rasters", len(records))
	}
}
