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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 任务状态
const (
	TaskRunning = 0
	TaskDone    = 1
	TaskFailed  = 2
)

// RasterRecord 栅格存储记录，Data 为WKB栅格编码
type RasterRecord struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Name      string         `gorm:"uniqueIndex;not null" json:"name"`
	SRID      int            `json:"srid"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	NumBands  int            `json:"num_bands"`
	Meta      datatypes.JSON `json:"meta"`
	Data      []byte         `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
}

// AlgebraTask 栅格代数任务记录
type AlgebraTask struct {
	TaskID    string         `gorm:"primaryKey;size:36" json:"task_id"`
	Operation string         `json:"operation"`
	Args      datatypes.JSON `json:"args"`
	Status    int            `json:"status"`
	ResultID  string         `json:"result_id"`
	Error     string         `json:"error"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// rasterMeta 记录中的波段摘要
type rasterMeta struct {
	GeoTransform [6]float64 `json:"geotransform"`
	Bands        []bandMeta `json:"bands"`
}

type bandMeta struct {
	PixelType string   `json:"pixel_type"`
	NoData    *float64 `json:"nodata,omitempty"`
	External  string   `json:"external,omitempty"`
}

// RasterStore 基于 gorm + SQLite 的栅格目录
type RasterStore struct {
	db *gorm.DB
}

// OpenRasterStore 打开（或创建）栅格库并自动迁移表结构，dsn 可以是文件路径或 ":memory:"
func OpenRasterStore(dsn string) (*RasterStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open raster store: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	// SQLite 单写者；":memory:" 每个连接是独立数据库
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&RasterRecord{}, &AlgebraTask{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate raster store: %w", err)
	}
	return &RasterStore{db: db}, nil
}

// OpenStore 按引擎配置中的 store_dsn 打开栅格库
func (e *Engine) OpenStore() (*RasterStore, error) {
	dsn := e.cfg.StoreDSN
	if dsn == "" {
		dsn = DefaultConfig().StoreDSN
	}
	s, err := OpenRasterStore(dsn)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("栅格库已打开", "dsn", dsn)
	return s, nil
}

// WithContext 返回绑定 ctx 的存储句柄
func (s *RasterStore) WithContext(ctx context.Context) *RasterStore {
	return &RasterStore{db: s.db.WithContext(ctx)}
}

// Close 关闭底层连接
func (s *RasterStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func newRecord(name string, r *Raster) (*RasterRecord, error) {
	data, err := Serialize(r)
	if err != nil {
		return nil, err
	}
	meta := rasterMeta{GeoTransform: r.gt.GDAL()}
	for _, b := range r.bands {
		bm := bandMeta{PixelType: b.pixType.String()}
		if b.hasNoData {
			nd := b.noData
			bm.NoData = &nd
		}
		if b.external != nil {
			bm.External = b.external.Path
		}
		meta.Bands = append(meta.Bands, bm)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode raster meta: %w", err)
	}
	return &RasterRecord{
		ID:       uuid.New().String(),
		Name:     name,
		SRID:     r.srid,
		Width:    r.width,
		Height:   r.height,
		NumBands: len(r.bands),
		Meta:     datatypes.JSON(metaJSON),
		Data:     data,
	}, nil
}

// Save 保存栅格，名称重复时返回 ErrDuplicateRaster
func (s *RasterStore) Save(name string, r *Raster) (string, error) {
	if r == nil {
		return "", fmt.Errorf("%w: nil raster", ErrInvalidBand)
	}
	record, err := newRecord(name, r)
	if err != nil {
		return "", err
	}
	if err := s.db.Create(record).Error; err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: %q", ErrDuplicateRaster, name)
		}
		return "", fmt.Errorf("failed to save raster %q: %w", name, err)
	}
	return record.ID, nil
}

// Load 按ID读取并解码栅格
func (s *RasterStore) Load(id string) (*Raster, error) {
	var record RasterRecord
	if err := s.db.Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRasterNotFound, id)
		}
		return nil, fmt.Errorf("failed to load raster %s: %w", id, err)
	}
	r, err := Deserialize(record.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode raster %s: %w", id, err)
	}
	return r, nil
}

// Delete 删除栅格记录
func (s *RasterStore) Delete(id string) error {
	res := s.db.Where("id = ?", id).Delete(&RasterRecord{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete raster %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRasterNotFound, id)
	}
	return nil
}

// List 列出全部栅格记录（不含像素数据），按创建时间排序
func (s *RasterStore) List() ([]RasterRecord, error) {
	var records []RasterRecord
	err := s.db.Omit("data").Order("created_at, name").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rasters: %w", err)
	}
	return records, nil
}

// GetTask 查询任务记录
func (s *RasterStore) GetTask(taskID string) (*AlgebraTask, error) {
	var task AlgebraTask
	if err := s.db.Where("task_id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %s not found: %w", taskID, err)
		}
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	return &task, nil
}

// unionTaskArgs 任务参数
type unionTaskArgs struct {
	IDs  []string       `json:"ids"`
	Args []unionArgJSON `json:"args"`
}

type unionArgJSON struct {
	BandNum int    `json:"band"`
	Type    string `json:"type"`
}

// UnionByIDs 逐个读取已存储的栅格送入联合聚合器，结果以 "union-<任务ID>" 保存。
// 任务记录的状态在结束时更新为完成或失败，返回最终任务记录。
func (s *RasterStore) UnionByIDs(e *Engine, ids []string, args ...UnionArg) (*AlgebraTask, error) {
	taskID := uuid.New().String()
	ta := unionTaskArgs{IDs: ids}
	for _, a := range args {
		ta.Args = append(ta.Args, unionArgJSON{BandNum: a.BandNum, Type: a.Type.String()})
	}
	argsJSON, err := json.Marshal(ta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode union task args: %w", err)
	}
	task := &AlgebraTask{
		TaskID:    taskID,
		Operation: "union",
		Args:      datatypes.JSON(argsJSON),
		Status:    TaskRunning,
	}
	if err := s.db.Create(task).Error; err != nil {
		return nil, fmt.Errorf("failed to create union task: %w", err)
	}
	e.logger.Info("联合任务开始", "task", taskID, "rasters", len(ids))

	resultID, runErr := s.runUnion(e, taskID, ids, args)

	updates := map[string]any{"status": TaskDone, "result_id": resultID, "error": ""}
	if runErr != nil {
		updates = map[string]any{"status": TaskFailed, "result_id": "", "error": runErr.Error()}
		e.logger.Warn("联合任务失败", "task", taskID, "error", runErr)
	} else {
		e.logger.Info("联合任务完成", "task", taskID, "result", resultID)
	}
	if err := s.db.Model(&AlgebraTask{}).Where("task_id = ?", taskID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", taskID, err)
	}
	final, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	return final, runErr
}

func (s *RasterStore) runUnion(e *Engine, taskID string, ids []string, args []UnionArg) (string, error) {
	agg, err := e.NewUnionAggregator(args...)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		r, err := s.Load(id)
		if err != nil {
			agg.Reset()
			return "", err
		}
		err = agg.Add(r)
		r.Destroy()
		if err != nil {
			agg.Reset()
			return "", fmt.Errorf("failed to add raster %s: %w", id, err)
		}
	}
	result, err := agg.Finalize()
	if err != nil {
		return "", err
	}
	defer result.Destroy()
	return s.Save("union-"+taskID, result)
}
