package Gorast

import (
	"fmt"
	"io"
	"log/slog"
)

// Allocator 像素缓冲区分配器
type Allocator interface {
	Alloc(size int) ([]byte, error)
}

// HeapAllocator 基于Go堆的分配器，MaxBytes>0 时限制单次分配大小
type HeapAllocator struct {
	MaxBytes int64
}

// Alloc 分配 size 字节
func (a HeapAllocator) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrAllocationFailure, size)
	}
	if a.MaxBytes > 0 && int64(size) > a.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrAllocationFailure, size, a.MaxBytes)
	}
	return make([]byte, size), nil
}

// Engine 栅格代数引擎上下文，持有配置、日志、分配器与栅格化器
type Engine struct {
	cfg        Config
	logger     *slog.Logger
	alloc      Allocator
	rasterizer Rasterizer
}

// EngineOption 引擎选项
type EngineOption func(*Engine)

// WithLogger 设置日志器，nil 表示静默
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l == nil {
			l = NewNopLogger()
		}
		e.logger = l
	}
}

// WithAllocator 设置缓冲区分配器
func WithAllocator(a Allocator) EngineOption {
	return func(e *Engine) {
		if a != nil {
			e.alloc = a
		}
	}
}

// WithRasterizer 设置几何栅格化器
func WithRasterizer(r Rasterizer) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.rasterizer = r
		}
	}
}

// NewEngine 创建引擎，cfg 为 nil 时使用默认配置
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        c,
		logger:     NewNopLogger(),
		alloc:      HeapAllocator{MaxBytes: c.MaxAllocBytes},
		rasterizer: VectorRasterizer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config 返回引擎配置副本
func (e *Engine) Config() Config {
	return e.cfg
}

// Logger 返回引擎日志器
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// Rasterizer 返回引擎使用的栅格化器
func (e *Engine) Rasterizer() Rasterizer {
	return e.rasterizer
}

// NewLoggerFromConfig 按配置中的日志级别创建文本日志器
func NewLoggerFromConfig(cfg *Config, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if cfg != nil {
		if l, ok := parseLogLevel(cfg.LogLevel); ok {
			level = l
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newBand 通过引擎分配器创建内存波段
func (e *Engine) newBand(pt PixelType, width, height int, hasNoData bool, noData float64) (*Band, error) {
	if !pt.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPixelType, int(pt))
	}
	size := width * height * pt.Size()
	buf, err := e.alloc.Alloc(size)
	if err != nil {
		return nil, err
	}
	if len(buf) != size {
		return nil, fmt.Errorf("%w: allocator returned %d bytes, want %d", ErrAllocationFailure, len(buf), size)
	}
	b := &Band{
		pixType: pt,
		width:   width,
		height:  height,
		data:    buf,
	}
	if hasNoData {
		b.SetNoData(noData, false)
	}
	return b, nil
}
