package Gorast

import (
	"errors"
	"fmt"
)

// 错误类型
var (
	ErrSingularTransform    = errors.New("gorast: singular geotransform")
	ErrMisalignedRasters    = errors.New("gorast: rasters are not aligned")
	ErrUnsupportedPixelType = errors.New("gorast: unsupported pixel type")
	ErrCallbackFailure      = errors.New("gorast: pixel callback failed")
	ErrAllocationFailure    = errors.New("gorast: allocation failed")
	ErrInvalidBand          = errors.New("gorast: invalid band")
	ErrInvalidExtent        = errors.New("gorast: invalid extent")
	ErrPixelOutOfRange      = errors.New("gorast: pixel out of range")
	ErrInvalidEncoding      = errors.New("gorast: invalid raster encoding")
	ErrNoExternalReader     = errors.New("gorast: no reader for external band")
	ErrDuplicateRaster      = errors.New("gorast: raster name already exists")
	ErrRasterNotFound       = errors.New("gorast: raster not found")
)

// MisalignedError 栅格未对齐错误，携带具体原因
type MisalignedError struct {
	Reason string
}

func (e *MisalignedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMisalignedRasters, e.Reason)
}

func (e *MisalignedError) Unwrap() error {
	return ErrMisalignedRasters
}
