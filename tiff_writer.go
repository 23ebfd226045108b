// Gorast/tiff_writer.go
package Gorast

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strings"

	"golang.org/x/image/tiff"
)

// BandImage 将波段线性拉伸为16位灰度图，有效像素映射到 [1, 65535]，NoData为0
func (r *Raster) BandImage(bandNum int) (*image.Gray16, error) {
	b, err := r.GetBand(bandNum)
	if err != nil {
		return nil, err
	}
	img := image.NewGray16(image.Rect(0, 0, r.width, r.height))
	stats, err := b.Statistics()
	if err != nil {
		return nil, err
	}
	if stats.Count == 0 {
		return img, nil
	}

	span := stats.Max - stats.Min
	for row := 0; row < r.height; row++ {
		for col := 0; col < r.width; col++ {
			v, isNoData, err := b.GetPixel(col, row)
			if err != nil {
				return nil, err
			}
			if isNoData || math.IsNaN(v) {
				continue
			}
			level := 65535.0
			if span > 0 {
				level = 1 + (v-stats.Min)/span*65534
			}
			off := img.PixOffset(col, row)
			g := uint16(math.Round(level))
			img.Pix[off] = uint8(g >> 8)
			img.Pix[off+1] = uint8(g)
		}
	}
	return img, nil
}

// EncodeTIFF 将单个波段编码为Deflate压缩的TIFF
func (r *Raster) EncodeTIFF(w io.Writer, bandNum int) error {
	img, err := r.BandImage(bandNum)
	if err != nil {
		return err
	}
	if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		return fmt.Errorf("failed to encode tiff: %w", err)
	}
	return nil
}

// ExportToFile 导出波段为TIFF文件，并写入同名 .tfw 坐标文件
func (r *Raster) ExportToFile(filename string, bandNum int) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filename, err)
	}
	bw := bufio.NewWriter(f)
	if err := r.EncodeTIFF(bw, bandNum); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filename, err)
	}

	worldFile := strings.TrimSuffix(filename, ".tif")
	worldFile = strings.TrimSuffix(worldFile, ".tiff") + ".tfw"
	return os.WriteFile(worldFile, []byte(r.WorldFile()), 0o644)
}

// WorldFile 生成ESRI world file 内容，坐标为左上角像元中心
func (r *Raster) WorldFile() string {
	gt := r.gt
	x, y := r.CellToWorld(0.5, 0.5)
	return fmt.Sprintf("%.12f\n%.12f\n%.12f\n%.12f\n%.12f\n%.12f\n",
		gt.ScaleX, gt.SkewY, gt.SkewX, gt.ScaleY, x, y)
}
