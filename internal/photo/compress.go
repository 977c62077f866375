package photo

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Options 压缩目标。零值字段取默认（证据照片上传的经验值）。
type Options struct {
	MaxBytes     int     // 字节预算
	MaxDimension int     // 宽高上限
	Quality      float64 // 初始 JPEG 质量 (0,1]
}

const (
	defaultMaxBytes     = 220_000
	defaultMaxDimension = 1280
	defaultQuality      = 0.75

	minQuality   = 0.45
	qualityStep  = 0.08
	shrinkFactor = 0.85
	maxAttempts  = 10
)

func (o Options) withDefaults() Options {
	if o.MaxBytes <= 0 {
		o.MaxBytes = defaultMaxBytes
	}
	if o.MaxDimension <= 0 {
		o.MaxDimension = defaultMaxDimension
	}
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = defaultQuality
	}
	return o
}

// Compress 把编码后的图片压到字节预算内。
// 先降质量（视觉代价比缩尺寸低，对单据照片尤其如此），质量到底后
// 缩尺寸并把质量拉回初始值，再来一轮；最多 10 次尝试。
// 到达上限仍超预算时返回最后一次的结果而不是报错——压缩永远不
// 阻塞提交。输出保证不大于输入。
func Compress(data []byte, opts Options) ([]byte, error) {
	opts = opts.withDefaults()

	// 已经达标，原样返回
	if len(data) <= opts.MaxBytes {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return data, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return data, nil
	}

	// 统一缩放因子，保证宽高都不超过 MaxDimension
	targetW, targetH := w, h
	if maxSide := max(w, h); maxSide > opts.MaxDimension {
		scale := float64(opts.MaxDimension) / float64(maxSide)
		targetW = max(1, int(float64(w)*scale+0.5))
		targetH = max(1, int(float64(h)*scale+0.5))
	}

	quality := opts.Quality
	var output []byte

	for attempt := 0; attempt < maxAttempts; attempt++ {
		resized := imaging.Resize(img, targetW, targetH, imaging.Lanczos)

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(jpegQuality(quality))); err != nil {
			return data, fmt.Errorf("failed to encode image: %w", err)
		}
		output = buf.Bytes()

		if len(output) <= opts.MaxBytes {
			return output, nil
		}

		// 先压质量，压不动了再缩尺寸并重置质量
		if quality > minQuality+0.05 {
			quality = max(minQuality, quality-qualityStep)
			continue
		}
		targetW = max(1, int(float64(targetW)*shrinkFactor+0.5))
		targetH = max(1, int(float64(targetH)*shrinkFactor+0.5))
		quality = opts.Quality
	}

	// 尽力而为：绝不返回比输入还大的结果
	if output == nil || len(output) > len(data) {
		return data, nil
	}
	return output, nil
}

// Decode 解码图片（调用方需要检查压缩结果的尺寸时使用）
func Decode(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data))
}

func jpegQuality(q float64) int {
	v := int(q*100 + 0.5)
	if v < 1 {
		v = 1
	}
	if v > 100 {
		v = 100
	}
	return v
}
