package decoder

import (
	"errors"
	"image"
	"image/draw"
)

// Decoder 将原始字节解码为 Asset，网络回源与磁盘命中两条路径共用。
type Decoder interface {
	Decode(data []byte) (*Asset, error)
}

// DecoderFunc 允许直接使用函数实现 Decoder。
type DecoderFunc func(data []byte) (*Asset, error)

// Decode makes DecoderFunc satisfy Decoder.
func (f DecoderFunc) Decode(data []byte) (*Asset, error) {
	return f(data)
}

// ErrEmptyData 表示待解码字节为空。
var ErrEmptyData = errors.New("decoder: empty data")

// Asset 是解码后的内存资源。字段不对外暴露，调用方拿到的引用无法改写缓存条目。
type Asset struct {
	data   []byte
	img    image.Image
	format string
}

// NewAsset 复制 data 构建 Asset；img 可以为空（非图片资源）。
func NewAsset(data []byte, img image.Image, format string) *Asset {
	return &Asset{
		data:   append([]byte(nil), data...),
		img:    img,
		format: format,
	}
}

// Bytes 返回原始字节的副本。
func (a *Asset) Bytes() []byte {
	if a == nil {
		return nil
	}
	return append([]byte(nil), a.data...)
}

// Image 返回解码后图片的副本，改写返回值不会影响缓存中的条目。
func (a *Asset) Image() image.Image {
	if a == nil || a.img == nil {
		return nil
	}
	return cloneImage(a.img)
}

func cloneImage(src image.Image) image.Image {
	switch img := src.(type) {
	case *image.RGBA:
		out := *img
		out.Pix = append([]uint8(nil), img.Pix...)
		return &out
	case *image.NRGBA:
		out := *img
		out.Pix = append([]uint8(nil), img.Pix...)
		return &out
	case *image.Gray:
		out := *img
		out.Pix = append([]uint8(nil), img.Pix...)
		return &out
	case *image.Paletted:
		out := *img
		out.Pix = append([]uint8(nil), img.Pix...)
		out.Palette = append(img.Palette[:0:0], img.Palette...)
		return &out
	case *image.YCbCr:
		out := *img
		out.Y = append([]uint8(nil), img.Y...)
		out.Cb = append([]uint8(nil), img.Cb...)
		out.Cr = append([]uint8(nil), img.Cr...)
		return &out
	}
	bounds := src.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, src, bounds.Min, draw.Src)
	return out
}

// Format 返回解码器识别出的格式，例如 png、jpeg 或 raw。
func (a *Asset) Format() string {
	if a == nil {
		return ""
	}
	return a.format
}

// Size 返回原始字节长度，内存层以此作为条目成本。
func (a *Asset) Size() int64 {
	if a == nil {
		return 0
	}
	return int64(len(a.data))
}
