// Package img 注册基于标准库 image 的解码器，支持 png/jpeg/gif。
package img

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/any-hub/any-asset/internal/decoder"
)

// Key 是图片解码器在注册表中的键。
const Key = "image"

func init() {
	decoder.MustRegister(decoder.Metadata{
		Key:         Key,
		Description: "Decodes png/jpeg/gif bytes into image.Image",
		MediaTypes:  []string{"image/png", "image/jpeg", "image/gif"},
		Decoder:     decoder.DecoderFunc(Decode),
	})
}

// Decode 解码图片字节，失败时返回带格式信息的错误。
func Decode(data []byte) (*decoder.Asset, error) {
	if len(data) == 0 {
		return nil, decoder.ErrEmptyData
	}
	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return decoder.NewAsset(data, decoded, format), nil
}
