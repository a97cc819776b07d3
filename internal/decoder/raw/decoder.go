// Package raw 注册直通解码器，适用于非图片类的二进制资源。
package raw

import "github.com/any-hub/any-asset/internal/decoder"

// Key 是直通解码器在注册表中的键。
const Key = "raw"

func init() {
	decoder.MustRegister(decoder.Metadata{
		Key:         Key,
		Description: "Keeps bytes as-is without decoding",
		MediaTypes:  []string{"application/octet-stream"},
		Decoder:     decoder.DecoderFunc(Decode),
	})
}

// Decode 原样保留字节。
func Decode(data []byte) (*decoder.Asset, error) {
	return decoder.NewAsset(data, nil, Key), nil
}
