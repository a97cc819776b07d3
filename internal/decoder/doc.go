// Package decoder 定义资源字节到内存 Asset 的解码接口，并提供统一的注册入口。
//
// 解码器作者需要：
//   1. 在 internal/decoder/<key>/ 目录下实现 Decoder 接口；
//   2. 通过本包暴露的 MustRegister 在 init() 中注册解码器元数据；
//   3. 保证 Asset 持有的原始字节与输入一致，便于磁盘层与内存层互相校验。
//
// 配置中的 [[Origin]].Decoder 字段通过 Resolve 查找对应实现。
package decoder
