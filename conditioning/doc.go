// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

/*
Package conditioning 从房间照片中提取结构条件图（边缘图）。

流水线：解码 → 灰度 → 等比缩放并居中补边 → 基于中位数的自适应阈值 →
Canny 边缘检测 → 形态学闭运算 + 面积开运算去噪 → 单通道 PNG。

边缘只在内容区域内计算，补边区域永远不会产生边缘。相同的输入字节与
目标分辨率总是得到逐字节相同的输出。

边缘像素占比低于 1% 或高于 50% 时返回 CONDITIONING_QUALITY 错误，
表示源照片几乎空白或噪声过多。
*/
package conditioning
