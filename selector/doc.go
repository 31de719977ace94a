// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

/*
包 selector 实现引擎回退链：按配置顺序依次尝试生成引擎，直到成功或耗尽。

# 状态机

	START → TRY(engine_i) → {SUCCESS | TRY(engine_i+1)} → … → EXHAUSTED

每个引擎先 Validate 再 GenerateVariations。校验失败、返回错误或 success=false
都会前进到下一个引擎，总尝试数受 MaxAttempts 限制。条件图质量、图片解码与
取消属于请求本身的问题，立即中止而不回退。

# 可观测性

每个引擎维护尝试/成功/失败/校验拒绝计数（Stats 快照），同时写入
internal/metrics。HealthReport 并发探测全部引擎。
*/
package selector
