// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

/*
包 cache 管理 interiorflow 共享的 Redis 连接。

# 概述

Manager 持有一个 go-redis 客户端，启动时 Ping 一次，之后按
HealthCheckInterval 后台探测，探测结果通过 Healthy 暴露给就绪检查。
admission.RedisStore 与 artifact.RedisStore 共用 Client() 返回的连接。

# 主要能力

  - 可选 TLS：使用 internal/tlsutil 的加固配置。
  - 统计信息：GetStats 解析 INFO 输出中的命中、未命中、内存与连接数。
  - 优雅关闭：Close 先停止后台探测再关闭连接，可重复调用。
*/
package cache
