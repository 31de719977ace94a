// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

/*
包 server 提供 interiorflow 的运维 HTTP 端口。

NewRouter 基于 chi 注册以下路由：

  - GET /healthz        进程存活
  - GET /readyz         依赖（Redis、数据库）全部可达且至少一个引擎健康时返回 200
  - GET /metrics        Prometheus 指标
  - GET /version        构建版本
  - GET /debug/engines  各引擎调用计数

每个请求按路由模板记录到 internal/metrics 的 HTTP 指标。
Manager 负责监听、可选 TLS 与优雅关闭。
*/
package server
