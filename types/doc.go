// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

/*
Package types 提供编排核心的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 engine、selector、
admission、orchestrator 等上层模块提供统一的错误契约与上下文键。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、
    Provider、RetryAfter 标记
  - PublicMessage    — 面向调用方的安全错误文本，不暴露服务商原始报错
  - WithRequestID / WithIdentity — 请求级上下文传播
*/
package types
