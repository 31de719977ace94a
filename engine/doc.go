// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

/*
Package engine 定义图像生成引擎契约及其通用适配层。

# 概述

Engine 是编排层唯一依赖的边界：Validate / GenerateVariations /
HealthCheck / Describe。所有提供方差异都收敛到 Backend 接口，由
Adapter 统一负责参数校验、种子规划、扇出并发、瞬时错误重试、产物
上传与取消处理。新增提供方只需实现 Backend。

# 后端

  - LocalBackend：本地算法重着色，无网络依赖，最后兜底。
  - HostedBackend：托管 HTTP 服务，支持 flux（异步轮询）与
    stability（同步 multipart）两种载荷格式及 header / bearer / query 鉴权。
  - GeminiBackend：google.golang.org/genai SDK。
  - OpenAIBackend：github.com/sashabaranov/go-openai 图像接口。
  - DeterministicBackend：可脚本化失败的测试替身。

# 种子

显式种子优先；不足扇出数量时，剩余种子由 splitmix64(anchor+i) 推导，
anchor 为首个显式种子、请求指纹（确定性模式）或随机数。
*/
package engine
