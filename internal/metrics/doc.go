// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖引擎生成、准入控制、
条件图提取与运维 HTTP 四个维度。

# 概述

Collector 通过 promauto.With 注册到调用方提供的 Registerer，测试中可传入
独立的 prometheus.NewRegistry()。所有指标按 namespace 隔离。

# 主要能力

  - 生成指标：按 engine/outcome 统计尝试次数、耗时、产出图片数与重试次数，
    以及最近一次健康探测结果。
  - 准入指标：按 tier/decision/reason 统计准入决策，用量存储失败计数。
  - 条件图指标：提取结果与耗时。
  - HTTP 指标：运维端口请求数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
*/
package metrics
