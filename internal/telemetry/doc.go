// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

// Package telemetry 初始化 OpenTelemetry 链路追踪：启用时通过 OTLP gRPC
// 导出 orchestrator 与各引擎的 span，禁用时保持全局 noop provider。
package telemetry
