// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

// Package config 提供 interiorflow 的启动配置。
//
// 加载顺序为默认值、YAML 文件、INTERIORFLOW_* 环境变量，最后运行验证器。
// 各组件的配置结构（selector.Config、admission.Config、engine 后端配置等）
// 直接嵌入 Config，环境变量名由 env tag 逐级拼接，例如
// INTERIORFLOW_ENGINES_FLUX_API_KEY。
package config
