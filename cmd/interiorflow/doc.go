// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

/*
Package main 提供 interiorflow 的可执行入口。

# 子命令

  - serve      装配全部组件，启动准入清理任务与运维端口（/healthz、/readyz、/metrics）
  - generate   读取房间照片，经准入、条件图与引擎选择生成图片并写入目录
  - condition  只运行条件边缘图提取，输出 PNG 与统计信息
  - health     查询运行中实例的 /readyz
  - version    构建信息（Version、BuildTime、GitCommit 通过 ldflags 注入）

配置来自 YAML 与 INTERIORFLOW_ 前缀的环境变量；启动时会尝试加载 .env。
用量存储按 storage.usage 选择内存、Redis 或 SQL 数据库，图片存储按
storage.artifacts 选择内存或 Redis。
*/
package main
