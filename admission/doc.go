// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

/*
包 admission 提供按调用方与 UTC 日计数的准入控制。

# 决策顺序

 1. now < blocked_until           → 拒绝（blocked）
 2. 跨日                           → 计数清零，解除封禁
 3. count ≥ 档位日限额             → 封禁 block_duration，拒绝（quota_exceeded）
 4. 全局每分钟/每小时上限已满       → 拒绝（high_demand），不扣调用方额度
 5. count++，记录全局时间戳，放行

# 并发

每个 Controller 一把互斥锁保护记录缓存与全局时间戳列表。存储读写都在锁外：
首次访问时先加载再双重检查插入，决策后对快照持久化。后台按固定周期清理
长期未访问的记录与过期时间戳，每轮只加锁一次。

# 持久化

UsageStore 有内存、Redis（go-redis v9 哈希）与 GORM（usage_records 表）三种实现。
存储失败默认降级为纯内存计数；配置 FailClosed 后首次加载失败直接拒绝。
*/
package admission
