// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

/*
包 database 打开用量持久化所用的 SQL 数据库并管理其连接池。

Open 根据 config.DatabaseConfig 选择 GORM 方言（postgres、mysql，
或纯 Go 的 glebarez/sqlite），应用连接池参数并 Ping 一次。
PoolManager 后台探测连接健康，结果通过 Healthy 暴露给就绪检查。
GormLogger 将 GORM 日志接入 zap，记录失败与慢查询。
*/
package database
