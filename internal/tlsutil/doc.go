// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

// Package tlsutil 集中提供 TLS 设置：托管引擎的 HTTP 客户端、
// Redis 连接与运维端口共用 TLS 1.2+ 与仅 AEAD 的密码套件。
package tlsutil
