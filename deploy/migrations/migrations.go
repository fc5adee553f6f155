package migrations

import "embed"

// SQL 内置轮次归档库的全部迁移脚本, 文件名前缀即版本号。
//
//go:embed *.sql
var SQL embed.FS
