// Package migrations 内嵌归档表的 SQL 脚本, 二进制不依赖工作目录。
package migrations

import "embed"

// FS 所有 *.sql, 文件名即版本号 (按字典序执行)。
//
//go:embed *.sql
var FS embed.FS
