package migrations

import "embed"

// Files 暴露编排状态库的全部 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
