// Package migrations 内嵌 MySQL 建表脚本，文件名格式为 <version>_<name>.sql。
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Migration 是一个待执行的迁移版本。
type Migration struct {
	Version    string
	Name       string
	Statements []string
}

// All 按版本号升序返回内嵌的迁移。
func All() ([]Migration, error) {
	return load(files)
}

func load(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("列出迁移文件失败: %w", err)
	}

	out := make([]Migration, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		version, ok := versionOf(name)
		if !ok {
			return nil, fmt.Errorf("迁移文件 %s 缺少版本前缀", name)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("迁移版本 %s 重复: %s 与 %s", version, prev, name)
		}
		seen[version] = name

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := Split(string(content))
		if len(statements) == 0 {
			continue
		}
		out = append(out, Migration{Version: version, Name: name, Statements: statements})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Split 去掉以 "--" 开头的注释行后按分号切分语句。
func Split(content string) []string {
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}

	var statements []string
	for _, stmt := range strings.Split(strings.Join(kept, "\n"), ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func versionOf(name string) (string, bool) {
	base := strings.TrimSuffix(path.Base(name), ".sql")
	version, _, ok := strings.Cut(base, "_")
	if !ok || version == "" {
		return "", false
	}
	for _, r := range version {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return version, true
}
