package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadEnvFile 从当前目录和可执行文件目录向上查找 .env 并加载，返回加载的路径
func LoadEnvFile() string {
	path := resolveEnvPath()
	if path == "" {
		return ""
	}
	if err := godotenv.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "加载环境变量文件 %s 失败: %v\n", path, err)
		return ""
	}
	return path
}

func resolveEnvPath() string {
	for _, path := range envCandidates() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func envCandidates() []string {
	seen := make(map[string]struct{})
	var candidates []string

	traverse := func(start string) {
		dir := filepath.Clean(start)
		for i := 0; i < 8; i++ {
			if dir == "" || dir == "." || dir == string(filepath.Separator) {
				return
			}
			path := filepath.Join(dir, ".env")
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				candidates = append(candidates, path)
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				return
			}
			dir = parent
		}
	}

	if wd, err := os.Getwd(); err == nil {
		traverse(wd)
	}
	if exe, err := os.Executable(); err == nil {
		traverse(filepath.Dir(exe))
	}
	return candidates
}
