package rag

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

// IndexArtifact 索引持久化文件，路径可以是本地路径或 afs 支持的 URL
type IndexArtifact struct {
	fs  afs.Service
	URL string
}

// NewIndexArtifact 创建索引文件访问器
func NewIndexArtifact(location string) *IndexArtifact {
	return &IndexArtifact{
		fs:  afs.New(),
		URL: normalizeLocation(location),
	}
}

// Write 写入同目录的临时文件后移动到目标位置，读者不会看到写了一半的文件
func (a *IndexArtifact) Write(ctx context.Context, idx *FlatIndex) error {
	data, err := MarshalIndex(idx)
	if err != nil {
		return fmt.Errorf("编码索引失败: %w", err)
	}

	if dir := localDir(a.URL); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建索引目录失败: %w", err)
		}
	}

	tmp := tempLocation(a.URL)
	if ok, _ := a.fs.Exists(ctx, tmp); ok {
		_ = a.fs.Delete(ctx, tmp)
	}
	if err := a.fs.Upload(ctx, tmp, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("写入索引临时文件失败: %w", err)
	}
	if err := a.fs.Move(ctx, tmp, a.URL); err != nil {
		_ = a.fs.Delete(ctx, tmp)
		return fmt.Errorf("替换索引文件失败: %w", err)
	}
	return nil
}

// tempLocation 临时文件以目标文件名结尾。afs 在扩展名不同时会把目标当作目录
func tempLocation(location string) string {
	dir, name := path.Split(location)
	return dir + ".tmp-" + name
}

// Read 读取索引文件。文件缺失或损坏时返回 IndexUnavailable 错误。
func (a *IndexArtifact) Read(ctx context.Context) (*FlatIndex, error) {
	exists, err := a.fs.Exists(ctx, a.URL)
	if err != nil {
		return nil, newError(KindIndexUnavailable, "artifact.read", err)
	}
	if !exists {
		return nil, newError(KindIndexUnavailable, "artifact.read", fmt.Errorf("索引文件不存在: %s", a.URL))
	}

	data, err := a.fs.DownloadWithURL(ctx, a.URL)
	if err != nil {
		return nil, newError(KindIndexUnavailable, "artifact.read", err)
	}
	idx, err := UnmarshalIndex(data)
	if err != nil {
		return nil, newError(KindIndexUnavailable, "artifact.read", err)
	}
	return idx, nil
}

// normalizeLocation 本地相对路径转为绝对路径
func normalizeLocation(location string) string {
	if location == "" || strings.Contains(location, "://") {
		return location
	}
	if abs, err := filepath.Abs(location); err == nil {
		return abs
	}
	return location
}

// localDir 本地路径返回所在目录，远程 URL 返回空
func localDir(location string) string {
	if strings.HasPrefix(location, "file://") {
		location = strings.TrimPrefix(location, "file://")
	} else if strings.Contains(location, "://") {
		return ""
	}
	return filepath.Dir(location)
}
