package rag

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	applog "ragchat/internal/platform/log"
)

// Loader 从文档目录递归加载并解析所有受支持格式的文件。
// 单个文件解析失败只记日志并跳过，不会中断整批加载。
type Loader struct {
	registry *ParserRegistry
}

func NewLoader(registry *ParserRegistry) *Loader {
	if registry == nil {
		registry = NewParserRegistry()
	}
	return &Loader{registry: registry}
}

// Load 遍历 dir 下的全部文件并返回解析后的文档，按路径排序保证结果稳定。
// 目录不存在或为空时返回空切片（不是错误）。
func (l *Loader) Load(dir string) ([]Document, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat documents dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("documents path %q is not a directory", dir)
	}

	var docs []Document
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			applog.Warn("skip unreadable path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		parser, ok := l.registry.Lookup(path)
		if !ok {
			applog.Debug("skip unsupported file", "path", path)
			return nil
		}

		content, err := parser.Parse(path)
		if err != nil {
			applog.Warn("skip unparsable file", "path", path, "error", err)
			return nil
		}

		content = NormalizeText(content)
		if content == "" {
			applog.Debug("skip empty file", "path", path)
			return nil
		}

		docs = append(docs, Document{
			Source:  path,
			Content: content,
			Metadata: map[string]string{
				"filename": d.Name(),
				"format":   strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk documents dir: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Source < docs[j].Source })
	applog.Info("documents loaded", "dir", dir, "count", len(docs))
	return docs, nil
}

var (
	reCRLF      = regexp.MustCompile(`\r\n?`)
	reBlankRuns = regexp.MustCompile(`\n{3,}`)
	reSpaceRuns = regexp.MustCompile(`[ \t]{2,}`)
	reLineEdges = regexp.MustCompile(`(?m)[ \t]+$`)
)

// NormalizeText 统一换行符、压缩连续空白并去掉首尾空白
func NormalizeText(text string) string {
	text = reCRLF.ReplaceAllString(text, "\n")
	text = reLineEdges.ReplaceAllString(text, "")
	text = reSpaceRuns.ReplaceAllString(text, " ")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
