package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"knowledge-assistant/api"
	"knowledge-assistant/internal/config"
	"knowledge-assistant/internal/rag"
	"knowledge-assistant/internal/rag/parsers"

	"gopkg.in/yaml.v3"
)

type app struct {
	cfg      *config.Config
	services *api.Services
	out      io.Writer
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "reindex":
		return a.reindex(ctx)
	case "ingest":
		fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
		title := fs.String("title", "", "文档标题，默认取文件名")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return errors.New("需要且只需要一个文件路径")
		}
		return a.ingest(ctx, fs.Arg(0), *title)
	case "ask":
		fs := flag.NewFlagSet("ask", flag.ContinueOnError)
		k := fs.Int("k", 0, "检索条数，0 使用配置值")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.ask(ctx, strings.Join(fs.Args(), " "), *k)
	default:
		return fmt.Errorf("未知命令 %q", cmd)
	}
}

func (a *app) reindex(ctx context.Context) error {
	snap, err := a.services.Index.Rebuild(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "索引已重建: 向量 %d, 维度 %d, 跳过 %d, 第 %d 代\n",
		snap.Index.Size(), snap.Index.Dimension(), snap.Skipped, snap.Generation)
	return nil
}

func (a *app) ingest(ctx context.Context, path, title string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	text, mimeType, err := a.services.Registry.Parse(name, "", f)
	if err != nil && !errors.Is(err, parsers.ErrEmptyDocument) {
		return err
	}
	if strings.TrimSpace(title) == "" {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}

	doc := &rag.Document{
		ExternalID: "file:" + name,
		Title:      title,
		Content:    text,
		MimeType:   mimeType,
		Metadata:   map[string]interface{}{"file_name": name, "source": "kactl"},
	}
	res, err := a.services.Ingestion.IngestDocument(ctx, doc)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "已导入 %s: 文档 %s, 分块 %d, 索引大小 %d\n", name, res.DocumentID, res.Chunks, res.IndexSize)
	return nil
}

func (a *app) ask(ctx context.Context, question string, k int) error {
	if err := a.services.Index.Init(ctx); err != nil {
		return err
	}
	answer, err := a.services.QA.AnswerQuestionTopK(ctx, question, k)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, answer.Answer)
	if len(answer.Sources) > 0 {
		fmt.Fprintln(a.out, "\n来源:")
		for _, s := range answer.Sources {
			fmt.Fprintf(a.out, "  %s  %.4f\n", s.DocumentID, s.SimilarityScore)
		}
	}
	return nil
}

// printConfig 以 YAML 输出生效配置，密钥字段带 yaml:"-" 不会输出
func printConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
