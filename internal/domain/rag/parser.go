package rag

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// Parser 按格式解析单个文件，返回纯文本内容
type Parser interface {
	Parse(path string) (string, error)
	Extensions() []string
}

// ParserRegistry 扩展名到解析器的映射
type ParserRegistry struct {
	parsers map[string]Parser
}

// NewParserRegistry 创建注册了全部内置解析器的注册表
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{parsers: make(map[string]Parser)}
	r.Register(&PlainTextParser{})
	r.Register(&MarkdownParser{})
	r.Register(&PDFParser{})
	r.Register(&DocxParser{})
	return r
}

// Register 注册解析器，同扩展名后注册者覆盖先注册者
func (r *ParserRegistry) Register(p Parser) {
	for _, ext := range p.Extensions() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// Lookup 按文件扩展名查找解析器
func (r *ParserRegistry) Lookup(path string) (Parser, bool) {
	p, ok := r.parsers[strings.ToLower(filepath.Ext(path))]
	return p, ok
}

// Supported 返回全部受支持的扩展名
func (r *ParserRegistry) Supported() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	return exts
}

// ── 纯文本 ───────────────────────────────────────────────

type PlainTextParser struct{}

func (p *PlainTextParser) Extensions() []string { return []string{".txt"} }

func (p *PlainTextParser) Parse(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text file: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file %s is not valid UTF-8", filepath.Base(path))
	}
	return string(data), nil
}

// ── Markdown ─────────────────────────────────────────────

// MarkdownParser Markdown 按原文入库，标题与列表符号保留，
// 对检索无害且能帮助模型理解结构。
type MarkdownParser struct{}

func (p *MarkdownParser) Extensions() []string { return []string{".md", ".markdown"} }

func (p *MarkdownParser) Parse(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read markdown file: %w", err)
	}
	return string(data), nil
}

// ── PDF ──────────────────────────────────────────────────

type PDFParser struct{}

func (p *PDFParser) Extensions() []string { return []string{".pdf"} }

func (p *PDFParser) Parse(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	body, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

// ── DOCX ─────────────────────────────────────────────────

type DocxParser struct{}

func (p *DocxParser) Extensions() []string { return []string{".docx"} }

func (p *DocxParser) Parse(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	text, err := extractDocxText(r.Editable().GetContent())
	if err != nil {
		return "", fmt.Errorf("extract docx text: %w", err)
	}
	return text, nil
}

// extractDocxText 从 document.xml 中抽取段落文本：
// w:t 元素的内容按段落（w:p）换行拼接。
func extractDocxText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))

	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}
