package rag

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Chunker 文档分块器。按分隔符级联切分：段落 -> 行 -> 空格 -> 字符，
// 每块不超过 chunkSize 个字符，相邻块重叠 overlap 个字符。
type Chunker struct {
	chunkSize int // 每块最大字符数
	overlap   int // 块间重叠字符数
}

// separators 切分层级。片段保留尾部分隔符，保证块文本拼接覆盖原文。
var separators = []string{"\n\n", "\n", " ", ""}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 800
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 8
	}
	return &Chunker{
		chunkSize: chunkSize,
		overlap:   overlap,
	}
}

// Split 将加载的文档切分为 DocumentChunk，保留每篇文档的来源与元数据。
// 空文档产生零个块；短于 chunkSize 的文档产生恰好一个块。
func (c *Chunker) Split(docs []Document) []DocumentChunk {
	var chunks []DocumentChunk
	for _, doc := range docs {
		pieces := c.SplitText(doc.Content)
		if len(pieces) == 0 {
			continue
		}
		docID := uuid.New().String()
		for i, text := range pieces {
			chunks = append(chunks, DocumentChunk{
				DocID:      docID,
				ChunkIndex: i,
				Text:       text,
				Source:     doc.Source,
				Metadata:   cloneMetadata(doc.Metadata),
			})
		}
	}
	return chunks
}

// SplitText 将单段文本切分为不超过 chunkSize 的块
func (c *Chunker) SplitText(text string) []string {
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= c.chunkSize {
		return []string{text}
	}
	return c.split(text, separators)
}

// split 级联切分：用 seps 中第一个出现在文本里的分隔符切开，
// 超长片段用剩余分隔符递归处理，最后贪心合并为带 overlap 的块。
func (c *Chunker) split(text string, seps []string) []string {
	if utf8.RuneCountInString(text) <= c.chunkSize {
		return []string{text}
	}

	sep := ""
	var rest []string
	for i, s := range seps {
		if s == "" {
			sep = ""
			rest = nil
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = seps[i+1:]
			break
		}
	}

	// 字符级兜底：滑动窗口硬切分，重叠恰好 overlap 个字符
	if sep == "" {
		return c.hardSplit(text)
	}

	pieces := splitAfter(text, sep)
	return c.merge(pieces, rest)
}

// merge 将片段贪心合并为块。块写满时输出，并保留末尾不超过
// overlap 个字符的完整片段作为下一块开头；保留的片段若与新片段
// 相加超过 chunkSize，则从前往后丢弃，保证每个输出块都不超限。
// 单个超长片段先输出当前块，再递归切分后直接追加（跨递归边界
// 不保证重叠）。
func (c *Chunker) merge(pieces []string, rest []string) []string {
	var chunks []string
	var window []string
	winLen := 0

	flush := func() {
		if winLen > 0 {
			chunks = append(chunks, strings.Join(window, ""))
			window = nil
			winLen = 0
		}
	}

	for _, p := range pieces {
		plen := utf8.RuneCountInString(p)

		if plen > c.chunkSize {
			flush()
			chunks = append(chunks, c.split(p, rest)...)
			continue
		}

		if winLen+plen > c.chunkSize {
			chunks = append(chunks, strings.Join(window, ""))

			var kept []string
			keptLen := 0
			for i := len(window) - 1; i >= 0; i-- {
				l := utf8.RuneCountInString(window[i])
				if keptLen+l > c.overlap {
					break
				}
				kept = append([]string{window[i]}, kept...)
				keptLen += l
			}
			for len(kept) > 0 && keptLen+plen > c.chunkSize {
				keptLen -= utf8.RuneCountInString(kept[0])
				kept = kept[1:]
			}
			window = kept
			winLen = keptLen
		}

		window = append(window, p)
		winLen += plen
	}

	flush()
	return chunks
}

// hardSplit 无分隔符可用时按字符滑动窗口切分
func (c *Chunker) hardSplit(text string) []string {
	step := c.chunkSize - c.overlap
	if step <= 0 {
		step = c.chunkSize
	}

	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end >= len(runes) {
			break
		}
	}
	return chunks
}

// splitAfter 按分隔符切分并保留尾部分隔符，丢弃空片段
func splitAfter(text, sep string) []string {
	raw := strings.SplitAfter(text, sep)
	pieces := raw[:0]
	for _, p := range raw {
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func cloneMetadata(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
