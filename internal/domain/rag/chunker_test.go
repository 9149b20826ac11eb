package rag

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

// distinctText 生成由互不重复单词组成的段落文本，便于在原文中唯一定位块
func distinctText(paragraphs, wordsPer int) string {
	var sb strings.Builder
	n := 0
	for p := 0; p < paragraphs; p++ {
		if p > 0 {
			sb.WriteString("\n\n")
		}
		for w := 0; w < wordsPer; w++ {
			if w > 0 {
				sb.WriteString(" ")
			}
			fmt.Fprintf(&sb, "word%03d", n)
			n++
		}
	}
	return sb.String()
}

func TestSplitTextEmpty(t *testing.T) {
	c := NewChunker(100, 20)
	if got := c.SplitText(""); got != nil {
		t.Fatalf("expected nil for empty text, got %v", got)
	}
}

func TestSplitTextShortDocument(t *testing.T) {
	c := NewChunker(100, 20)
	text := "a short document\nwith two lines"
	got := c.SplitText(text)
	if len(got) != 1 || got[0] != text {
		t.Fatalf("expected single unchanged chunk, got %v", got)
	}
}

func TestSplitTextSizeBound(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
		text      string
	}{
		{"paragraphs", 50, 10, distinctText(6, 10)},
		{"single_long_line", 40, 8, strings.Repeat("word ", 100)},
		{"no_separators", 30, 5, strings.Repeat("x", 200)},
		{"chinese", 20, 4, strings.Repeat("向量检索增强生成", 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChunker(tt.chunkSize, tt.overlap)
			chunks := c.SplitText(tt.text)
			if len(chunks) == 0 {
				t.Fatal("expected at least one chunk")
			}
			for i, ch := range chunks {
				if n := utf8.RuneCountInString(ch); n > tt.chunkSize {
					t.Errorf("chunk %d has %d runes, limit %d", i, n, tt.chunkSize)
				}
			}
		})
	}
}

func TestSplitTextSizeBoundAfterOverlapRetention(t *testing.T) {
	// 短行作为重叠前缀保留后，与下一长行合并仍不得超过 chunkSize
	const chunkSize, overlap = 10, 3
	text := "aaaaaaa\nbb\nccccccc\ndddddddd"
	c := NewChunker(chunkSize, overlap)

	chunks := c.SplitText(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %v", chunks)
	}
	for i, ch := range chunks {
		if n := utf8.RuneCountInString(ch); n > chunkSize {
			t.Errorf("chunk %d has %d runes, limit %d: %q", i, n, chunkSize, ch)
		}
	}
	for _, line := range []string{"aaaaaaa", "bb", "ccccccc", "dddddddd"} {
		found := false
		for _, ch := range chunks {
			if strings.Contains(ch, line) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("line %q missing from chunks %v", line, chunks)
		}
	}
}

func TestSplitTextCoverage(t *testing.T) {
	text := distinctText(5, 12)
	c := NewChunker(60, 15)
	chunks := c.SplitText(text)

	coveredEnd := 0
	for i, ch := range chunks {
		idx := strings.Index(text, ch)
		if idx < 0 {
			t.Fatalf("chunk %d is not a substring of the source text: %q", i, ch)
		}
		if idx > coveredEnd {
			t.Fatalf("gap before chunk %d: covered up to %d, chunk starts at %d", i, coveredEnd, idx)
		}
		if end := idx + len(ch); end > coveredEnd {
			coveredEnd = end
		}
	}
	if coveredEnd != len(text) {
		t.Fatalf("chunks cover %d of %d bytes", coveredEnd, len(text))
	}
}

func TestSplitTextExactOverlapOnUniformText(t *testing.T) {
	// 无分隔符文本走字符级滑动窗口，相邻块重叠应恰好为 overlap
	const chunkSize, overlap = 10, 3
	text := "abcdefghijklmnopqrstuvwxy"
	c := NewChunker(chunkSize, overlap)
	chunks := c.SplitText(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 0; i < len(chunks)-1; i++ {
		prev := []rune(chunks[i])
		next := []rune(chunks[i+1])
		suffix := string(prev[len(prev)-overlap:])
		prefix := string(next[:overlap])
		if suffix != prefix {
			t.Errorf("chunks %d/%d overlap mismatch: %q vs %q", i, i+1, suffix, prefix)
		}
	}
}

func TestSplitTextIdempotent(t *testing.T) {
	c := NewChunker(50, 10)
	chunks := c.SplitText(distinctText(4, 15))
	for i, ch := range chunks {
		again := c.SplitText(ch)
		if len(again) != 1 || again[0] != ch {
			t.Errorf("re-splitting chunk %d changed it: %v", i, again)
		}
	}
}

func TestSplitDocuments(t *testing.T) {
	c := NewChunker(50, 10)
	docs := []Document{
		{Source: "docs/a.md", Content: distinctText(3, 10), Metadata: map[string]string{"format": "markdown"}},
		{Source: "docs/empty.txt", Content: ""},
		{Source: "docs/b.txt", Content: "tiny"},
	}

	chunks := c.Split(docs)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}

	byDoc := map[string][]DocumentChunk{}
	for _, ch := range chunks {
		byDoc[ch.Source] = append(byDoc[ch.Source], ch)
	}

	if _, ok := byDoc["docs/empty.txt"]; ok {
		t.Error("empty document must produce zero chunks")
	}
	if got := byDoc["docs/b.txt"]; len(got) != 1 || got[0].Text != "tiny" {
		t.Errorf("short document should produce exactly one chunk, got %v", got)
	}

	first := byDoc["docs/a.md"]
	if len(first) < 2 {
		t.Fatalf("expected multiple chunks for docs/a.md, got %d", len(first))
	}
	for i, ch := range first {
		if ch.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, ch.ChunkIndex)
		}
		if ch.DocID != first[0].DocID {
			t.Error("chunks of one document must share a doc id")
		}
		if ch.Metadata["format"] != "markdown" {
			t.Error("document metadata not carried to chunk")
		}
	}
	if first[0].DocID == byDoc["docs/b.txt"][0].DocID {
		t.Error("distinct documents must get distinct doc ids")
	}
}

func TestNewChunkerGuards(t *testing.T) {
	c := NewChunker(0, -1)
	if c.chunkSize != 800 || c.overlap != 100 {
		t.Errorf("defaults not applied: size=%d overlap=%d", c.chunkSize, c.overlap)
	}
	c = NewChunker(100, 100)
	if c.overlap >= c.chunkSize {
		t.Errorf("overlap must stay below chunk size, got %d/%d", c.overlap, c.chunkSize)
	}
}
