package rag

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoaderMissingDir(t *testing.T) {
	l := NewLoader(nil)
	docs, err := l.Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing dir must not be an error, got %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no documents, got %d", len(docs))
	}
}

func TestLoaderWalksAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "plain text body")
	writeFile(t, filepath.Join(dir, "a.md"), "# Title\n\nMarkdown body")
	writeFile(t, filepath.Join(dir, "nested", "c.markdown"), "nested body")
	writeFile(t, filepath.Join(dir, "skip.bin"), "\x00\x01binary")
	writeFile(t, filepath.Join(dir, ".hidden.txt"), "hidden")
	writeFile(t, filepath.Join(dir, "blank.txt"), "   \n\t\n")
	writeFile(t, filepath.Join(dir, "bad.txt"), "\xff\xfe not utf8")

	l := NewLoader(NewParserRegistry())
	docs, err := l.Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d: %+v", len(docs), docs)
	}
	// 结果按路径排序
	wantOrder := []string{"a.md", "b.txt", "c.markdown"}
	for i, want := range wantOrder {
		if got := docs[i].Metadata["filename"]; got != want {
			t.Errorf("doc %d: got %q, want %q", i, got, want)
		}
	}
	if docs[0].Metadata["format"] != "md" {
		t.Errorf("format metadata = %q, want md", docs[0].Metadata["format"])
	}
	if docs[1].Content != "plain text body" {
		t.Errorf("unexpected content %q", docs[1].Content)
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "line one\r\nline two\r", "line one\nline two"},
		{"trailing_spaces", "a   \nb\t\n", "a\nb"},
		{"space_runs", "too    many\t\tspaces", "too many spaces"},
		{"blank_runs", "p1\n\n\n\n\np2", "p1\n\np2"},
		{"trim", "  \n body \n ", "body"},
		{"empty", " \t\n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParserRegistryLookup(t *testing.T) {
	r := NewParserRegistry()
	for _, path := range []string{"x.txt", "X.MD", "a/b/c.pdf", "doc.docx", "n.markdown"} {
		if _, ok := r.Lookup(path); !ok {
			t.Errorf("expected parser for %s", path)
		}
	}
	if _, ok := r.Lookup("image.png"); ok {
		t.Error("png must not have a parser")
	}
}
