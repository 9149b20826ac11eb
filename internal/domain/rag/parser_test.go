package rag

import "testing"

func TestExtractDocxText(t *testing.T) {
	content := `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
	  <w:body>
	    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
	    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
	  </w:body>
	</w:document>`

	got, err := extractDocxText(content)
	if err != nil {
		t.Fatal(err)
	}
	want := "First paragraph.\nSecond paragraph.\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractDocxTextMalformed(t *testing.T) {
	if _, err := extractDocxText("<w:document><unclosed"); err == nil {
		t.Error("expected error for malformed xml")
	}
}

func TestPlainTextParserRejectsBinary(t *testing.T) {
	path := t.TempDir() + "/bad.txt"
	writeFile(t, path, "\xff\xfe\x00binary")

	if _, err := (&PlainTextParser{}).Parse(path); err == nil {
		t.Error("expected error for non-UTF8 content")
	}
}
