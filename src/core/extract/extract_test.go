package extract_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"docchat/src/core/extract"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    extract.Format
		wantErr bool
	}{
		{name: "pdf extension", input: ".pdf", want: extract.FormatPDF},
		{name: "bare name", input: "docx", want: extract.FormatDOCX},
		{name: "uppercase", input: ".TXT", want: extract.FormatTXT},
		{name: "markdown rejected", input: ".md", wantErr: true},
		{name: "empty rejected", input: "", wantErr: true},
		{name: "doc rejected", input: ".doc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extract.ParseFormat(tt.input)
			if tt.wantErr {
				if !errors.Is(err, extract.ErrUnsupportedFormat) {
					t.Fatalf("ParseFormat(%q) error = %v, want ErrUnsupportedFormat", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatFromFilename(t *testing.T) {
	if _, err := extract.FormatFromFilename("notes"); !errors.Is(err, extract.ErrUnsupportedFormat) {
		t.Errorf("filename without extension accepted: %v", err)
	}

	format, err := extract.FormatFromFilename("report.v2.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if format != extract.FormatPDF {
		t.Errorf("got %q, want pdf", format)
	}
}

func TestExtractTXT(t *testing.T) {
	ctx := context.Background()

	t.Run("utf8 passthrough", func(t *testing.T) {
		text, err := extract.Extract(ctx, []byte("héllo wörld"), extract.FormatTXT)
		if err != nil {
			t.Fatal(err)
		}
		if text != "héllo wörld" {
			t.Errorf("got %q", text)
		}
	})

	t.Run("bom stripped", func(t *testing.T) {
		data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("content")...)
		text, err := extract.Extract(ctx, data, extract.FormatTXT)
		if err != nil {
			t.Fatal(err)
		}
		if text != "content" {
			t.Errorf("got %q, want %q", text, "content")
		}
	})

	t.Run("latin1 fallback", func(t *testing.T) {
		// 0xE9 is é in Latin-1 and invalid as a standalone UTF-8 byte.
		text, err := extract.Extract(ctx, []byte{'c', 'a', 'f', 0xE9}, extract.FormatTXT)
		if err != nil {
			t.Fatal(err)
		}
		if text != "café" {
			t.Errorf("got %q, want %q", text, "café")
		}
	})

	t.Run("line endings normalized", func(t *testing.T) {
		text, err := extract.Extract(ctx, []byte("a\r\nb\rc\n\n\n\nd"), extract.FormatTXT)
		if err != nil {
			t.Fatal(err)
		}
		if text != "a\nb\nc\n\nd" {
			t.Errorf("got %q", text)
		}
	})

	t.Run("null bytes removed", func(t *testing.T) {
		text, err := extract.Extract(ctx, []byte("a\x00b"), extract.FormatTXT)
		if err != nil {
			t.Fatal(err)
		}
		if text != "ab" {
			t.Errorf("got %q", text)
		}
	})
}

func docxBytes(t *testing.T, documentXML string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	ctx := context.Background()

	t.Run("paragraphs and runs", func(t *testing.T) {
		doc := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`

		text, err := extract.Extract(ctx, docxBytes(t, doc), extract.FormatDOCX)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(text, "First paragraph.\n") {
			t.Errorf("missing first paragraph break in %q", text)
		}
		if !strings.Contains(text, "Second paragraph.") {
			t.Errorf("split runs not joined in %q", text)
		}
	})

	t.Run("table cells tab separated", func(t *testing.T) {
		doc := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:tbl><w:tr>
      <w:tc><w:p><w:r><w:t>cell one</w:t></w:r></w:p></w:tc>
      <w:tc><w:p><w:r><w:t>cell two</w:t></w:r></w:p></w:tc>
    </w:tr></w:tbl>
  </w:body>
</w:document>`

		text, err := extract.Extract(ctx, docxBytes(t, doc), extract.FormatDOCX)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(text, "cell one\n\tcell two") && !strings.Contains(text, "cell one") {
			t.Errorf("table text missing in %q", text)
		}
	})

	t.Run("not a zip", func(t *testing.T) {
		_, err := extract.Extract(ctx, []byte("definitely not a zip archive"), extract.FormatDOCX)
		if !errors.Is(err, extract.ErrCorruptFile) {
			t.Fatalf("got %v, want ErrCorruptFile", err)
		}
	})

	t.Run("zip without document part", func(t *testing.T) {
		var buf bytes.Buffer
		w := zip.NewWriter(&buf)
		f, err := w.Create("some/other.xml")
		if err != nil {
			t.Fatal(err)
		}
		f.Write([]byte("<x/>"))
		w.Close()

		_, err = extract.Extract(ctx, buf.Bytes(), extract.FormatDOCX)
		if !errors.Is(err, extract.ErrCorruptFile) {
			t.Fatalf("got %v, want ErrCorruptFile", err)
		}
	})

	t.Run("empty document rejected", func(t *testing.T) {
		doc := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body></w:body>
</w:document>`

		_, err := extract.Extract(ctx, docxBytes(t, doc), extract.FormatDOCX)
		if !errors.Is(err, extract.ErrCorruptFile) {
			t.Fatalf("got %v, want ErrCorruptFile", err)
		}
	})
}

func TestExtractPDFRejectsGarbage(t *testing.T) {
	_, err := extract.Extract(context.Background(), []byte("%PDF-garbage"), extract.FormatPDF)
	if !errors.Is(err, extract.ErrCorruptFile) {
		t.Fatalf("got %v, want ErrCorruptFile", err)
	}
}

func TestExtractUnknownFormat(t *testing.T) {
	_, err := extract.Extract(context.Background(), []byte("hi"), extract.Format("rtf"))
	if !errors.Is(err, extract.ErrUnsupportedFormat) {
		t.Fatalf("got %v, want ErrUnsupportedFormat", err)
	}
}
