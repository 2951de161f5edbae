package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetFileExtension(t *testing.T) {
	tests := map[string]string{
		"photo.JPG":        "jpg",
		"dir/a.b/c.webp":   "webp",
		"noext":            "",
		"archive.tar.gz":   "gz",
		"/abs/path/x.jpeg": "jpeg",
	}
	for in, want := range tests {
		if got := GetFileExtension(in); got != want {
			t.Errorf("GetFileExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsImageFile(t *testing.T) {
	if !IsImageFile("a.PNG") || !IsImageFile("b.webp") {
		t.Error("Expected png and webp to be image files")
	}
	if IsImageFile("c.bmp") || IsImageFile("d.txt") {
		t.Error("Expected bmp and txt to be rejected")
	}
}

func TestGenerateOutputFilename(t *testing.T) {
	tests := []struct {
		in, prefix, suffix, format, want string
	}{
		{"/tmp/cat.jpg", "", "_annotated", "png", filepath.Join("out", "cat_annotated.png")},
		{"cat.webp", "x_", "", "", filepath.Join("out", "x_cat.webp")},
		{"https://example.com/img/dog.png?size=large", "", "_a", "", filepath.Join("out", "dog_a.png")},
		{"noext", "", "", "", filepath.Join("out", "noext.png")},
	}
	for _, tt := range tests {
		got := GenerateOutputFilename(tt.in, "out", tt.prefix, tt.suffix, tt.format)
		if got != tt.want {
			t.Errorf("GenerateOutputFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileExistsAndEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if FileExists(dir) {
		t.Error("Directory should not count as a file")
	}

	f := filepath.Join(dir, "a.txt")
	os.WriteFile(f, []byte("x"), 0o644)
	if !FileExists(f) {
		t.Error("Expected file to exist")
	}
	if FileExists(filepath.Join(dir, "missing")) {
		t.Error("Missing file should not exist")
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := SanitizeFilename(` a/b:c*?.png. `); got != "a_b_c__.png" {
		t.Errorf("Unexpected sanitized name %q", got)
	}
}

func TestFormatFileSize(t *testing.T) {
	tests := map[int64]string{
		512:      "512 B",
		2048:     "2.0 KB",
		10 << 20: "10.0 MB",
	}
	for in, want := range tests {
		if got := FormatFileSize(in); got != want {
			t.Errorf("FormatFileSize(%d) = %q, want %q", in, got, want)
		}
	}
}
