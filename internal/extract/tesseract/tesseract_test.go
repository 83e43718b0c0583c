package tesseract

import (
	"os"
	"testing"
)

func TestWriteEngineConfigSelectsLSTM(t *testing.T) {
	path, err := writeEngineConfig(t.TempDir())
	if err != nil {
		t.Fatalf("writeEngineConfig: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "tessedit_ocr_engine_mode 1\n" {
		t.Errorf("config = %q", b)
	}
}

func TestEngineConfigWrittenOnce(t *testing.T) {
	r := New("")
	first, err := r.engineConfig()
	if err != nil {
		t.Fatalf("engineConfig: %v", err)
	}
	t.Cleanup(func() { os.Remove(first) })
	second, _ := r.engineConfig()
	if first != second {
		t.Errorf("config rewritten: %s then %s", first, second)
	}
	if r.language != DefaultLanguage {
		t.Errorf("language = %q, want %q", r.language, DefaultLanguage)
	}
}
