package preferences

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultAutoSaveTrue(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, filepath.Join(dir, "recordings"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	p := store.Load()
	if !p.AutoSave {
		t.Fatalf("expected AutoSave=true by default, got false")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, filepath.Join(dir, "recordings"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	want := Preferences{
		SaveFolder: filepath.Join(dir, "my-recordings"),
		AutoSave:   true,
		FileFormat: FormatMP4,
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := store.Load()
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestValidateRejectsEmptySaveFolder(t *testing.T) {
	err := Validate(Preferences{SaveFolder: "", FileFormat: FormatMP4})
	if err == nil {
		t.Fatal("expected error for empty save folder")
	}
	ve, ok := err.(*ValidationError)
	if !ok || ve.Kind() != KindEmptySaveFolder {
		t.Fatalf("expected KindEmptySaveFolder, got %v", err)
	}
}

func TestValidateRejectsSystemDirectory(t *testing.T) {
	err := Validate(Preferences{SaveFolder: "/etc/meetings", FileFormat: FormatMP4})
	if err == nil {
		t.Fatal("expected error for system directory")
	}
}

func TestValidateRejectsUnknownFormat(t *testing.T) {
	err := Validate(Preferences{SaveFolder: "/tmp/x", FileFormat: "ogg"})
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestCorruptedStoreRestoresDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preferences.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	store, err := NewStore(dir, filepath.Join(dir, "recordings"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	p := store.Load()
	if !p.AutoSave {
		t.Fatalf("expected repaired defaults with AutoSave=true, got %+v", p)
	}
}
