package migrations

import (
	"io/fs"
	"testing"
)

func TestVersionFromFile(t *testing.T) {
	cases := map[string]int64{
		"001_audit_ledger.up.sql": 1,
		"012_add_index.up.sql":    12,
	}
	for name, want := range cases {
		got, err := versionFromFile(name)
		if err != nil {
			t.Fatalf("versionFromFile(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("versionFromFile(%q) = %d, want %d", name, got, want)
		}
	}

	if _, err := versionFromFile("init.sql"); err == nil {
		t.Error("expected error for filename without version prefix")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(FS, "*.up.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no migrations embedded")
	}
	for _, f := range files {
		if _, err := versionFromFile(f); err != nil {
			t.Errorf("%s: %v", f, err)
		}
	}
}
