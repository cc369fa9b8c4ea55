package migrations

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestAllLoadsEmbeddedSchema(t *testing.T) {
	all, err := All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) == 0 || all[0].Version != "0001" {
		t.Fatalf("expected 0001 first, got %+v", all)
	}
	joined := strings.Join(all[0].Statements, "\n")
	if !strings.Contains(joined, "CREATE TABLE IF NOT EXISTS conversations") ||
		!strings.Contains(joined, "uniq_conversations_active_user") {
		t.Fatalf("conversation table missing from %s", all[0].Name)
	}
}

func TestLoadOrdersAndRejectsBadNames(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.sql": {Data: []byte("CREATE TABLE b (id INT);")},
		"0001_a.sql": {Data: []byte("-- only a comment\n")},
		"0003_c.sql": {Data: []byte("CREATE TABLE c (id INT);")},
	}
	got, err := load(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].Version != "0002" || got[1].Version != "0003" {
		t.Fatalf("unexpected migrations %+v", got)
	}

	if _, err := load(fstest.MapFS{"init.sql": {Data: []byte("SELECT 1;")}}); err == nil {
		t.Fatalf("expected error for missing version prefix")
	}
	if _, err := load(fstest.MapFS{
		"0001_a.sql": {Data: []byte("SELECT 1;")},
		"0001_b.sql": {Data: []byte("SELECT 2;")},
	}); err == nil {
		t.Fatalf("expected duplicate version error")
	}
}

func TestSplitSkipsComments(t *testing.T) {
	statements := Split("-- header; with semicolon\nCREATE TABLE a (id INT);\n\n-- next\nCREATE TABLE b (id INT);\n")
	if len(statements) != 2 || statements[0] != "CREATE TABLE a (id INT)" || statements[1] != "CREATE TABLE b (id INT)" {
		t.Fatalf("unexpected statements %q", statements)
	}
}
