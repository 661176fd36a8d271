package sqldocs

import (
	"strings"
	"testing"
)

var schemaTables = []string{
	"GlobalProperties",
	"Resources",
	"MainDicomTags",
	"DicomIdentifiers",
	"Metadata",
	"AttachedFiles",
	"Changes",
	"ExportedResources",
	"PatientRecyclingOrder",
}

func TestBundlesContainAllTables(t *testing.T) {
	for name, bundle := range map[string]string{"sqlite": SQLite, "postgres": Postgres} {
		for _, table := range schemaTables {
			if !strings.Contains(bundle, "CREATE TABLE IF NOT EXISTS "+table) {
				t.Fatalf("%s bundle is missing table %s", name, table)
			}
		}
	}
}

func TestBundlesUseDialectKeys(t *testing.T) {
	if !strings.Contains(SQLite, "INTEGER PRIMARY KEY AUTOINCREMENT") {
		t.Fatal("sqlite bundle must use AUTOINCREMENT keys")
	}
	if strings.Contains(SQLite, "BIGSERIAL") {
		t.Fatal("sqlite bundle must not use BIGSERIAL")
	}
	if !strings.Contains(Postgres, "BIGSERIAL PRIMARY KEY") {
		t.Fatal("postgres bundle must use BIGSERIAL keys")
	}
	if strings.Contains(Postgres, "AUTOINCREMENT") {
		t.Fatal("postgres bundle must not use AUTOINCREMENT")
	}
}
