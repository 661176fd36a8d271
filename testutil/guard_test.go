package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNonStdlibImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"fmt", false},
		{"container/list", false},
		{"github.com/rs/zerolog", true},
		{"dicomcore/pkg/domain", false},
		{"modernc.org/sqlite", true},
	}
	for _, c := range cases {
		if got := NonStdlibImportForbidden(c.in); got != c.want {
			t.Fatalf("NonStdlibImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestInternalImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"dicomcore/internal/index", true},
		{"dicomcore/internal/dicom", true},
		{"dicomcore/pkg/domain", false},
		{"internal", false},
		{"notinternal", false},
		{"example.com/some/internal/deep/path", true},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.want {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestServerLayerImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"dicomcore/internal/index", true},
		{"dicomcore/internal/server", true},
		{"dicomcore/internal/storage", false},
		{"dicomcore/pkg/domain", false},
	}
	for _, c := range cases {
		if got := ServerLayerImportForbidden(c.in); got != c.want {
			t.Fatalf("ServerLayerImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

// TestAssertNoDirectImports exercises the success path with a tiny temp package.
func TestAssertNoDirectImports(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	if err := os.WriteFile(filepath.Join(dir, "x.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")
}

// Test files and subdirectories must not be scanned.
func TestAssertNoDirectImportsSkipsTestFilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	clean := []byte("package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	if err := os.WriteFile(filepath.Join(dir, "x.go"), clean, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	dirty := []byte("package tmp\nimport _ \"forbidden/pkg\"\n")
	if err := os.WriteFile(filepath.Join(dir, "x_test.go"), dirty, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "y.go"), dirty, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	AssertNoDirectImports(t, dir, func(p string) bool { return p == "forbidden/pkg" }, "only non-test files in dir")
}

func TestDirectImportViolationsReportsOffender(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport (\n\t\"fmt\"\n\t_ \"forbidden/pkg\"\n)\nfunc X(){fmt.Println(1)}")
	if err := os.WriteFile(filepath.Join(dir, "bad.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	viols, err := directImportViolations(dir, func(p string) bool { return p == "forbidden/pkg" })
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "forbidden/pkg (in bad.go)" {
		t.Fatalf("unexpected violations: %v", viols)
	}
}

func TestTransitiveDependencyViolationsParsesOutput(t *testing.T) {
	orig := goListDeps
	defer func() { goListDeps = orig }()
	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\ndicomcore/pkg/domain\ngithub.com/rs/zerolog\n"), nil
	}
	viols, _, err := transitiveDependencyViolations(".", NonStdlibImportForbidden)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(viols) != 1 || viols[0] != "github.com/rs/zerolog" {
		t.Fatalf("unexpected violations: %v", viols)
	}
}
