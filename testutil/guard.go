// Package testutil provides test helpers that enforce package import
// boundaries across the repository.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// AssertNoDirectImports scans all non-test .go files in dir (typically "."
// from within the package) and fails if any import path satisfies the
// forbidden predicate. It does not follow build tags.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	failIfDirectViolations(t, reason, viols)
}

// ImportsAny returns a predicate matching import paths that equal, or live
// under, any of the given paths.
func ImportsAny(paths ...string) func(string) bool {
	return func(ip string) bool {
		for _, p := range paths {
			if ip == p || strings.HasPrefix(ip, p+"/") {
				return true
			}
		}
		return false
	}
}

// InternalImportForbidden matches any import path containing /internal/.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// StorageImportForbidden matches persistence, blob and database packages.
var StorageImportForbidden = ImportsAny(
	"database/sql",
	"fieldtrial/internal/infra",
	"fieldtrial/internal/blob",
	"github.com/jackc/pgx/v5",
	"modernc.org/sqlite",
	"github.com/aws/aws-sdk-go-v2",
)

// IOImportForbidden matches packages that reach the filesystem, network or
// storage. Parsers and validators work on in-memory bytes only.
func IOImportForbidden(path string) bool {
	return StorageImportForbidden(path) || ImportsAny("os", "net", "io/fs", "path/filepath")(path)
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		fileAst, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range fileAst.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfDirectViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden direct imports detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}
