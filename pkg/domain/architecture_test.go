package domain

import (
	"testing"

	"fieldtrial/testutil"
)

// TestDomainDoesNotImportImplementations keeps the domain package free of
// storage, geometry and internal dependencies.
func TestDomainDoesNotImportImplementations(t *testing.T) {
	forbidden := func(path string) bool {
		return testutil.InternalImportForbidden(path) ||
			testutil.StorageImportForbidden(path) ||
			testutil.ImportsAny("github.com/paulmach/orb")(path)
	}
	testutil.AssertNoDirectImports(t, ".", forbidden, "domain holds plain value types")
}
