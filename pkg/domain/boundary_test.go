package domain

import (
	"testing"

	"dicomcore/testutil"
)

// The domain package is the shared vocabulary of every other package and
// must stay dependency-free.
func TestDomainImportsOnlyStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.NonStdlibImportForbidden,
		"pkg/domain must not depend on external modules")
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden,
		"pkg/domain must not reach into internal packages")
}
