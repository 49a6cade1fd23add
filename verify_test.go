// Structural gates for the repository as a whole.
//
// Package-level unit tests cannot see rot that spans the tree: a package
// that compiles and passes its own tests but is wired to nothing, an
// interface whose only implementation is a noop, a Prometheus helper that
// no production path ever records. The tests here walk the source and
// close those gaps.
//
// Migration content checks live in pkg/database/migrate/ because they read
// the embedded migration FS.
package preview_pool_test

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/tapforge/preview-pool"

// sourceDirs returns the trees that count as production wiring. Imports
// found only in test files or under test/e2e do not keep a package alive.
func sourceDirs(root string) []string {
	return []string{
		filepath.Join(root, "pkg"),
		filepath.Join(root, "cmd"),
		filepath.Join(root, "internal"),
	}
}

// listPackages returns every package under pkgDir carrying non-test Go
// source, keyed by import path. Values start false and flip to true once
// a production importer is found.
func listPackages(pkgDir, root string) (map[string]bool, error) {
	pkgs := map[string]bool{}
	err := filepath.WalkDir(pkgDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		hasSource, srcErr := hasGoSource(path)
		if srcErr != nil {
			return srcErr
		}
		if !hasSource {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fmt.Errorf("relative path for %s: %w", path, relErr)
		}
		pkgs[modulePath+"/"+filepath.ToSlash(rel)] = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", pkgDir, err)
	}
	return pkgs, nil
}

// hasGoSource reports whether dir directly contains a non-test Go file.
func hasGoSource(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".go") && !strings.HasSuffix(e.Name(), "_test.go") {
			return true, nil
		}
	}
	return false, nil
}

// forEachProductionFile invokes fn with the contents of every non-test Go
// file under dirs. Directories that do not exist are skipped, as is the
// subtree rooted at skipDir when it is non-empty.
func forEachProductionFile(dirs []string, skipDir string, fn func(path, content string)) error {
	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if skipDir != "" && path == skipDir {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(d.Name(), ".go") || strings.HasSuffix(d.Name(), "_test.go") {
				return nil
			}
			content, readErr := os.ReadFile(path) //nolint:gosec // reads repository source
			if readErr != nil {
				return fmt.Errorf("reading %s: %w", path, readErr)
			}
			fn(path, string(content))
			return nil
		})
		if err != nil {
			return fmt.Errorf("walking %s: %w", dir, err)
		}
	}
	return nil
}

// TestNoDeadPackages fails when a package under pkg/ is imported by no
// production code. Such a package still compiles and its own tests still
// pass, so nothing else flags it.
func TestNoDeadPackages(t *testing.T) {
	root, err := filepath.Abs(".")
	require.NoError(t, err)

	pkgs, err := listPackages(filepath.Join(root, "pkg"), root)
	require.NoError(t, err)
	require.NotEmpty(t, pkgs)

	importRe := regexp.MustCompile(`"(` + regexp.QuoteMeta(modulePath) + `/[^"]+)"`)
	err = forEachProductionFile(sourceDirs(root), "", func(_, content string) {
		for _, m := range importRe.FindAllStringSubmatch(content, -1) {
			if _, ok := pkgs[m[1]]; ok {
				pkgs[m[1]] = true
			}
		}
	})
	require.NoError(t, err)

	for pkg, imported := range pkgs {
		assert.True(t, imported,
			"package %q has Go source but no production importer; wire it into the assembly in pkg/platform or remove it", pkg)
	}
}

// compliancePin records one compile-time interface assertion of the form
// var _ Iface = (*Type)(nil).
type compliancePin struct {
	iface    string
	typeName string
}

// noopOnlyAllowed names interfaces permitted to ship with only a noop
// implementation. Empty today; add entries together with the reason.
var noopOnlyAllowed = map[string]bool{}

// TestNoopImplementationsAreBackedByRealOnes collects the compliance pins
// under pkg/ and fails when every asserted implementation of an interface
// is a noop. A noop keeps the package imported and the tests green while
// the behavior behind the interface never runs.
func TestNoopImplementationsAreBackedByRealOnes(t *testing.T) {
	root, err := filepath.Abs(".")
	require.NoError(t, err)

	pinRe := regexp.MustCompile(`var\s+_\s+(\S+)\s*=\s*\(\*(\w+)\)\(nil\)`)
	var pins []compliancePin
	err = forEachProductionFile([]string{filepath.Join(root, "pkg")}, "", func(_, content string) {
		for _, m := range pinRe.FindAllStringSubmatch(content, -1) {
			pins = append(pins, compliancePin{iface: m[1], typeName: m[2]})
		}
	})
	require.NoError(t, err)
	require.NotEmpty(t, pins, "expected compliance assertions under pkg/")

	byIface := map[string][]compliancePin{}
	for _, p := range pins {
		byIface[p.iface] = append(byIface[p.iface], p)
	}

	for iface, list := range byIface {
		if noopOnlyAllowed[iface] {
			continue
		}
		var hasNoop, hasReal bool
		names := make([]string, 0, len(list))
		for _, p := range list {
			names = append(names, p.typeName)
			if strings.Contains(strings.ToLower(p.typeName), "noop") {
				hasNoop = true
			} else {
				hasReal = true
			}
		}
		if !hasNoop {
			continue
		}
		assert.True(t, hasReal,
			"interface %q is implemented only by %v; implement the real behavior or allowlist the interface with a reason",
			iface, names)
	}
}

// indirectMetricCallers maps recording helpers that production code reaches
// through an exported adapter type instead of calling by name. The provider
// call observer is handed to the provider layer as a value, so its helper
// never appears at a call site.
var indirectMetricCallers = map[string]string{
	"RecordProviderCall": "ProviderObserver",
}

// TestMetricsHelpersAreRecorded fails when an exported recording helper in
// pkg/metrics has no production call site. A registered collector that is
// never recorded exports a permanently flat series, which dashboards and
// alerts then trust.
func TestMetricsHelpersAreRecorded(t *testing.T) {
	root, err := filepath.Abs(".")
	require.NoError(t, err)

	metricsDir := filepath.Join(root, "pkg", "metrics")
	source, err := os.ReadFile(filepath.Join(metricsDir, "metrics.go"))
	require.NoError(t, err)

	helperRe := regexp.MustCompile(`(?m)^func ((?:Record|Inc|Dec)\w+)\(`)
	var helpers []string
	for _, m := range helperRe.FindAllStringSubmatch(string(source), -1) {
		helpers = append(helpers, m[1])
	}
	require.NotEmpty(t, helpers, "expected recording helpers in pkg/metrics")

	var production strings.Builder
	err = forEachProductionFile(sourceDirs(root), metricsDir, func(_, content string) {
		production.WriteString(content)
		production.WriteByte('\n')
	})
	require.NoError(t, err)
	all := production.String()

	for _, helper := range helpers {
		ref := helper
		if via, ok := indirectMetricCallers[helper]; ok {
			ref = via
		}
		callRe := regexp.MustCompile(`\bmetrics\.` + ref + `\b`)
		assert.True(t, callRe.MatchString(all),
			"metrics helper %s is never called by production code; record it where the event happens or drop the series", helper)
	}
}
