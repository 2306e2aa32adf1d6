package imports_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const module = "github.com/leeforge/imageresize"

// forbidden lists import prefixes a package directory may not reach.
var forbidden = map[string][]string{
	"media":   {module + "/app", module + "/cmd", module + "/http"},
	"runtime": {module + "/media", module + "/app"},
	"errors":  {module + "/"},
	"json":    {module + "/"},
}

// imports maps every package directory (slash separated, relative to the
// module root) to the imports of its non-test files.
func imports(t *testing.T) map[string][]string {
	t.Helper()
	root := filepath.Clean("../..")
	out := map[string][]string{}
	fset := token.NewFileSet()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); path != root && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, filepath.Dir(path))
		rel = filepath.ToSlash(rel)
		for _, spec := range f.Imports {
			p, _ := strconv.Unquote(spec.Path.Value)
			out[rel] = append(out[rel], p)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestNoLegacyFrameworkImports(t *testing.T) {
	for dir, list := range imports(t) {
		for _, p := range list {
			assert.False(t, strings.HasPrefix(p, "github.com/leeforge/framework"), "%s imports %s", dir, p)
		}
	}
}

func TestLayering(t *testing.T) {
	all := imports(t)
	require.NotEmpty(t, all)

	for dir, list := range all {
		for scope, banned := range forbidden {
			if dir != scope && !strings.HasPrefix(dir, scope+"/") {
				continue
			}
			for _, p := range list {
				for _, b := range banned {
					assert.False(t, strings.HasPrefix(p, b), "%s must not import %s", dir, p)
				}
			}
		}
	}
}
