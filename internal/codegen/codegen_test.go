package codegen

import (
	"context"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructTypes(t *testing.T) {
	src := `package p

type Exported struct{}
type hidden struct{}
type Alias = Exported
type Generic[T any] struct{ v T }
type Named string
type (
	First  struct{}
	Second struct{ A int }
)
`
	file, err := parser.ParseFile(token.NewFileSet(), "p.go", src, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"Exported", "First", "Second"}, structTypes(file))
}

func TestRenderMatchesCheckedInCatalog(t *testing.T) {
	want, err := os.ReadFile(filepath.Join("..", "..", "examples", "sample", FileName))
	require.NoError(t, err)

	got, err := Render(Package{
		Path: "github.com/teamsquad/eventbus-go/examples/sample",
		Name: "sample",
		Types: []Type{
			{"UserConsumer", "examples/sample/consumers.go"},
			{"OrderConsumer", "examples/sample/consumers.go"},
			{"PresenceConsumer", "examples/sample/consumers.go"},
			{"VideoPermissionResponder", "examples/sample/consumers.go"},
			{"UserSignedUp", "examples/sample/events.go"},
			{"UserCredentialsChanged", "examples/sample/events.go"},
			{"OrderPlaced", "examples/sample/events.go"},
			{"VideoPermissionChange", "examples/sample/events.go"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestLoadSamplePackage(t *testing.T) {
	if testing.Short() {
		t.Skip("loads packages through the go command")
	}

	pkgs, err := Load(context.Background(), filepath.Join("..", ".."), "./examples/sample")
	require.NoError(t, err)
	require.Len(t, pkgs, 1)

	pkg := pkgs[0]
	assert.Equal(t, "sample", pkg.Name)
	require.Len(t, pkg.Types, 8)
	assert.Equal(t, Type{"UserConsumer", "examples/sample/consumers.go"}, pkg.Types[0])
	assert.Equal(t, Type{"VideoPermissionChange", "examples/sample/events.go"}, pkg.Types[7])

	src, err := Render(pkg)
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(pkg.Dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(src), "checked-in catalog is up to date")
}

func TestLoadReportsErrors(t *testing.T) {
	if testing.Short() {
		t.Skip("loads packages through the go command")
	}

	_, err := Load(context.Background(), filepath.Join("..", ".."), "./does/not/exist")
	assert.ErrorIs(t, err, ErrLoad)
}
