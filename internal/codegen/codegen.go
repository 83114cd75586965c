// Package codegen writes zz_eventbus_catalog.go files: one Catalog function
// per package listing its exported struct types in declaration order.
package codegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/token"
	"log/slog"
	"path/filepath"
	"text/template"

	"golang.org/x/tools/go/packages"

	"github.com/teamsquad/eventbus-go/internal/fsutil"
)

// FileName is the generated file written into each package directory.
const FileName = "zz_eventbus_catalog.go"

const catalogPkgPath = "github.com/teamsquad/eventbus-go/catalog"

// ErrLoad is returned when the requested packages do not type-check or cannot be found.
var ErrLoad = errors.New("codegen: failed to load packages")

// Type is one exported struct type.
type Type struct {
	Name string
	// Source is the declaring file relative to the module root, slash separated.
	Source string
}

// Package is the catalog of one Go package.
type Package struct {
	Path  string
	Name  string
	Dir   string
	Types []Type
}

const loadMode = packages.NeedName |
	packages.NeedFiles |
	packages.NeedCompiledGoFiles |
	packages.NeedSyntax |
	packages.NeedModule

// Load parses the packages matching patterns, resolved from dir.
func Load(ctx context.Context, dir string, patterns ...string) ([]Package, error) {
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	fset := token.NewFileSet()
	pkgs, err := packages.Load(&packages.Config{
		Context: ctx,
		Dir:     dir,
		Mode:    loadMode,
		Fset:    fset,
	}, patterns...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	var errs []error
	packages.Visit(pkgs, nil, func(p *packages.Package) {
		for _, e := range p.Errors {
			errs = append(errs, e)
		}
	})
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrLoad, errors.Join(errs...))
	}

	out := make([]Package, 0, len(pkgs))
	for _, p := range pkgs {
		if p.PkgPath == catalogPkgPath {
			continue
		}
		pkg := Package{Path: p.PkgPath, Name: p.Name}
		root := ""
		if p.Module != nil {
			root = p.Module.Dir
		}

		for _, file := range p.Syntax {
			path := fset.Position(file.Pos()).Filename
			if filepath.Base(path) == FileName {
				continue
			}
			if pkg.Dir == "" {
				pkg.Dir = filepath.Dir(path)
			}
			source := path
			if root != "" {
				if rel, err := filepath.Rel(root, path); err == nil {
					source = rel
				}
			}
			for _, name := range structTypes(file) {
				pkg.Types = append(pkg.Types, Type{Name: name, Source: filepath.ToSlash(source)})
			}
		}
		out = append(out, pkg)
	}
	return out, nil
}

func structTypes(file *ast.File) []string {
	var names []string
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts := spec.(*ast.TypeSpec)
			if !ts.Name.IsExported() || ts.Assign.IsValid() || ts.TypeParams != nil {
				continue
			}
			if _, ok := ts.Type.(*ast.StructType); ok {
				names = append(names, ts.Name.Name)
			}
		}
	}
	return names
}

var catalogTemplate = template.Must(template.New("catalog").Parse(`// Code generated by eventbus gen. DO NOT EDIT.

package {{.Name}}

import (
	"github.com/teamsquad/eventbus-go/catalog"
)

// Catalog returns every exported type of this package in declaration order.
func Catalog() *catalog.Catalog {
	return catalog.New(
{{- range .Types}}
		catalog.Of((*{{.Name}})(nil), {{printf "%q" .Source}}),
{{- end}}
	)
}
`))

// Render returns the gofmt-ed catalog file for pkg.
func Render(pkg Package) ([]byte, error) {
	var buf bytes.Buffer
	if err := catalogTemplate.Execute(&buf, pkg); err != nil {
		return nil, fmt.Errorf("render %s: %w", pkg.Path, err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format %s: %w", pkg.Path, err)
	}
	return src, nil
}

// Generate loads patterns from dir and writes a catalog file into every
// package that declares at least one exported struct. It returns the written paths.
func Generate(ctx context.Context, dir string, logger *slog.Logger, patterns ...string) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pkgs, err := Load(ctx, dir, patterns...)
	if err != nil {
		return nil, err
	}

	var written []string
	for _, pkg := range pkgs {
		if len(pkg.Types) == 0 || pkg.Dir == "" {
			logger.Debug("package skipped, no exported structs", "package", pkg.Path)
			continue
		}
		src, err := Render(pkg)
		if err != nil {
			return written, err
		}
		path := filepath.Join(pkg.Dir, FileName)
		if err := fsutil.WriteFileAtomic(path, src, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		logger.Info("catalog generated", "package", pkg.Path, "types", len(pkg.Types))
		written = append(written, path)
	}
	return written, nil
}
