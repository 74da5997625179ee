package memory

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

// IndexStats summarizes one indexing pass.
type IndexStats struct {
	Files   int
	Symbols int
	Edges   int
}

// IndexWorkspace walks root and refreshes the symbol and call-edge tables for
// every Go source file found. Paths are stored relative to root. Hidden and
// vendor directories are skipped.
func (s *Store) IndexWorkspace(ctx context.Context, root string) (IndexStats, error) {
	var stats IndexStats

	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return stats, fmt.Errorf("memory: index workspace: %w", err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("memory: index workspace: %s is not a directory", root)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDir(d.Name()) && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".go") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		fileStats, err := s.indexFile(ctx, path, filepath.ToSlash(rel))
		if err != nil {
			// A file that does not parse is not fatal; the rest of the
			// workspace is still worth indexing.
			return nil
		}
		stats.Files++
		stats.Symbols += fileStats.Symbols
		stats.Edges += fileStats.Edges
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("memory: index workspace: %w", err)
	}
	return stats, nil
}

func skipDir(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}
	switch name {
	case "vendor", "node_modules", "testdata":
		return true
	}
	return false
}

func (s *Store) indexFile(ctx context.Context, path, rel string) (IndexStats, error) {
	var stats IndexStats

	src, err := os.ReadFile(path)
	if err != nil {
		return stats, err
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.SkipObjectResolution)
	if err != nil {
		return stats, err
	}

	if err := s.DeleteFileSymbols(ctx, rel); err != nil {
		return stats, err
	}

	lines := strings.Split(string(src), "\n")
	snippetAt := func(pos token.Pos) string {
		line := fset.Position(pos).Line
		if line < 1 || line > len(lines) {
			return ""
		}
		return strings.TrimSpace(lines[line-1])
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			name, kind := funcSymbol(d)
			hit := contractx.CodeHit{
				Path:    rel,
				Symbol:  name,
				Kind:    kind,
				Line:    fset.Position(d.Pos()).Line,
				Snippet: snippetAt(d.Pos()),
			}
			if err := s.UpsertSymbol(ctx, hit); err != nil {
				return stats, err
			}
			stats.Symbols++

			n, err := s.indexCalls(ctx, fset, rel, name, d.Body)
			if err != nil {
				return stats, err
			}
			stats.Edges += n

		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				hit := contractx.CodeHit{
					Path:    rel,
					Symbol:  ts.Name.Name,
					Kind:    typeKind(ts),
					Line:    fset.Position(ts.Pos()).Line,
					Snippet: snippetAt(ts.Pos()),
				}
				if err := s.UpsertSymbol(ctx, hit); err != nil {
					return stats, err
				}
				stats.Symbols++
			}
		}
	}
	return stats, nil
}

// funcSymbol names a function declaration. Methods are stored as "Type.Name"
// so callers can ask about a method without knowing the receiver variable.
func funcSymbol(d *ast.FuncDecl) (string, string) {
	if d.Recv == nil || len(d.Recv.List) == 0 {
		return d.Name.Name, "func"
	}
	if recv := receiverTypeName(d.Recv.List[0].Type); recv != "" {
		return recv + "." + d.Name.Name, "method"
	}
	return d.Name.Name, "method"
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.IndexExpr:
		return receiverTypeName(t.X)
	case *ast.IndexListExpr:
		return receiverTypeName(t.X)
	}
	return ""
}

func typeKind(ts *ast.TypeSpec) string {
	switch ts.Type.(type) {
	case *ast.StructType:
		return "struct"
	case *ast.InterfaceType:
		return "interface"
	}
	return "type"
}

// indexCalls records an edge per call expression inside body. Callee names are
// bare identifiers ("Publish", not "events.Publish") so lookups match calls
// regardless of how the package was imported.
func (s *Store) indexCalls(ctx context.Context, fset *token.FileSet, rel, caller string, body *ast.BlockStmt) (int, error) {
	if body == nil {
		return 0, nil
	}

	var edges int
	var inspectErr error
	ast.Inspect(body, func(n ast.Node) bool {
		if inspectErr != nil {
			return false
		}
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		callee := calleeName(call.Fun)
		if callee == "" {
			return true
		}
		edge := contractx.CallEdge{
			Caller: caller,
			Callee: callee,
			Path:   rel,
			Line:   fset.Position(call.Pos()).Line,
		}
		if err := s.AddCallEdge(ctx, edge); err != nil {
			inspectErr = err
			return false
		}
		edges++
		return true
	})
	return edges, inspectErr
}

func calleeName(expr ast.Expr) string {
	switch f := expr.(type) {
	case *ast.Ident:
		return f.Name
	case *ast.SelectorExpr:
		return f.Sel.Name
	case *ast.IndexExpr:
		return calleeName(f.X)
	case *ast.IndexListExpr:
		return calleeName(f.X)
	}
	return ""
}
