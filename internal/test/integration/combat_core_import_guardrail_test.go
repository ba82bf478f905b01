//go:build integration

package integration

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// TestCombatCoreImportsStayPure walks the state machine packages and flags
// imports of persistence or transport. Deciders and folds must stay
// replayable: everything they consume arrives in the intent or the event.
func TestCombatCoreImportsStayPure(t *testing.T) {
	root := repoRoot(t)
	forbidden := combatCoreForbiddenImportPrefixes()
	allowlist := combatCoreImportAllowlist()
	var violations []string

	for _, dir := range combatCorePackageDirs() {
		err := filepath.WalkDir(filepath.Join(root, filepath.FromSlash(dir)), func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}

			fset := token.NewFileSet()
			file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if err != nil {
				return err
			}
			for _, spec := range file.Imports {
				importPath, err := strconv.Unquote(spec.Path.Value)
				if err != nil {
					return err
				}
				if !isForbiddenCombatCoreImport(importPath, forbidden) {
					continue
				}
				rel, err := filepath.Rel(root, path)
				if err != nil {
					return err
				}
				rel = filepath.ToSlash(rel)
				if _, ok := allowlist[rel]; ok {
					continue
				}
				violations = append(violations, rel+" imports "+importPath)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("scan %s: %v", dir, err)
		}
	}

	if len(violations) > 0 {
		t.Fatalf("combat core packages must not touch persistence or transport:\n- %s", strings.Join(violations, "\n- "))
	}
}

func TestCombatCoreGuardrailCoversTheStateMachine(t *testing.T) {
	dirs := combatCorePackageDirs()
	if len(dirs) == 0 {
		t.Fatal("expected at least one scanned package")
	}
	found := false
	for _, dir := range dirs {
		if dir == "internal/combat/session" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected scan scope to include internal/combat/session, got %v", dirs)
	}
}

// combatCorePackageDirs lists the packages whose decide and fold logic must
// stay free of side effects.
func combatCorePackageDirs() []string {
	return []string{
		"internal/combat/session",
		"internal/combat/action",
		"internal/combat/initiative",
		"internal/combat/participant",
		"internal/combat/plane",
		"internal/combat/intent",
		"internal/combat/event",
		"internal/combat/encoding",
	}
}

func combatCoreForbiddenImportPrefixes() []string {
	return []string{
		"github.com/ttrpg-tools/crossfire/internal/combat/journal",
		"github.com/ttrpg-tools/crossfire/internal/combat/storage",
		"github.com/ttrpg-tools/crossfire/internal/combat/service",
		"github.com/ttrpg-tools/crossfire/internal/combat/runtime",
		"github.com/ttrpg-tools/crossfire/internal/api",
		"github.com/ttrpg-tools/crossfire/internal/mcp",
		"net/http",
		"database/sql",
	}
}

func isForbiddenCombatCoreImport(importPath string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if importPath == prefix || strings.HasPrefix(importPath, prefix+"/") {
			return true
		}
	}
	return false
}

func combatCoreImportAllowlist() map[string]struct{} {
	return map[string]struct{}{}
}
