package verify

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// SyntaxChecker parses content with tree-sitter and reports ERROR and
// MISSING nodes. Files whose extension has no grammar are not checked.
type SyntaxChecker struct {
	grammars map[string]func() *sitter.Language
}

// NewSyntaxChecker returns a checker with grammars for Go, Python,
// JavaScript, TypeScript, TSX, Rust and shell scripts.
func NewSyntaxChecker() *SyntaxChecker {
	return &SyntaxChecker{grammars: map[string]func() *sitter.Language{
		".go":  golang.GetLanguage,
		".py":  python.GetLanguage,
		".js":  javascript.GetLanguage,
		".jsx": javascript.GetLanguage,
		".mjs": javascript.GetLanguage,
		".ts":  typescript.GetLanguage,
		".tsx": tsx.GetLanguage,
		".rs":  rust.GetLanguage,
		".sh":  bash.GetLanguage,
	}}
}

// Name implements Checker.
func (s *SyntaxChecker) Name() string { return "syntax" }

// Supports reports whether a grammar exists for path.
func (s *SyntaxChecker) Supports(path string) bool {
	_, ok := s.grammars[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Check implements Checker. Each returned entry names the line of one
// syntax error; nested errors below an ERROR node are not counted twice.
func (s *SyntaxChecker) Check(ctx context.Context, path, content string) ([]string, error) {
	grammar, ok := s.grammars[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar())

	tree, err := parser.ParseCtx(ctx, nil, []byte(content))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	defer tree.Close()

	var errs []string
	collectSyntaxErrors(tree.RootNode(), &errs)
	return errs, nil
}

func collectSyntaxErrors(node *sitter.Node, errs *[]string) {
	if node == nil {
		return
	}
	if node.IsError() || node.IsMissing() {
		kind := "syntax error"
		if node.IsMissing() {
			kind = "missing " + node.Type()
		}
		*errs = append(*errs, fmt.Sprintf("line %d: %s", node.StartPoint().Row+1, kind))
		return
	}
	if !node.HasError() {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectSyntaxErrors(node.Child(i), errs)
	}
}
