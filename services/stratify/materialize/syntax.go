// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package materialize

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// detectLanguage maps a file extension to a tree-sitter grammar name.
// Unknown extensions return "" and are not syntax-checked.
func detectLanguage(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".go":
		return "go"
	case ".py", ".pyi":
		return "python"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".mts", ".cts":
		return "typescript"
	case ".tsx":
		return "tsx"
	default:
		return ""
	}
}

func grammar(language string) *sitter.Language {
	switch language {
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		return typescript.GetLanguage()
	case "tsx":
		return tsx.GetLanguage()
	default:
		return nil
	}
}

// CheckSyntax parses content with tree-sitter and fails with ErrSyntax when
// the tree contains an error or missing node. Files in languages without a
// grammar pass unchecked.
//
// A parser is created per call; tree-sitter parsers are not shared.
func CheckSyntax(ctx context.Context, file string, content []byte) error {
	language := detectLanguage(file)
	lang := grammar(language)
	if lang == nil {
		return nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", file, err)
	}
	defer tree.Close()

	if bad := findFirstError(tree.RootNode()); bad != nil {
		syntaxRejections.WithLabelValues(language).Inc()
		return fmt.Errorf("%w: %s:%d:%d", ErrSyntax, file,
			bad.StartPoint().Row+1, bad.StartPoint().Column+1)
	}
	return nil
}

// findFirstError returns the first error or missing node in document order.
func findFirstError(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if bad := findFirstError(node.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}
