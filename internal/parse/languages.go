// Package parse turns source files into node/reference postings using
// tree-sitter query dispatch, following the query-driven extraction style
// the corpus converges on rather than hand-walking each grammar's AST.
package parse

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
	tsx "github.com/smacker/go-tree-sitter/typescript/tsx"
)

// LanguageSpec pairs a tree-sitter grammar with the query that extracts
// both definitions and references from it. Capture names carry the node
// type they produce: def.function, def.class, def.struct, def.method,
// ref.call, ref.import, ref.type. @name captures the identifier for
// whichever definition or reference node it's nested under.
type LanguageSpec struct {
	Name     string
	Language *sitter.Language
	Query    string
}

var (
	registryOnce sync.Once
	extToLang    map[string]string
	specs        map[string]*LanguageSpec
)

func initRegistry() {
	registryOnce.Do(func() {
		extToLang = map[string]string{
			".go":  "go",
			".py":  "python",
			".js":  "javascript",
			".jsx": "javascript",
			".mjs": "javascript",
			".ts":  "typescript",
			".tsx": "tsx",
			".rs":  "rust",
		}
		specs = map[string]*LanguageSpec{
			"go":         {Name: "go", Language: golang.GetLanguage(), Query: goQuery},
			"python":     {Name: "python", Language: python.GetLanguage(), Query: pythonQuery},
			"javascript": {Name: "javascript", Language: javascript.GetLanguage(), Query: javascriptQuery},
			"typescript": {Name: "typescript", Language: ts.GetLanguage(), Query: typescriptQuery},
			"tsx":        {Name: "tsx", Language: tsx.GetLanguage(), Query: typescriptQuery},
			"rust":       {Name: "rust", Language: rust.GetLanguage(), Query: rustQuery},
		}
	})
}

// LanguageForFile returns the canonical language name for path's extension,
// or ("", false) if canopy has no grammar for it — such files fall back to
// the markdown section-scanner or the generic line chunker.
func LanguageForFile(path string) (string, bool) {
	initRegistry()
	lang, ok := extToLang[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// SpecForLanguage returns the LanguageSpec for a canonical language name.
func SpecForLanguage(lang string) (*LanguageSpec, bool) {
	initRegistry()
	s, ok := specs[lang]
	return s, ok
}

const goQuery = `
(function_declaration name: (identifier) @name) @def.function
(method_declaration name: (field_identifier) @name) @def.method
(type_spec name: (type_identifier) @name type: (struct_type)) @def.struct
(type_spec name: (type_identifier) @name) @def.class

(call_expression function: (identifier) @name) @ref.call
(call_expression function: (selector_expression operand: (identifier) @qualifier field: (field_identifier) @name)) @ref.call
(import_spec path: (interpreted_string_literal) @name) @ref.import
(type_identifier) @ref.type
`

const pythonQuery = `
(function_definition name: (identifier) @name) @def.function
(class_definition name: (identifier) @name) @def.class

(call function: (identifier) @name) @ref.call
(call function: (attribute object: (identifier) @qualifier attribute: (identifier) @name)) @ref.call
(import_statement name: (dotted_name) @name) @ref.import
(import_from_statement module_name: (dotted_name) @name) @ref.import
`

const javascriptQuery = `
(function_declaration name: (identifier) @name) @def.function
(class_declaration name: (identifier) @name) @def.class
(method_definition name: (property_identifier) @name) @def.method
(variable_declarator name: (identifier) value: [(arrow_function) (function)]) @def.function

(call_expression function: (identifier) @name) @ref.call
(call_expression function: (member_expression object: (identifier) @qualifier property: (property_identifier) @name)) @ref.call
(import_statement source: (string) @name) @ref.import
`

const typescriptQuery = `
(function_declaration name: (identifier) @name) @def.function
(class_declaration name: (type_identifier) @name) @def.class
(method_definition name: (property_identifier) @name) @def.method
(interface_declaration name: (type_identifier) @name) @def.class
(type_alias_declaration name: (type_identifier) @name) @def.class

(call_expression function: (identifier) @name) @ref.call
(call_expression function: (member_expression object: (identifier) @qualifier property: (property_identifier) @name)) @ref.call
(import_statement source: (string) @name) @ref.import
(type_identifier) @ref.type
`

const rustQuery = `
(function_item name: (identifier) @name) @def.function
(struct_item name: (type_identifier) @name) @def.struct
(impl_item type: (type_identifier) @name) @def.class
(trait_item name: (type_identifier) @name) @def.class

(call_expression function: (identifier) @name) @ref.call
(call_expression function: (field_expression value: (identifier) @qualifier field: (field_identifier) @name)) @ref.call
(use_declaration argument: (scoped_identifier) @name) @ref.import
(type_identifier) @ref.type
`
