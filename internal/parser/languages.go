package parser

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// grammarSpec maps one tree-sitter grammar's node types onto generic kinds
type grammarSpec struct {
	language     func() *sitter.Language
	capabilities []string

	modules    set
	functions  set
	structs    set
	params     set
	blocks     set
	ifs        set
	loops      set
	tries      set
	handlers   set
	finallies  set
	withs      set
	returns    set
	throws     set
	breaks     set
	continues  set
	assigns    set
	decls      set
	calls      set
	exprStmts  set
	idents     set
	skipped    set
	modifiers  set
	implicitFn func(index int, name string) bool
}

type set map[string]bool

func newSet(items ...string) set {
	s := make(set, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}

var (
	grammarOnce sync.Once
	grammars    map[string]*grammarSpec
)

var baseCapabilities = []string{AttrName, AttrCallee, AttrReceiver, AttrArgs, AttrTarget, CapabilityCFG}

func withCaps(extra ...string) []string {
	out := append([]string{}, baseCapabilities...)
	return append(out, extra...)
}

func pythonSelf(index int, name string) bool {
	return index == 0 && (name == "self" || name == "cls")
}

func initGrammars() {
	grammars = map[string]*grammarSpec{
		"python": {
			language:     python.GetLanguage,
			capabilities: withCaps(AttrType),
			modules:      newSet("module"),
			functions:    newSet("function_definition", "lambda"),
			structs:      newSet("class_definition"),
			params:       newSet("identifier", "typed_parameter", "default_parameter", "typed_default_parameter", "list_splat_pattern", "dictionary_splat_pattern"),
			blocks:       newSet("block"),
			ifs:          newSet("if_statement"),
			loops:        newSet("while_statement", "for_statement"),
			tries:        newSet("try_statement"),
			handlers:     newSet("except_clause", "except_group_clause"),
			finallies:    newSet("finally_clause"),
			withs:        newSet("with_statement"),
			returns:      newSet("return_statement"),
			throws:       newSet("raise_statement"),
			breaks:       newSet("break_statement"),
			continues:    newSet("continue_statement"),
			assigns:      newSet("assignment"),
			calls:        newSet("call"),
			exprStmts:    newSet("expression_statement"),
			idents:       newSet("identifier"),
			skipped:      newSet("comment", "pass_statement"),
			implicitFn:   pythonSelf,
		},
		"go": {
			language:     golang.GetLanguage,
			capabilities: withCaps(AttrType),
			modules:      newSet("source_file"),
			functions:    newSet("function_declaration", "method_declaration", "func_literal"),
			structs:      newSet("type_spec"),
			params:       newSet("parameter_declaration", "variadic_parameter_declaration"),
			blocks:       newSet("block", "statement_list"),
			ifs:          newSet("if_statement"),
			loops:        newSet("for_statement"),
			returns:      newSet("return_statement"),
			breaks:       newSet("break_statement"),
			continues:    newSet("continue_statement"),
			assigns:      newSet("short_var_declaration", "assignment_statement", "var_spec"),
			decls:        newSet("var_declaration"),
			calls:        newSet("call_expression"),
			exprStmts:    newSet("expression_statement", "defer_statement", "go_statement"),
			idents:       newSet("identifier", "field_identifier"),
			skipped:      newSet("comment", "package_clause", "import_declaration"),
		},
		"c": {
			language:     c.GetLanguage,
			capabilities: withCaps(AttrType, AttrAnnotations),
			modules:      newSet("translation_unit"),
			functions:    newSet("function_definition"),
			structs:      newSet("struct_specifier"),
			params:       newSet("parameter_declaration"),
			blocks:       newSet("compound_statement"),
			ifs:          newSet("if_statement"),
			loops:        newSet("while_statement", "for_statement", "do_statement"),
			returns:      newSet("return_statement"),
			breaks:       newSet("break_statement"),
			continues:    newSet("continue_statement"),
			assigns:      newSet("init_declarator", "assignment_expression"),
			decls:        newSet("declaration"),
			calls:        newSet("call_expression"),
			exprStmts:    newSet("expression_statement"),
			idents:       newSet("identifier"),
			skipped:      newSet("comment", "preproc_include", "preproc_def"),
			modifiers:    newSet("type_qualifier", "storage_class_specifier"),
		},
		"javascript": {
			language:     javascript.GetLanguage,
			capabilities: withCaps(),
			modules:      newSet("program"),
			functions:    newSet("function_declaration", "function_expression", "function", "arrow_function", "method_definition", "generator_function_declaration"),
			structs:      newSet("class_declaration"),
			params:       newSet("identifier", "assignment_pattern", "rest_pattern", "object_pattern", "array_pattern"),
			blocks:       newSet("statement_block", "class_body"),
			ifs:          newSet("if_statement"),
			loops:        newSet("while_statement", "for_statement", "for_in_statement", "do_statement"),
			tries:        newSet("try_statement"),
			handlers:     newSet("catch_clause"),
			finallies:    newSet("finally_clause"),
			returns:      newSet("return_statement"),
			throws:       newSet("throw_statement"),
			breaks:       newSet("break_statement"),
			continues:    newSet("continue_statement"),
			assigns:      newSet("variable_declarator", "assignment_expression"),
			decls:        newSet("lexical_declaration", "variable_declaration"),
			calls:        newSet("call_expression", "new_expression"),
			exprStmts:    newSet("expression_statement"),
			idents:       newSet("identifier", "property_identifier"),
			skipped:      newSet("comment"),
		},
		"typescript": {
			language:     typescript.GetLanguage,
			capabilities: withCaps(AttrType),
			modules:      newSet("program"),
			functions:    newSet("function_declaration", "function_expression", "function", "arrow_function", "method_definition", "generator_function_declaration"),
			structs:      newSet("class_declaration", "interface_declaration"),
			params:       newSet("required_parameter", "optional_parameter"),
			blocks:       newSet("statement_block", "class_body"),
			ifs:          newSet("if_statement"),
			loops:        newSet("while_statement", "for_statement", "for_in_statement", "do_statement"),
			tries:        newSet("try_statement"),
			handlers:     newSet("catch_clause"),
			finallies:    newSet("finally_clause"),
			returns:      newSet("return_statement"),
			throws:       newSet("throw_statement"),
			breaks:       newSet("break_statement"),
			continues:    newSet("continue_statement"),
			assigns:      newSet("variable_declarator", "assignment_expression"),
			decls:        newSet("lexical_declaration", "variable_declaration"),
			calls:        newSet("call_expression", "new_expression"),
			exprStmts:    newSet("expression_statement"),
			idents:       newSet("identifier", "property_identifier"),
			skipped:      newSet("comment"),
			modifiers:    newSet("accessibility_modifier", "readonly"),
		},
		"rust": {
			language:     rust.GetLanguage,
			capabilities: withCaps(AttrType, AttrAnnotations),
			modules:      newSet("source_file"),
			functions:    newSet("function_item", "closure_expression"),
			structs:      newSet("struct_item", "enum_item"),
			params:       newSet("parameter", "self_parameter"),
			blocks:       newSet("block", "declaration_list"),
			ifs:          newSet("if_expression"),
			loops:        newSet("while_expression", "loop_expression", "for_expression"),
			returns:      newSet("return_expression"),
			breaks:       newSet("break_expression"),
			continues:    newSet("continue_expression"),
			assigns:      newSet("let_declaration", "assignment_expression"),
			calls:        newSet("call_expression", "macro_invocation"),
			exprStmts:    newSet("expression_statement"),
			idents:       newSet("identifier", "field_identifier"),
			skipped:      newSet("line_comment", "block_comment", "use_declaration"),
			modifiers:    newSet("mutable_specifier"),
		},
	}
}

// lookupGrammar returns the grammar spec for a language name or alias
func lookupGrammar(language string) (*grammarSpec, bool) {
	grammarOnce.Do(initGrammars)
	switch strings.ToLower(language) {
	case "golang":
		language = "go"
	case "js":
		language = "javascript"
	case "ts":
		language = "typescript"
	}
	spec, ok := grammars[strings.ToLower(language)]
	return spec, ok
}

// GrammarLanguages lists the languages with a tree-sitter grammar
func GrammarLanguages() []string {
	grammarOnce.Do(initGrammars)
	out := make([]string, 0, len(grammars))
	for name := range grammars {
		out = append(out, name)
	}
	return out
}
