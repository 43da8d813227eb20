package syntax

// Queries holds the tree-sitter queries shared by the JavaScript, TypeScript
// and TSX grammars. Capture names are the keys of Match.
var Queries = map[string]string{
	"declarations": `
		(export_statement
			declaration: (lexical_declaration
				(variable_declarator
					name: (identifier) @name
					value: (call_expression
						function: (identifier) @ctor
						arguments: (arguments) @args)))) @decl
	`,
	"imports": `
		(import_statement
			source: (string) @source) @import
	`,
	"theme": `
		(pair
			key: [(property_identifier) (string)] @key
			value: (object) @object) @pair
	`,
}
