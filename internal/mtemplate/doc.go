// Package mtemplate resolves "${...}" references inside workflow node
// arguments: environment variables, other nodes' results by id and dot
// path, and loop/workflow variables. It is the Go counterpart of the
// resolveArguments/resolveValue/resolveTemplate chain in the workflow
// executor this was adapted from, generalised from Go's "{{ }}" template
// delimiters to the "${ }" reference syntax the workflow format uses.
//
// A value that is exactly one reference ("${node.output}") resolves to
// the referenced value's native type. A value with a reference embedded
// in surrounding text ("count: ${node.total}") resolves to a string,
// with non-string embedded values JSON-encoded before substitution.
// Anything else passes through unchanged.
//
// Supplementary helper expansion (date formatting, string case
// conversion, defaults) is available through ExpandHelpers, a thin
// wrapper around text/template plus sprig for operators who want
// Go-template helper functions inside a resolved string. It takes an
// already-resolved string; ResolveValue and ResolveArguments never call it.
package mtemplate
