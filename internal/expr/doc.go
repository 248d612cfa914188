// Package expr implements the safe expression evaluator used by workflow
// `if` conditions and `for_each` item expressions.
//
// The grammar is a small, explicitly whitelisted subset of expression
// syntax: literals, identifier lookups into a caller-supplied variable map,
// arithmetic, comparison, logical and membership operators, and calls to a
// fixed set of builtin functions. Anything outside that grammar — attribute
// access, indexing of arbitrary objects, assignment, comprehensions,
// lambdas — fails closed with an *apierrors.UnsafeExpressionError rather
// than falling back to a host-language eval. This mirrors the teacher's
// safety posture (no text/template execution of untrusted condition
// strings) while following the AST-restricted design of the original
// Python SafeEvaluator it was distilled from.
package expr
