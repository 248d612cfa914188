package expr

import (
	"fmt"
	"math"

	"skein/internal/apierrors"
)

// Vars is the variable context an expression is evaluated against:
// node outputs, loop items, and params, all flattened into one map by
// the caller (the workflow engine's ExecutionContext).
type Vars map[string]interface{}

// Eval parses and evaluates source in one step. Callers that evaluate the
// same expression repeatedly (e.g. a for_each item filter) should call
// Parse once and reuse the returned node with Run.
func Eval(source string, vars Vars) (interface{}, error) {
	n, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return Run(n, vars)
}

// EvalBool is Eval plus Python-style truthiness coercion, used by `if` and
// `for_each` filter conditions where the result must be a bool.
func EvalBool(source string, vars Vars) (bool, error) {
	v, err := Eval(source, vars)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// Run walks a parsed node against vars. Any reference to an identifier not
// present in vars, or any runtime type mismatch, surfaces as an
// UnsafeExpressionError rather than panicking — the evaluator never trusts
// its input to be well-typed.
func Run(n node, vars Vars) (interface{}, error) {
	switch t := n.(type) {
	case literalNode:
		return t.value, nil
	case identNode:
		v, ok := vars[t.name]
		if !ok {
			return nil, &apierrors.UnsafeExpressionError{
				Construct: "identifier",
				Reason:    fmt.Sprintf("undefined variable %q", t.name),
			}
		}
		return v, nil
	case unaryNode:
		return evalUnary(t, vars)
	case binaryNode:
		return evalBinary(t, vars)
	case compareNode:
		return evalCompare(t, vars)
	case boolOpNode:
		return evalBoolOp(t, vars)
	case inNode:
		return evalIn(t, vars)
	case callNode:
		return evalCall(t, vars)
	}
	return nil, &apierrors.UnsafeExpressionError{Construct: "node", Reason: "unrecognised AST node"}
}

func evalUnary(t unaryNode, vars Vars) (interface{}, error) {
	v, err := Run(t.operand, vars)
	if err != nil {
		return nil, err
	}
	switch t.op {
	case "not":
		return !truthy(v), nil
	case "-":
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		return -f, nil
	case "+":
		return toFloat(v)
	}
	return nil, unsafef("unary operator", "unsupported operator %q", t.op)
}

func evalBinary(t binaryNode, vars Vars) (interface{}, error) {
	lv, err := Run(t.left, vars)
	if err != nil {
		return nil, err
	}
	rv, err := Run(t.right, vars)
	if err != nil {
		return nil, err
	}
	if t.op == "+" {
		if ls, ok := lv.(string); ok {
			rs, ok := rv.(string)
			if !ok {
				return nil, unsafef("binary operator", "cannot add string and non-string")
			}
			return ls + rs, nil
		}
	}
	lf, err := toFloat(lv)
	if err != nil {
		return nil, err
	}
	rf, err := toFloat(rv)
	if err != nil {
		return nil, err
	}
	switch t.op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, unsafef("division", "division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, unsafef("division", "modulo by zero")
		}
		return math.Mod(lf, rf), nil
	case "**":
		return math.Pow(lf, rf), nil
	}
	return nil, unsafef("binary operator", "unsupported operator %q", t.op)
}

func evalCompare(t compareNode, vars Vars) (interface{}, error) {
	left, err := Run(t.operands[0], vars)
	if err != nil {
		return nil, err
	}
	for i, op := range t.ops {
		right, err := Run(t.operands[i+1], vars)
		if err != nil {
			return nil, err
		}
		ok, err := compareOne(left, op, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func compareOne(a interface{}, op string, b interface{}) (bool, error) {
	if op == "==" || op == "!=" {
		eq := looseEqual(a, b)
		if op == "!=" {
			return !eq, nil
		}
		return eq, nil
	}
	af, aerr := toFloat(a)
	bf, berr := toFloat(b)
	if aerr != nil || berr != nil {
		as, aok := a.(string)
		bs, bok := b.(string)
		if !aok || !bok {
			return false, unsafef("comparison", "cannot order non-numeric, non-string operands")
		}
		switch op {
		case "<":
			return as < bs, nil
		case "<=":
			return as <= bs, nil
		case ">":
			return as > bs, nil
		case ">=":
			return as >= bs, nil
		}
		return false, unsafef("comparison", "unsupported operator %q", op)
	}
	switch op {
	case "<":
		return af < bf, nil
	case "<=":
		return af <= bf, nil
	case ">":
		return af > bf, nil
	case ">=":
		return af >= bf, nil
	}
	return false, unsafef("comparison", "unsupported operator %q", op)
}

func evalBoolOp(t boolOpNode, vars Vars) (interface{}, error) {
	for i, vn := range t.values {
		v, err := Run(vn, vars)
		if err != nil {
			return nil, err
		}
		truth := truthy(v)
		if t.op == "or" && truth {
			return v, nil
		}
		if t.op == "and" && !truth {
			return v, nil
		}
		if i == len(t.values)-1 {
			return v, nil
		}
	}
	return false, nil
}

func evalIn(t inNode, vars Vars) (interface{}, error) {
	needle, err := Run(t.needle, vars)
	if err != nil {
		return nil, err
	}
	hay, err := Run(t.hay, vars)
	if err != nil {
		return nil, err
	}
	found, err := membership(needle, hay)
	if err != nil {
		return nil, err
	}
	if t.negate {
		return !found, nil
	}
	return found, nil
}

func membership(needle, hay interface{}) (bool, error) {
	switch h := hay.(type) {
	case string:
		ns, ok := needle.(string)
		if !ok {
			return false, unsafef("membership", "cannot test non-string membership in string")
		}
		return containsSubstr(h, ns), nil
	case []interface{}:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true, nil
			}
		}
		return false, nil
	case map[string]interface{}:
		ns, ok := needle.(string)
		if !ok {
			return false, unsafef("membership", "map keys are strings")
		}
		_, present := h[ns]
		return present, nil
	}
	return false, unsafef("membership", "right-hand side of 'in' must be a string, list, or object")
}

func evalCall(t callNode, vars Vars) (interface{}, error) {
	if !whitelistedFuncs[t.name] {
		return nil, unsafef("function call", "function %q is not whitelisted", t.name)
	}
	args := make([]interface{}, len(t.args))
	for i, a := range t.args {
		v, err := Run(a, vars)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return callBuiltin(t.name, args)
}

func callBuiltin(name string, args []interface{}) (interface{}, error) {
	switch name {
	case "len":
		if len(args) != 1 {
			return nil, unsafef("function call", "len() takes exactly one argument")
		}
		return builtinLen(args[0])
	case "str":
		if len(args) != 1 {
			return nil, unsafef("function call", "str() takes exactly one argument")
		}
		return fmt.Sprintf("%v", args[0]), nil
	case "int":
		if len(args) != 1 {
			return nil, unsafef("function call", "int() takes exactly one argument")
		}
		f, err := toFloat(args[0])
		if err != nil {
			return nil, err
		}
		return math.Trunc(f), nil
	case "float":
		if len(args) != 1 {
			return nil, unsafef("function call", "float() takes exactly one argument")
		}
		return toFloat(args[0])
	case "bool":
		if len(args) != 1 {
			return nil, unsafef("function call", "bool() takes exactly one argument")
		}
		return truthy(args[0]), nil
	case "abs":
		if len(args) != 1 {
			return nil, unsafef("function call", "abs() takes exactly one argument")
		}
		f, err := toFloat(args[0])
		if err != nil {
			return nil, err
		}
		return math.Abs(f), nil
	case "min", "max":
		if len(args) == 0 {
			return nil, unsafef("function call", "%s() requires at least one argument", name)
		}
		vals := args
		if len(args) == 1 {
			list, ok := args[0].([]interface{})
			if !ok {
				return nil, unsafef("function call", "%s() of a single argument requires a list", name)
			}
			vals = list
		}
		best, err := toFloat(vals[0])
		if err != nil {
			return nil, err
		}
		for _, v := range vals[1:] {
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			if (name == "min" && f < best) || (name == "max" && f > best) {
				best = f
			}
		}
		return best, nil
	}
	return nil, unsafef("function call", "function %q is not whitelisted", name)
}

func builtinLen(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case string:
		return float64(len([]rune(x))), nil
	case []interface{}:
		return float64(len(x)), nil
	case map[string]interface{}:
		return float64(len(x)), nil
	}
	return nil, unsafef("function call", "len() requires a string, list, or object")
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []interface{}:
		return len(x) > 0
	case map[string]interface{}:
		return len(x) > 0
	}
	return true
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	return 0, unsafef("numeric coercion", "value is not numeric")
}

func looseEqual(a, b interface{}) bool {
	af, aerr := toFloat(a)
	bf, berr := toFloat(b)
	if aerr == nil && berr == nil {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) && sameKind(a, b)
}

func sameKind(a, b interface{}) bool {
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case nil:
		return b == nil
	}
	return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

func containsSubstr(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func unsafef(construct, format string, args ...interface{}) error {
	return &apierrors.UnsafeExpressionError{
		Construct: construct,
		Reason:    fmt.Sprintf(format, args...),
	}
}
