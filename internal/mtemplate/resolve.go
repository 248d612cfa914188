package mtemplate

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Context is the lookup scope a reference resolves against: a node's
// produced results keyed by node id, and the variables currently in
// scope (set-node assignments, for_each item/index, workflow params).
type Context struct {
	Results   map[string]interface{}
	Variables map[string]interface{}
}

var refPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveArguments resolves every value in a node's argument map, recursing
// into nested maps and slices. It never mutates args; it returns a copy.
func ResolveArguments(args map[string]interface{}, ctx Context) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(args))
	for key, value := range args {
		v, err := ResolveValue(value, ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving argument %q: %w", key, err)
		}
		resolved[key] = v
	}
	return resolved, nil
}

// ResolveValue resolves "${...}" references in value, recursing through
// maps and slices. Non-string scalars pass through untouched.
func ResolveValue(value interface{}, ctx Context) (interface{}, error) {
	switch v := value.(type) {
	case string:
		if strings.Contains(v, "${") {
			return resolveString(v, ctx)
		}
		return v, nil
	case map[string]interface{}:
		resolved := make(map[string]interface{}, len(v))
		for k, val := range v {
			rv, err := ResolveValue(val, ctx)
			if err != nil {
				return nil, err
			}
			resolved[k] = rv
		}
		return resolved, nil
	case []interface{}:
		resolved := make([]interface{}, len(v))
		for i, val := range v {
			rv, err := ResolveValue(val, ctx)
			if err != nil {
				return nil, err
			}
			resolved[i] = rv
		}
		return resolved, nil
	default:
		return value, nil
	}
}

// resolveString implements the whole-string-vs-embedded distinction: a
// string that is exactly one "${ref}" resolves to the reference's native
// type; a string with a reference embedded in surrounding text resolves
// to a string, JSON-encoding non-string embedded values.
func resolveString(s string, ctx Context) (interface{}, error) {
	if isSingleReference(s) {
		ref := s[2 : len(s)-1]
		return resolveRef(ref, ctx)
	}

	var resolveErr error
	out := refPattern.ReplaceAllStringFunc(s, func(match string) string {
		if resolveErr != nil {
			return match
		}
		ref := match[2 : len(match)-1]
		v, err := resolveRef(ref, ctx)
		if err != nil {
			resolveErr = err
			return match
		}
		return embedAsString(v)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return out, nil
}

func isSingleReference(s string) bool {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return false
	}
	return strings.Count(s, "${") == 1
}

func embedAsString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// resolveRef resolves the contents of a single "${ref}" (without the
// surrounding delimiters). An "env:" prefix reads the environment. A plain
// name is looked up in variables, then node results; a dotted path looks
// up its first segment in node results, then variables, and walks the
// rest. An unknown name yields nil.
func resolveRef(ref string, ctx Context) (interface{}, error) {
	if rest, ok := strings.CutPrefix(ref, "env:"); ok {
		val, present := os.LookupEnv(rest)
		if !present {
			return nil, fmt.Errorf("environment variable not set: %s", rest)
		}
		return val, nil
	}

	if !strings.Contains(ref, ".") {
		if v, ok := ctx.Variables[ref]; ok {
			return v, nil
		}
		if v, ok := ctx.Results[ref]; ok {
			return v, nil
		}
		return nil, nil
	}

	nodeID, path, _ := strings.Cut(ref, ".")
	if v, ok := ctx.Results[nodeID]; ok {
		return getNestedValue(v, path), nil
	}
	if v, ok := ctx.Variables[nodeID]; ok {
		return getNestedValue(v, path), nil
	}
	return nil, nil
}

// getNestedValue walks a dot path through nested maps. A path segment
// that doesn't resolve to a map, or a missing key, yields nil rather
// than an error — mirroring the lenient lookup the workflow format
// relies on for optional fields.
func getNestedValue(obj interface{}, path string) interface{} {
	current := obj
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}
