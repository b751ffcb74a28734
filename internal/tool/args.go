package tool

import "encoding/json"

// Args is the validated argument set of a tool call. Dependency resolution
// produces new values through Merge rather than mutating the caller's map.
type Args map[string]any

func ParseArgs(raw json.RawMessage) (Args, error) {
	if len(raw) == 0 {
		return Args{}, nil
	}
	var a Args
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	if a == nil {
		a = Args{}
	}
	return a, nil
}

func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Merge returns a copy of a with every entry of other applied on top.
func (a Args) Merge(other Args) Args {
	out := a.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (a Args) Has(key string) bool {
	v, ok := a[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

// String returns the value for key if it is a non-empty string.
func (a Args) String(key string) string {
	if s, ok := a[key].(string); ok {
		return s
	}
	return ""
}

// Bool returns the value for key when it is a bool; otherwise the default.
func (a Args) Bool(key string, def bool) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	return def
}

// Int handles both float64 (JSON numbers) and int values.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// Objects returns the value for key as a list, preserving non-object entries
// as nil so callers can report the malformed index.
func (a Args) Objects(key string) ([]Args, bool) {
	raw, ok := a[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]Args, len(raw))
	for i, item := range raw {
		if m, isMap := item.(map[string]any); isMap {
			out[i] = Args(m)
		}
	}
	return out, true
}

// Object returns the value for key as a nested Args.
func (a Args) Object(key string) Args {
	if m, ok := a[key].(map[string]any); ok {
		return Args(m)
	}
	return nil
}
