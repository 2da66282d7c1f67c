package env

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Parse reads a .env file. Supported lines: KEY=value, export KEY=value,
// KEY="double quoted" with \n and \" escapes, KEY='single quoted' taken
// literally, and # comments (also after unquoted values).
func Parse(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open env file: %w", err)
	}
	defer file.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

		key, raw, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("%s:%d: expected KEY=value", path, lineNo)
		}

		value, err := unquote(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		vars[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading env file: %w", err)
	}
	return vars, nil
}

func unquote(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	switch v[0] {
	case '\'':
		end := strings.IndexByte(v[1:], '\'')
		if end < 0 {
			return "", fmt.Errorf("unterminated single quote")
		}
		return v[1 : end+1], nil
	case '"':
		var b strings.Builder
		for i := 1; i < len(v); i++ {
			c := v[i]
			switch {
			case c == '"':
				return b.String(), nil
			case c == '\\' && i+1 < len(v):
				i++
				switch v[i] {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				default:
					b.WriteByte(v[i])
				}
			default:
				b.WriteByte(c)
			}
		}
		return "", fmt.Errorf("unterminated double quote")
	}

	if i := strings.Index(v, " #"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v), nil
}

// Export sets vars in the process environment. Variables already set are
// kept unless override is true. It returns the keys it set, sorted.
func Export(vars map[string]string, override bool) ([]string, error) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var set []string
	for _, k := range keys {
		if _, exists := os.LookupEnv(k); exists && !override {
			continue
		}
		if err := os.Setenv(k, vars[k]); err != nil {
			return set, fmt.Errorf("cannot set %s: %w", k, err)
		}
		set = append(set, k)
	}
	return set, nil
}

// Load parses path and exports its variables without overriding the
// existing environment.
func Load(path string) ([]string, error) {
	vars, err := Parse(path)
	if err != nil {
		return nil, err
	}
	return Export(vars, false)
}
