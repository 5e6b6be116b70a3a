package display

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMissingBinding = errors.New("missing binding")

// format replaces {name} placeholders of line with values.
// {{ and }} stand for literal braces.
func format(line string, values map[string]string) (string, error) {
	if !strings.ContainsAny(line, "{}") {
		return line, nil
	}

	var sb strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch c {
		case '{':
			if i+1 < len(line) && line[i+1] == '{' {
				sb.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(line[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated placeholder in %q", line)
			}
			name := line[i+1 : i+1+end]
			value, ok := values[name]
			if !ok {
				return "", fmt.Errorf("%w {%s} in %q", ErrMissingBinding, name, line)
			}
			sb.WriteString(value)
			i += end + 1
		case '}':
			if i+1 < len(line) && line[i+1] == '}' {
				i++
			}
			sb.WriteByte('}')
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}
