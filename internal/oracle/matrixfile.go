package oracle

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	matrixKeyword = regexp.MustCompile(`^\s*(?i:matrix)\s*$`)
	comment       = regexp.MustCompile(`\[[^\]]*\]`)
)

// Row names and character strings of the matrix command in a NEXUS data or
// characters block, in the order they appear. Interleaved blocks are joined,
// quoted names are unquoted, and whitespace inside a row is dropped.
func ParseMatrix(text string) ([]string, []string, error) {
	names := make([]string, 0)
	rows := make([]string, 0)
	at := make(map[string]int)
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024*1024)
	inMatrix, ended := false, false
	for i := 1; scanner.Scan(); i++ {
		line := scanner.Text()
		if !inMatrix {
			inMatrix = matrixKeyword.MatchString(line)
			continue
		}
		line = comment.ReplaceAllString(line, "")
		if end := strings.IndexByte(line, ';'); end >= 0 {
			line, ended = line[:end], true
		}
		if line = strings.TrimSpace(line); line != "" {
			name, chars, ok := splitRow(line)
			if !ok {
				return nil, nil, fmt.Errorf("%w %w on line %d: %q", ErrOracleInvocation, errMalformedMatrix, i, line)
			}
			if j, seen := at[name]; seen {
				rows[j] += chars
			} else {
				at[name] = len(names)
				names = append(names, name)
				rows = append(rows, chars)
			}
		}
		if ended {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w, could not read matrix output: %s", ErrOracleInvocation, err)
	}
	if !ended || len(names) == 0 {
		return nil, nil, fmt.Errorf("%w %w, no complete matrix command found", ErrOracleInvocation, errMalformedMatrix)
	}
	return names, rows, nil
}

// Splits a matrix row into its (possibly quoted) name and characters
func splitRow(line string) (string, string, bool) {
	var name, rest string
	if line[0] == '\'' {
		end := strings.IndexByte(line[1:], '\'')
		if end < 0 {
			return "", "", false
		}
		name, rest = line[1:end+1], line[end+2:]
	} else {
		end := strings.IndexFunc(line, unicode.IsSpace)
		if end < 0 {
			return "", "", false
		}
		name, rest = line[:end], line[end:]
	}
	chars := strings.Join(strings.Fields(rest), "")
	return name, chars, name != "" && chars != ""
}
