package redact

import "strings"

var shellCellMagics = []string{"%%bash", "%%sh", "%%script bash", "%%script sh"}

// Cell redacts the shell fragments of a code cell's source. Python lines are
// left untouched.
func Cell(src string) string {
	lines := strings.Split(src, "\n")

	first := strings.TrimSpace(lines[0])
	for _, magic := range shellCellMagics {
		if first == magic || strings.HasPrefix(first, magic+" ") {
			if len(lines) == 1 {
				return src
			}
			return lines[0] + "\n" + Script(strings.Join(lines[1:], "\n"))
		}
	}

	for i, line := range lines {
		body := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(body)]
		switch {
		case strings.HasPrefix(body, "!"):
			lines[i] = indent + "!" + Script(body[1:])
		case strings.HasPrefix(body, "%env "):
			lines[i] = indent + "%env " + envMagic(strings.TrimPrefix(body, "%env "))
		}
	}
	return strings.Join(lines, "\n")
}

// envMagic handles the argument of "%env NAME=VALUE" and "%env NAME VALUE".
func envMagic(arg string) string {
	name, _, found := strings.Cut(arg, "=")
	sep := "="
	if !found {
		name, _, found = strings.Cut(arg, " ")
		sep = " "
	}
	name = strings.TrimSpace(name)
	if !found || safeVars[name] {
		return arg
	}
	return name + sep + ValuePlaceholder
}
