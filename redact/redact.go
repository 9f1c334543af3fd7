// Package redact scrubs secrets from the shell fragments embedded in
// notebook cells (shell escapes, %env magics and bash cell magics) before
// the notebook is sent to a hosted model.
package redact

import (
	"bytes"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Placeholders written in place of secrets.
const (
	VarPlaceholder   = "REDACTED"
	ValuePlaceholder = "***"
)

// safeVars are environment variables that are non-sensitive and useful context.
var safeVars = map[string]bool{
	"HOME": true, "USER": true, "PWD": true, "OLDPWD": true,
	"SHELL": true, "PATH": true, "LANG": true, "TERM": true,
	"HOSTNAME": true, "LOGNAME": true, "TMPDIR": true,
	"LC_ALL": true, "LC_CTYPE": true,
	"PYTHONPATH": true, "VIRTUAL_ENV": true, "CONDA_PREFIX": true,
	"CONDA_DEFAULT_ENV": true, "CUDA_VISIBLE_DEVICES": true,
	"OMP_NUM_THREADS": true, "JUPYTER_CONFIG_DIR": true,
}

// specialParams are shell special parameters that are never secrets.
var specialParams = map[string]bool{
	"?": true, "!": true, "#": true, "@": true, "*": true,
	"-": true, "$": true, "_": true,
	"0": true, "1": true, "2": true, "3": true, "4": true,
	"5": true, "6": true, "7": true, "8": true, "9": true,
}

// Script replaces sensitive variable expansions and assignment values in a
// bash script. Scripts that fail to parse go through a regex pass instead.
func Script(src string) string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(true))
	prog, err := parser.Parse(strings.NewReader(src), "")
	if err != nil {
		return regexRedact(src)
	}

	syntax.Walk(prog, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.ParamExp:
			if n.Param != nil && !safeVars[n.Param.Value] && !specialParams[n.Param.Value] {
				n.Param.Value = VarPlaceholder
			}
		case *syntax.Assign:
			if n.Name != nil && !safeVars[n.Name.Value] && n.Value != nil {
				n.Value.Parts = []syntax.WordPart{&syntax.Lit{Value: ValuePlaceholder}}
			}
		}
		return true
	})

	var buf bytes.Buffer
	printer := syntax.NewPrinter(syntax.Indent(0))
	if err := printer.Print(&buf, prog); err != nil {
		return regexRedact(src)
	}
	return strings.TrimRight(buf.String(), "\n")
}

var (
	reBraceVar  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	reSimpleVar = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	reAssign    = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)
)

func regexRedact(src string) string {
	src = reBraceVar.ReplaceAllStringFunc(src, func(m string) string {
		name := reBraceVar.FindStringSubmatch(m)[1]
		if safeVars[name] || specialParams[name] {
			return m
		}
		return "${" + VarPlaceholder + "}"
	})

	src = reSimpleVar.ReplaceAllStringFunc(src, func(m string) string {
		name := reSimpleVar.FindStringSubmatch(m)[1]
		if name == VarPlaceholder || safeVars[name] || specialParams[name] {
			return m
		}
		return "$" + VarPlaceholder
	})

	return reAssign.ReplaceAllStringFunc(src, func(m string) string {
		name := reAssign.FindStringSubmatch(m)[1]
		if safeVars[name] {
			return m
		}
		return name + "=" + ValuePlaceholder
	})
}
