package patterns

import "regexp"

// JacDefs are the syntax markers of the Jac language that reduced documentation must keep.
var JacDefs = []Def{
	// Edge operators
	{`\+\+>`, "edge: ++>"},
	{`<\+\+>`, "edge: <++>"},
	{`-->`, "edge: -->"},
	{`<-->`, "edge: <-->"},

	{`by\s+llm\s*\(`, "by llm()"},
	{`with\s+entry`, "with entry"},
	{`with\s+exit`, "with exit"},
	{"`root\\s+entry", "root entry"},
	{`\bspawn\b`, "spawn"},

	{`import\s+from\s+\w+\s*\{`, "import from module { }"},
	{`\bhas\s+\w+\s*:`, "has x: type"},
	{`\bnode\s+\w+`, "node definition"},
	{`\bwalker\s+\w+`, "walker definition"},
	{`\bedge\s+\w+`, "edge definition"},
	{`\bobj\s+\w+`, "obj definition"},
	{`\bcan\s+\w+`, "ability definition"},

	{`file\.open`, "file.open"},
	{`json\.dumps`, "json.dumps"},
	{`json\.loads`, "json.loads"},
	{`\basync\b`, "async"},
	{`\bawait\b`, "await"},
	{`\breport\b`, "report"},
	{`\bvisit\b`, "visit"},
	{`\bhere\b`, "here keyword"},
	{`\bself\b`, "self keyword"},
	{`\bprops\b`, "props keyword"},

	// Full-stack client/server blocks and JSX
	{`\bcl\s*\{`, "client block"},
	{`\bsv\s*\{`, "server block"},
	{`<[A-Z]\w*`, "JSX element"},
	{`/>`, "JSX self-closing"},
	{`\buseState\b`, "React useState"},
	{`\buseEffect\b`, "React useEffect"},
}

// MinimalFinal is the subset every final document must contain.
var MinimalFinal = []string{
	"edge: ++>",
	"by llm()",
	"with entry",
	"spawn",
	"node definition",
	"walker definition",
	"has x: type",
}

// Jac is the default registry of Jac critical patterns.
var Jac = MustRegistry(JacDefs)

// Constructs are the language constructs tracked for example coverage.
var Constructs = []string{"node", "edge", "walker", "obj", "can", "spawn", "visit", "by_llm"}

var constructRes = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(Constructs))
	for _, c := range Constructs {
		m[c] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(c) + `\s+\w+`)
	}
	return m
}()

// CountConstruct counts occurrences of a tracked construct followed by an identifier.
func CountConstruct(text, construct string) int {
	re, ok := constructRes[construct]
	if !ok {
		re = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(construct) + `\s+\w+`)
	}
	return len(re.FindAllStringIndex(text, -1))
}
