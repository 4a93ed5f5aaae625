package prompt

// Template names used by the stages.
const (
	Merge        = "merge.md"
	Reduce       = "reduce.md"
	Assemble     = "assemble.md"
	PreserveMore = "preserve-more.md"
	CompressMore = "compress-more.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	Merge:        mergeTemplate,
	Reduce:       reduceTemplate,
	Assemble:     assembleTemplate,
	PreserveMore: preserveMoreTemplate,
	CompressMore: compressMoreTemplate,
}

const mergeTemplate = `Topic: {{topic}}

You are condensing documentation for the {{language}} programming language into a
reference that another model will read before writing {{language}} code.

Merge the notes below into one section about this topic.
- Keep EVERY code example that shows distinct syntax. Never paraphrase code.
- Keep all operators, keywords and signatures exactly as written.
- Remove repeated explanations, navigation text and marketing prose.
- Use short headers and terse bullet points.
- Keep code inside fenced blocks and close every fence.
{{#if target_chars}}
- Aim for roughly {{target_chars}} characters.
{{/if}}

Notes:
{content}
`

const reduceTemplate = `You are merging sections of a {{language}} language reference.

Combine the sections below into one coherent document.
- Deduplicate overlapping explanations; keep the clearest one.
- Keep every distinct code example and every syntax pattern.
- Preserve edge operators, ability declarations, entry/exit blocks and spawn syntax verbatim.
- Keep section headers so topics stay findable.
- Close every code fence you open.

Sections:
{content}
`

const assembleTemplate = `You are writing the final {{language}} reference for code-generating models.

Using the reduced documentation and the extracted signatures, examples and keywords
below, produce a single dense reference.
- Start with a short syntax cheat sheet.
- One subsection per construct, each with at least one complete, valid example.
- Prefer examples taken verbatim from the input.
- Do not invent syntax that is not shown in the input.
{{#if missing_patterns}}
- The previous draft lost these patterns; they must appear: {{missing_patterns}}
{{/if}}

Input:
{content}
`

const preserveMoreTemplate = `

IMPORTANT: Your previous response was too short. You MUST include more detail.
- Keep ALL code examples
- Keep ALL syntax patterns
- Keep ALL API signatures
- Only compress explanatory prose
`

const compressMoreTemplate = `

IMPORTANT: Your previous response was too long. Compress more aggressively:
- Remove redundant explanations
- Keep only the most essential code examples
- Combine similar concepts
`
