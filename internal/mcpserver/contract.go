package mcpserver

import "strings"

// contractText describes how a block is marked for generation. LLM
// consumers read it before writing template references. {{alias}} and
// {{link}} are replaced with the configured names.
const contractText = `# Template Contract

A block is generated from a template when exactly one of its tag references
carries a ` + "`" + `{{link}}` + "`" + ` property. The tag block is found through the
` + "`" + `{{alias}}` + "`" + ` alias.

## Tag reference

- The tag reference points at the ` + "`" + `{{alias}}` + "`" + ` block and has ` + "`" + `kind: tag` + "`" + `.
- Its ` + "`" + `{{link}}` + "`" + ` property is a reference set holding exactly one reference id.
- That id names another reference of the same block, usually a plain one,
  whose target is the template block.
- An optional ` + "`" + `ai` + "`" + ` property records the role: ` + "`" + `template` + "`" + ` or ` + "`" + `reference` + "`" + `.

## Resolution

1. The template target may be a mirror. Mirrors resolve to their canonical
   block, one hop.
2. The system prompt is the text of the template's direct children,
   concatenated with no separator.
3. The user prompt is the text of the target block's direct children, each
   followed by a newline.

## Failures

- No tag reference with a ` + "`" + `{{link}}` + "`" + ` property: "No AI template found".
- More than one such tag reference, or a reference set that does not hold
  exactly one id: "Too many AI templates found".
- The referenced id is not among the block's references: "Template block not found".

## Example

` + "```" + `yaml
- id: 30
  text: Ask
  children: [31, 32]
  refs:
    - {id: 300, to: 1, kind: tag, properties: [{name: {{link}}, ids: [301]}]}
    - {id: 301, to: 20}
` + "```" + `
`

// TemplateContract renders the contract for the given tag alias and link
// property.
func TemplateContract(alias, linkProp string) string {
	return strings.NewReplacer("{{alias}}", alias, "{{link}}", linkProp).Replace(contractText)
}
