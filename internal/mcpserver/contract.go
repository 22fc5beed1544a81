package mcpserver

// DocumentContract explains to LLM consumers how markpad derives snapshot
// metadata and what share links can carry.
const DocumentContract = `# markpad Document Contract

markpad keeps a bounded history of snapshots of Markdown documents.

## Titles and previews

- The title shown in history is, in order of preference: the ` + "`title`" + ` field of
  YAML frontmatter, the first Markdown heading, the first non-blank line.
  It is cut to 50 characters. Empty documents are titled "Untitled Document".
- The preview is the first 100 characters with line breaks folded into spaces.
- Start documents with a level-1 heading so history entries are recognisable:

` + "```" + `markdown
# Weekly standup 2025-01-20

- Alice to review the design doc
` + "```" + `

## Snapshots

- ` + "`save_snapshot`" + ` stores the document and returns its storage key
  (` + "`markdown-snapshot-<timestamp>-<suffix>`" + `).
- Snapshots are immutable. ` + "`restore_snapshot`" + ` never rewrites history: it
  appends a new snapshot with the old content.
- History keeps the most recent entries only; the oldest are evicted together
  with their content.

## Share links

- ` + "`build_share_link`" + ` compresses the document into the link itself. No server
  stores it. Links whose token would exceed the configured maximum are refused;
  save a snapshot instead.
`
