package mcpserver

// ScrollFormatContract describes the envelope every path holds, for LLM
// consumers writing scrolls through the MCP tools.
const ScrollFormatContract = `# Scroll Format

Every path in the store holds a scroll: a JSON envelope with four parts.

` + "```" + `json
{
  "key": "/notes/today",
  "type": "notes/entry@v1",
  "data": { "title": "Standup", "attendees": ["alice", "bob"] },
  "metadata": {
    "version": 3,
    "hash": "9f2c...64 hex chars...",
    "createdAt": 1730000000000,
    "updatedAt": 1730000500000
  }
}
` + "```" + `

## Rules

1. **Paths** start with "/" and use segments of letters, digits, and
   ` + "`" + `_ . -` + "`" + ` only. ` + "`" + `.` + "`" + ` and ` + "`" + `..` + "`" + ` segments are rejected.
2. **data** is always a JSON object. Values may nest arbitrarily.
3. **type** is an optional hint of the form ` + "`" + `domain/entity@vN` + "`" + `; the store
   never interprets it.
4. **metadata** is managed by the store: version, hash, and timestamps
   are recomputed on every write. Do not try to set them.
5. **Deletion** is a metadata flag (` + "`" + `deleted: true` + "`" + `); deleted scrolls stay
   readable and listed.
6. Listing with a prefix is segment-safe: ` + "`" + `/foo` + "`" + ` covers ` + "`" + `/foo/bar` + "`" + ` but
   never ` + "`" + `/foobar` + "`" + `.
`
