package normalize

// Claude CLI (the format Claude Code's own CLI client speaks) shares the
// Messages wire shape byte-for-byte with Claude Chat — spec §4.1 "Claude
// CLI" — so ClaudeNormalizer already implements both. NewClaudeCLINormalizer
// in claude.go only changes FormatID(); this file exists so the variant has
// a documented home distinct from the base format, matching how the teacher
// kept NVIDIA and OpenRouter as separate provider files from plain OpenAI
// even though most of the transform logic was shared.
