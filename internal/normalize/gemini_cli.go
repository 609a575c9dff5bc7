package normalize

// Gemini CLI (the Cloud Code / Gemini CLI assistant format) shares the
// generateContent wire shape with the public Gemini API — spec §4.1 "Gemini
// CLI" — so GeminiNormalizer already implements both via
// NewGeminiCLINormalizer, which only changes FormatID().
