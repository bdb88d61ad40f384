package config

const (
	// MaxSessionTitleLength is the maximum length for session titles.
	// Limited to 200 to fit comfortably in list views and headers.
	MaxSessionTitleLength = 200

	// MaxCompletionTokens caps the per-request max_tokens override.
	MaxCompletionTokens = 128000
)
