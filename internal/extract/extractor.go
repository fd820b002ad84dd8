package extract

import "context"

// Result is the normalized media metadata resolved for a public post URL.
type Result struct {
	Platform     string `json:"platform"`
	Type         string `json:"type,omitempty"`
	Title        string `json:"title,omitempty"`
	AuthorName   string `json:"author_name,omitempty"`
	AuthorURL    string `json:"author_url,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	EmbedHTML    string `json:"embed_html,omitempty"`
	SourceURL    string `json:"source_url"`
}

// Extractor resolves a public post URL on one platform into media metadata.
// Implementations delegate to the platform's own APIs; Snaplink carries no
// scraping heuristics of its own.
type Extractor interface {
	// Platform returns the platform name the extractor serves.
	Platform() string

	// Extract resolves the given post URL.
	Extract(ctx context.Context, postURL string) (*Result, error)
}
