// Package catalog queries the media-library service for playable items.
package catalog

import "context"

// Item is one playable library entry.
type Item struct {
	ID              string
	Title           string
	Path            string
	DurationSeconds int
}

// Gateway is the read-only contract against the media library. The library is
// reached over the network and treated as unreliable: callers map any error to
// an empty result rather than propagating it as fatal.
type Gateway interface {
	// ListItems returns every playable item matching the given category.
	// A category can name a genre or a tag in the library.
	ListItems(ctx context.Context, category string) ([]Item, error)
}
