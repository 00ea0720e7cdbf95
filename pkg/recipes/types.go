// Package recipes provides the client for the Dishcover recipe service:
// text and ingredient search, saving favorites, and the local query
// normalization the app applies before talking to the backend. Search
// ranking itself lives server-side; this package only normalizes input
// and orders what the server returned.
package recipes

// Recipe mirrors a recipe row as served by the backend.
type Recipe struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Ingredients []string `json:"ingredients"`
	Steps       []string `json:"steps"`
	ImageURL    string   `json:"imageUrl"`
	PrepMinutes int      `json:"prepMinutes"`
	Tags        []string `json:"tags"`
}

// SearchResult is a page of recipes matching a search.
type SearchResult struct {
	Recipes []Recipe `json:"recipes"`
	Total   int      `json:"total"`
}
