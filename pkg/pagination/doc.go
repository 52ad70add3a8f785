// Package pagination flattens multi-page origin responses.
//
// The origin paginates list endpoints with an RFC 8288 Link header; the next
// page is only known once the current page has arrived, so pages are walked
// sequentially:
//
//	walker := pagination.NewWalker(fetcher, pagination.DefaultConfig())
//	result, err := walker.FetchAll(ctx, "https://api.github.com/orgs/acme/repos")
//
// Each additional page is spliced into the accumulated body by Merge: the
// leading '[' of the new page and the trailing ']' of the accumulated body are
// removed and the two are joined with ", ". This is only correct for top-level
// JSON array bodies, so any page of a paginated response that is not an array
// fails with ErrNotArray instead of being coerced.
package pagination
