// Package keyspace defines the Redis key layout shared by every proxy instance.
//
// All keys live under a single configurable root so several deployments can
// share one Redis:
//
//	{root}{requestPath}     cached origin responses
//	{root}/lock             view refresh mutual-exclusion flag
//	{root}/session/{id}     lock sessions
//	{root}/views/count      number of records in the view snapshot
//	{root}/views/{index}    one view record per index
//	{root}/ratelimit        shared origin rate-limit state
package keyspace

import (
	"strconv"
	"strings"
)

// DefaultRoot is the namespace used when none is configured.
const DefaultRoot = "github-cache"

// Keyspace generates deterministic Redis keys under a root namespace.
type Keyspace struct {
	root string
}

// New returns a Keyspace rooted at root. Leading and trailing slashes are
// dropped; an empty root falls back to DefaultRoot.
func New(root string) Keyspace {
	root = strings.Trim(root, "/")
	if root == "" {
		root = DefaultRoot
	}
	return Keyspace{root: root}
}

// Root returns the normalized root namespace.
func (k Keyspace) Root() string {
	if k.root == "" {
		return DefaultRoot
	}
	return k.root
}

// Response returns the key of the cached response for a request path.
// The path is used verbatim, only a missing leading slash is added.
//
// Example:
//
//	github-cache/orgs/acme/repos
func (k Keyspace) Response(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return k.Root() + path
}

// Reserved reports whether the response key of path would land on one of the
// internal keys. Such paths must never be cached.
func Reserved(path string) bool {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	switch path {
	case "/lock", "/ratelimit", "/views", "/session":
		return true
	}
	return strings.HasPrefix(path, "/views/") || strings.HasPrefix(path, "/session/")
}

// Lock returns the key of the view refresh lock.
func (k Keyspace) Lock() string {
	return k.Root() + "/lock"
}

// Session returns the key of a lock session.
func (k Keyspace) Session(id string) string {
	return k.Root() + "/session/" + id
}

// ViewCount returns the key holding the number of records in the view snapshot.
func (k Keyspace) ViewCount() string {
	return k.Root() + "/views/count"
}

// ViewRecord returns the key of the view record at index i.
func (k Keyspace) ViewRecord(i int) string {
	return k.Root() + "/views/" + strconv.Itoa(i)
}

// RateLimit returns the key of the shared origin rate-limit state.
func (k Keyspace) RateLimit() string {
	return k.Root() + "/ratelimit"
}
