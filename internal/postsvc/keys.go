package postsvc

import "fmt"

// Cache key shapes. Listing keys share the "posts:" namespace so a
// mutation can invalidate every page with one pattern delete.
const listingPattern = "posts:*"

// postKey is the cache key for one post.
func postKey(id string) string {
	return "post:" + id
}

// listingKey is the cache key for one page of the listing.
func listingKey(page, limit int) string {
	return fmt.Sprintf("posts:%d:%d", page, limit)
}
