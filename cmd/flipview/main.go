// Flipview renders PDF and TIFF documents into page images and serves them
// through a memory tier backed by a persistent store.
//
// Usage:
//
//	flipview serve                 # start the HTTP server
//	flipview render <document-id>  # render one document through the cache
//	flipview cache stats           # show cache statistics
//	flipview cache clear           # empty the persistent store
//	flipview cache sweep           # delete expired entries
package main

import (
	"os"

	"flipview/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
