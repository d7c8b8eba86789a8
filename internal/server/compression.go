// compression.go - gzip for JSON responses.
package server

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// compressJSON gzips JSON bodies above a small threshold when the client
// accepts it. Streams of .doc/.docx are never wrapped: docx is already a zip
// archive and Content-Length must stay exact.
func compressJSON() func(http.Handler) http.Handler {
	wrap, err := gzhttp.NewWrapper(
		gzhttp.MinSize(1024),
		gzhttp.ContentTypes([]string{"application/json"}),
	)
	if err != nil {
		// Options are constant; an error here is a programming mistake.
		panic(err)
	}
	return func(h http.Handler) http.Handler { return wrap(h) }
}
