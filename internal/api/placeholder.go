package api

import "encoding/base64"

// placeholderPNG is the fixed fallback image served when a capture
// cannot be produced. A 1x1 opaque gray pixel; CDNs and clients scale
// it as needed, and the short TTL plus Retry-After invites a retry.
var placeholderPNG = mustDecodePNG(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJ" +
		"AAAADElEQVR42mNsbW2tBwAFCQH5cX6XhwAAAABJRU5ErkJggg==",
)

func mustDecodePNG(b64 string) []byte {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		panic("invalid embedded placeholder image: " + err.Error())
	}
	return data
}
