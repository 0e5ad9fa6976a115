package formatter

import "strings"

// Supported media types.
const (
	MIMEJSON = "application/json"
	MIMEYAML = "application/yaml"
	MIMECSV  = "text/csv"
	MIMEText = "text/plain"
	MIMEHTML = "text/html"
)

// Supported lists the media types in the order Negotiate prefers them.
var Supported = []string{MIMEJSON, MIMEYAML, MIMECSV, MIMEText, MIMEHTML}

// Negotiate maps an Accept header to a supported media type. Wildcards, an
// empty header and anything unrecognised fall back to JSON, as a client that
// does not ask for a format is most likely a program.
func Negotiate(accept string) string {
	accept = strings.ToLower(strings.TrimSpace(accept))
	switch accept {
	case "", "*/*", "application/*":
		return MIMEJSON
	}
	for _, mime := range Supported {
		if strings.Contains(accept, mime) {
			return mime
		}
	}
	return MIMEJSON
}
