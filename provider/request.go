package provider

import (
	"net/http"
	"net/url"
	"strings"
)

// Request describes what a client connection asks for.
type Request struct {
	// Log names the log, from the "log" query parameter or the URL path.
	Log string
	// Require lists capabilities the provider must have.
	Require Capabilities
	// Params carries the remaining query parameters.
	Params url.Values
}

// RequestFromHTTP extracts a Request from an incoming connection.
func RequestFromHTTP(r *http.Request) Request {
	q := r.URL.Query()

	log := q.Get("log")
	if log == "" {
		log = strings.Trim(r.URL.Path, "/")
	}

	var require Capabilities
	if tags := q["require"]; len(tags) > 0 {
		require = make(Capabilities)
		for _, tag := range tags {
			for _, t := range strings.Split(tag, ",") {
				if t = strings.TrimSpace(t); t != "" {
					require[Capability(t)] = struct{}{}
				}
			}
		}
	}

	return Request{Log: log, Require: require, Params: q}
}
