package api

import (
	"net/http"
	"strings"
)

const versionUpdated = "2014-01-01 00:00:00"

type versionLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type versionEntry struct {
	ID      string        `json:"id"`
	Links   []versionLink `json:"links"`
	Status  string        `json:"status"`
	Updated string        `json:"updated"`
}

func currentVersion(r *http.Request) versionEntry {
	return versionEntry{
		ID:      "v2.0",
		Links:   []versionLink{{Rel: "self", Href: r.URL.Path}},
		Status:  "CURRENT",
		Updated: versionUpdated,
	}
}

// handleVersions serves GET / (version list) and GET /{id}. Unknown
// version ids get 501, everything deeper 404.
func handleVersions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path == "/" {
		writeJSON(w, http.StatusOK, []versionEntry{currentVersion(r)})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/")
	if strings.Contains(id, "/") {
		writeJSONError(w, http.StatusNotFound, "not_found")
		return
	}
	switch id {
	case "v2.0", "2.0", "2":
		writeJSON(w, http.StatusOK, currentVersion(r))
	default:
		writeJSONError(w, http.StatusNotImplemented, "unknown_version")
	}
}
