// Package api implements the API Surface (spec.md §4, §6): the HTTP/JSON
// endpoints the web UI and desktop shell drive, the :encodedPath project
// token scheme, and HookIngestor's mount point.
package api

import (
	"encoding/base64"

	"github.com/gin-gonic/gin"
)

// encodePath turns a filesystem path into the opaque URL-safe token spec.md
// §6 calls for ("base-N over the path bytes"); base64 URL encoding is that
// base-N scheme, grounded on the teacher's router using gin path params for
// every resource ID and never raw filesystem paths in a URL.
func encodePath(path string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(path))
}

// decodePath reverses encodePath.
func decodePath(token string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// projectPathParam decodes the :encodedPath URL param, aborting the
// request with 400 if it isn't a valid token, so handlers only ever see a
// real filesystem path.
func projectPathParam(c *gin.Context) (string, bool) {
	path, err := decodePath(c.Param("encodedPath"))
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid encodedPath"})
		return "", false
	}
	return path, true
}
