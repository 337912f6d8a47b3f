package httpgin

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// writeJSONWithETag writes v as JSON with a weak ETag over the body, or 304
// when If-None-Match already names that tag. Wizard snapshots change on
// every step, so clients must revalidate.
func writeJSONWithETag(c *gin.Context, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	sum := sha256.Sum256(b)
	tag := `W/"` + hex.EncodeToString(sum[:16]) + `"`

	c.Header("ETag", tag)
	c.Header("Cache-Control", "no-cache")

	if c.GetHeader("If-None-Match") == tag {
		c.Status(http.StatusNotModified)
		return
	}

	c.Data(status, "application/json; charset=utf-8", b)
}
