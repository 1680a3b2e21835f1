// Package middleware holds the gin middleware shared by the REST surfaces.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/robothub/transport-fabric/internal/v1/logging"
)

// HeaderXCorrelationID carries the request correlation id on both the inbound
// request and the response.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID tags every request with a correlation id so log lines from
// one request can be tied together. An id supplied by the caller is kept;
// otherwise a fresh one is minted. The id is echoed on the response and
// stashed in the gin context under the logger's key.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderXCorrelationID, id)
		c.Set(string(logging.CorrelationIDKey), id)
		c.Next()
	}
}
