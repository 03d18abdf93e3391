package api

import (
	"github.com/gin-gonic/gin"

	"github.com/wsu/workorderpro/internal/apperr"
)

// Meta carries the human readable outcome of a request.
type Meta struct {
	Message string `json:"message"`
}

// Envelope is the body of every work order response.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Envelope{Meta: Meta{Message: message}, Data: data})
}

// RespondError writes err as an envelope without data. Only the client safe
// message of an *apperr.Error is exposed.
func RespondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), Envelope{Meta: Meta{Message: apperr.Message(err)}})
}
