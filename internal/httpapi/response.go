package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shridarpatil/wagateway/internal/apperr"
)

// envelope is the public JSON shape for every response — success
// responses carry their payload under "data", errors verbatim from spec.md
// §6 ("{success: false, message, error: <stable code>}").
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// respondOK writes a 200/201 success envelope.
func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// respondError adapts err to the public error envelope — spec.md §7.
func respondError(c *gin.Context, err error) {
	e := apperr.From(err)
	c.JSON(e.Status, envelope{Success: false, Message: e.Message, Error: e.Code})
}
