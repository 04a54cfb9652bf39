package response

import (
	"github.com/gin-gonic/gin"
)

// ErrorBody is the error envelope returned for every failed request: a
// machine-readable code plus a human-readable message. No raw provider
// payload or internal detail is ever placed here.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Error sends an error JSON response
func Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorBody{
		Error:   code,
		Message: message,
	})
}
