package httpapi

import "github.com/gin-gonic/gin"

// Response is the body of every webhook reply.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error codes.
const (
	codeOK           = 0
	codeBadRequest   = 40001
	codeUnauthorized = 40101
	codeNotFound     = 40401
	codeConflict     = 40901
	codeRateLimited  = 42901
	codeInternal     = 50001
	codeUnavailable  = 50301
)

func respond(c *gin.Context, status, code int, message string, data any) {
	c.JSON(status, Response{Code: code, Message: message, Data: data})
}

func success(c *gin.Context, data any) {
	respond(c, 200, codeOK, "success", data)
}

func fail(c *gin.Context, status, code int, message string) {
	respond(c, status, code, message, nil)
}
