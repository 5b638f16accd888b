package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aura-classroom/engagement/pkg/apperror"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Error maps a domain error onto its HTTP status and error code.
func Error(c *gin.Context, err error) {
	appErr := apperror.FromError(err)
	status := appErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, Body{Success: false, Error: appErr.Message, Code: string(appErr.Code)})
}
