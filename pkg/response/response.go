package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arcade-kiosk/server/internal/apperr"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    apperr.Kind `json:"kind,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Error renders err with the status of its kind. The cause of an internal
// error is attached to the gin context for the request logger and not sent.
func Error(c *gin.Context, err error) {
	e := apperr.Convert(err)
	if e.Kind == apperr.KindInternal {
		_ = c.Error(err)
	}
	c.JSON(e.HTTPStatusCode(), Body{Success: false, Error: e.Message, Kind: e.Kind})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err, Kind: apperr.KindInvalidArgument})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err, Kind: apperr.KindUnauthorized})
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err, Kind: apperr.KindConflict})
}
