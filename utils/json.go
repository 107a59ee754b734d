package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Success writes a success JSON response.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// Created writes a 201 response with a message.
func Created(c *gin.Context, data interface{}, msg string) {
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    data,
		"message": msg,
	})
}

// Message writes a success response carrying only a message.
func Message(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": msg,
	})
}

// Fail writes an error JSON response.
func Fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{
		"success": false,
		"message": msg,
	})
}

// FailWith writes an error response with extra fields merged in.
func FailWith(c *gin.Context, status int, msg string, extra gin.H) {
	body := gin.H{
		"success": false,
		"message": msg,
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}
