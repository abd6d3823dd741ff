package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore forbids the shell's webview from caching responses. Question
// content and answers must never outlive the attempt in an HTTP cache.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
