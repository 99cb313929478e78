package api

import "github.com/gin-gonic/gin"

// defaultActor names callers that reach the API without a fronting proxy.
const defaultActor = "api-client"

// requestActor identifies the operator behind a request from proxy headers.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email (oauth2-proxy) >
// X-Remote-User (kube-rbac-proxy) > "api-client"
func requestActor(c *gin.Context) string {
	h := c.Request.Header
	if user := h.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := h.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	if user := h.Get("X-Remote-User"); user != "" {
		return user
	}
	return defaultActor
}
