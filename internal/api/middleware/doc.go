// Package middleware provides HTTP middleware for the control API.
//
// The proxy router deliberately carries neither CORS nor rate limiting:
// proxied pages set their own headers and a single page load fans out into
// many resource requests.
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
