// security.go injects protective HTTP response headers. QueryGate serves only
// a JSON API, so the defaults lock everything down rather than accommodating
// embedded content.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig controls the protective response headers.
type SecurityHeadersConfig struct {
	// EnableHSTS enables Strict-Transport-Security.
	EnableHSTS bool
	// HSTSMaxAge is the HSTS max-age in seconds.
	HSTSMaxAge int
	// HSTSIncludeSubdomains extends HSTS to subdomains.
	HSTSIncludeSubdomains bool
	// FrameOptions is the X-Frame-Options value; empty omits the header.
	FrameOptions string
	// ContentSecurityPolicy is the CSP value; empty omits the header.
	ContentSecurityPolicy string
	// ReferrerPolicy is the Referrer-Policy value; empty omits the header.
	ReferrerPolicy string
}

// APISecurityHeadersConfig returns the headers for a JSON-only API: nothing
// may frame or embed responses, and referrers never leak query paths.
func APISecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:            true,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
		FrameOptions:          "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	}
}

// SecurityHeadersMiddleware adds the configured security headers to every
// response. X-Content-Type-Options and the cross-origin isolation headers are
// unconditional since no QueryGate response is ever embeddable content.
func SecurityHeadersMiddleware(cfg SecurityHeadersConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.EnableHSTS {
			hsts := "max-age=" + strconv.Itoa(cfg.HSTSMaxAge)
			if cfg.HSTSIncludeSubdomains {
				hsts += "; includeSubDomains"
			}
			c.Header("Strict-Transport-Security", hsts)
		}

		if cfg.FrameOptions != "" {
			c.Header("X-Frame-Options", cfg.FrameOptions)
		}
		if cfg.ContentSecurityPolicy != "" {
			c.Header("Content-Security-Policy", cfg.ContentSecurityPolicy)
		}
		if cfg.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", cfg.ReferrerPolicy)
		}

		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Permitted-Cross-Domain-Policies", "none")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Header("Cross-Origin-Resource-Policy", "same-origin")

		c.Next()
	}
}
