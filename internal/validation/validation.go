// Package validation checks request fields and bounds request bodies.
package validation

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize bounds every request body. Signed transactions are the
// largest payload the API accepts.
const MaxRequestSize = 1 << 20

// BodyLimit rejects declared oversize bodies with 413 and caps the rest so
// binding fails once the limit is crossed.
func BodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "request_too_large",
				"message": "request body exceeds limit",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// FieldError names one bad input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string { return e.Field + ": " + e.Message }

// Errors is returned by operations whose input was rejected. Handlers map
// it to 400.
type Errors []FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Error()
}

// Rule inspects one field and reports a problem, or nil.
type Rule func() *FieldError

// Check runs every rule and keeps each failure. It returns nil when all pass.
func Check(rules ...Rule) Errors {
	var errs Errors
	for _, r := range rules {
		if fe := r(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

func Required(field, value string) Rule {
	return func() *FieldError {
		if strings.TrimSpace(value) == "" {
			return &FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// Present is Required for fields that decode into pointers.
func Present(field string, ok bool) Rule {
	return func() *FieldError {
		if !ok {
			return &FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// Hex accepts empty values and otherwise wants 0x followed by at least one
// hex digit.
func Hex(field, value string) Rule {
	return func() *FieldError {
		if value == "" {
			return nil
		}
		digits, ok := strings.CutPrefix(value, "0x")
		if !ok || digits == "" || strings.TrimLeft(digits, "0123456789abcdefABCDEF") != "" {
			return &FieldError{Field: field, Message: "must be 0x-prefixed hex"}
		}
		return nil
	}
}

// Clean trims s, drops control characters and truncates it to maxLen bytes.
func Clean(s string, maxLen int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// Respond writes the 400 body used for every rejected request.
func Respond(c *gin.Context, errs Errors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": errs.Error(),
		"details": errs,
	})
}
