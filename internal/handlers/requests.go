package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"printserver/internal/domain"
)

// HTMLPrintRequest is the body of POST /api/print-html.
type HTMLPrintRequest struct {
	HTMLContent string `json:"htmlContent" form:"htmlContent" validate:"required"`
	PaperSize   string `json:"paperSize" form:"paperSize"`
	PrinterName string `json:"printerName" form:"printerName"`
}

// MarkdownPrintRequest is the body of POST /api/print-markdown.
type MarkdownPrintRequest struct {
	MarkdownContent string `json:"markdownContent" form:"markdownContent" validate:"required"`
	PaperSize       string `json:"paperSize" form:"paperSize"`
	PrinterName     string `json:"printerName" form:"printerName"`
}

// Base64PrintRequest is the body of POST /api/print-base64.
type Base64PrintRequest struct {
	Base64Data  string `json:"base64Data" form:"base64Data" validate:"required"`
	PrinterName string `json:"printerName" form:"printerName"`
}

const defaultPaperSize = "a4"

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON name so messages match the wire format.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bindRequest decodes the body into out and validates it. An empty body is a
// request with no fields. Bodies without a recognised content type are
// decoded as JSON.
func bindRequest(c *fiber.Ctx, v *validator.Validate, out any) error {
	if body := c.Body(); len(body) > 0 {
		if err := c.BodyParser(out); err != nil {
			if !errors.Is(err, fiber.ErrUnprocessableEntity) || json.Unmarshal(body, out) != nil {
				return domain.Validationf("Invalid request body.")
			}
		}
	}

	if err := v.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domain.Validationf("Missing %s.", verrs[0].Field())
		}
		return domain.Validationf("Invalid request body.")
	}
	return nil
}

// normalizePrinter maps an absent or blank printer name to "" (system default).
func normalizePrinter(name string) string {
	return strings.TrimSpace(name)
}

func paperOrDefault(size string) string {
	if s := strings.TrimSpace(size); s != "" {
		return s
	}
	return defaultPaperSize
}

// decodeDocument accepts standard or URL-safe base64, with or without
// padding, line breaks, or a data URL prefix.
func decodeDocument(data string) ([]byte, error) {
	if strings.HasPrefix(data, "data:") {
		if idx := strings.Index(data, ","); idx != -1 {
			data = data[idx+1:]
		}
	}
	data = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, data)

	enc := base64.RawStdEncoding
	if strings.ContainsAny(data, "-_") {
		enc = base64.RawURLEncoding
	}
	decoded, err := enc.DecodeString(strings.TrimRight(data, "="))
	if err != nil || len(decoded) == 0 {
		return nil, domain.Validationf("Invalid base64Data.")
	}
	return decoded, nil
}

func printerLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
