package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/pelusa-v/duochat/internal/errs"
)

// chunkForm is the multipart body of POST /upload-chunk.
type chunkForm struct {
	FileName    string `form:"fileName" validate:"required,max=255"`
	ChunkIndex  string `form:"chunkIndex" validate:"required,number"`
	TotalChunks string `form:"totalChunks" validate:"required,number"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their form name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// bindForm parses the request form into out and validates it. Failures are
// InvalidInput errors naming the first offending field.
func (h *Handlers) bindForm(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return errs.Wrap(errs.CodeInvalidInput, "malformed form body", err)
	}
	if err := h.validate.Struct(out); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			switch fe.Tag() {
			case "required":
				return errs.InvalidInput(fe.Field() + " is required")
			case "number":
				return errs.InvalidInput(fe.Field() + " must be an integer")
			default:
				return errs.InvalidInput(fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
			}
		}
		return errs.Wrap(errs.CodeInvalidInput, "invalid form", err)
	}
	return nil
}
