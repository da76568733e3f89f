package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"resource-service/common/apperror"

	"github.com/go-playground/validator/v10"
)

const internalErrorMessage = "internal server error"

// RespondWithError renders err as {"error": message}. Dependency failures and
// errors outside the taxonomy collapse to a generic 500 body.
func RespondWithError(w http.ResponseWriter, err error) {
	appErr := apperror.From(err)
	if appErr == nil || appErr.Kind == apperror.KindDependency {
		RespondWithMessage(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}
	RespondWithMessage(w, appErr.Status(), appErr.Message)
}

// RespondWithMessage writes an error response in JSON format
func RespondWithMessage(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// RespondWithJSON writes a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// DecodeJSON decodes the request body into out, rejecting unknown fields.
func DecodeJSON(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return apperror.Validation("invalid request body")
	}
	return nil
}

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeAndValidate decodes the JSON body into out and validates it.
func DecodeAndValidate(r *http.Request, validate *validator.Validate, out interface{}) error {
	if err := DecodeJSON(r, out); err != nil {
		return err
	}
	if err := validate.Struct(out); err != nil {
		return apperror.Validation(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", fe.Field())
		case "min":
			return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
		case "max":
			return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
		case "email":
			return fmt.Sprintf("%s must be a valid email", fe.Field())
		default:
			return fmt.Sprintf("%s is invalid", fe.Field())
		}
	}
	return "invalid request"
}
