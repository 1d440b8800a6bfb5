package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"barterflow/deal"

	"github.com/go-playground/validator/v10"
)

type apiError struct {
	Status        string            `json:"status"`
	Code          string            `json:"code"`
	Message       string            `json:"message"`
	CurrentStatus string            `json:"current_status,omitempty"`
	Operation     string            `json:"operation,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, map[string]any{
		"status": "success",
		"data":   data,
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

// mapDomainError translates a service error into status, code and message.
func mapDomainError(err error) (int, string, string) {
	switch deal.KindOf(err) {
	case deal.KindValidation:
		return http.StatusBadRequest, string(deal.KindValidation), err.Error()
	case deal.KindNotFound:
		return http.StatusNotFound, string(deal.KindNotFound), err.Error()
	case deal.KindForbidden:
		return http.StatusForbidden, string(deal.KindForbidden), err.Error()
	case deal.KindInvalidTransition:
		return http.StatusConflict, string(deal.KindInvalidTransition), err.Error()
	case deal.KindDuplicateActiveDeal:
		return http.StatusConflict, string(deal.KindDuplicateActiveDeal), err.Error()
	case deal.KindDuplicateReview:
		return http.StatusConflict, string(deal.KindDuplicateReview), err.Error()
	case deal.KindConcurrencyConflict:
		return http.StatusConflict, string(deal.KindConcurrencyConflict), "deal was modified concurrently, retry"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
}

func (h *Handler) writeMappedError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, code, msg := mapDomainError(err)
	h.logOperationError(r, operation, status, code, err)

	body := apiError{Status: "error", Code: code, Message: msg}
	var de *deal.Error
	if errors.As(err, &de) {
		body.CurrentStatus = string(de.Current)
		body.Operation = string(de.Op)
	}
	writeJSON(w, status, body)
}

func (h *Handler) writeValidationError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	body := apiError{Status: "error", Code: string(deal.KindValidation), Message: err.Error()}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		body.Message = "request validation failed"
		body.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			body.Fields[fe.Field()] = fe.Tag()
		}
	}
	h.logOperationError(r, operation, http.StatusBadRequest, body.Code, err)
	writeJSON(w, http.StatusBadRequest, body)
}

func (h *Handler) logOperationError(r *http.Request, operation string, statusCode int, code string, err error) {
	fields := []any{
		"module", "http",
		"operation", operation,
		"outcome", "failure",
		"status_code", statusCode,
		"error_code", code,
		"request_id", requestIDFromContext(r.Context()),
	}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	if statusCode >= 500 {
		h.logger.ErrorContext(r.Context(), "http operation failed", fields...)
		return
	}
	h.logger.WarnContext(r.Context(), "http operation failed", fields...)
}

// decodeBody decodes exactly one JSON value and validates it.
var errBodyRequired = errors.New("request body required")

func (h *Handler) decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return h.validate.Struct(dst)
}

// decodeOptionalBody is decodeBody for endpoints whose body may be absent,
// whatever the request's declared length.
func (h *Handler) decodeOptionalBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	if err := h.decodeBody(r, dst); err != nil && !errors.Is(err, errBodyRequired) {
		return err
	}
	return nil
}
