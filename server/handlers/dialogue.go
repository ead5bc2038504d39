// Package handlers provides the HTTP handlers of the colloquy server.
//
// Identity comes from the "email" cookie. Submitting without one records
// the dialogue as "anonymous"; reading history without one is a client
// error.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"mime"
	"net/http"
	"strings"

	"github.com/teilomillet/colloquy/errors"
	"github.com/teilomillet/colloquy/server/dialogue"
	"github.com/teilomillet/colloquy/server/middleware"
	"github.com/teilomillet/colloquy/server/validation"
	"go.uber.org/zap"
)

const (
	identityCookie    = "email"
	anonymousIdentity = "anonymous"
	maxBodyBytes      = 1 << 20

	missingEmailMessage = "Error: Email is required and missing in the cookies."
)

// DialogueService is the part of dialogue.Service the handlers use.
type DialogueService interface {
	Ask(ctx context.Context, q dialogue.Query, identity string) (dialogue.View, error)
	Dialogues(ctx context.Context, identity string) ([]dialogue.View, error)
}

// DialogueHandler serves dialogue submission and history.
type DialogueHandler struct {
	service   DialogueService
	validator *validation.Validator
	logger    *zap.Logger
}

// NewDialogueHandler creates a handler. All arguments must be non-nil.
func NewDialogueHandler(service DialogueService, validator *validation.Validator, logger *zap.Logger) *DialogueHandler {
	return &DialogueHandler{
		service:   service,
		validator: validator,
		logger:    logger,
	}
}

// Submit handles POST /v1/dialogues. The body is a JSON object or an
// urlencoded form with instruction and question.
func (h *DialogueHandler) Submit(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestIDFromContext(r.Context())
	logger := h.logger.With(zap.String("request_id", requestID))

	req, cerr := decodeQuery(w, r, requestID)
	if cerr != nil {
		errors.WriteError(w, cerr)
		return
	}

	if err := h.validator.Validate(req); err != nil {
		var verr *validation.Error
		if stderrors.As(err, &verr) {
			errors.WriteError(w, errors.NewValidationError(requestID, verr.Message, map[string]interface{}{
				"errors": verr.Details,
			}))
			return
		}
		errors.WriteError(w, errors.NewValidationError(requestID, err.Error(), nil))
		return
	}

	identity := anonymousIdentity
	if c, err := r.Cookie(identityCookie); err == nil && c.Value != "" {
		identity = c.Value
	}

	view, err := h.service.Ask(r.Context(), dialogue.Query{
		Instruction: req.Instruction,
		Question:    req.Question,
	}, identity)
	if err != nil {
		h.fail(w, logger, requestID, "Error processing request: ", err)
		return
	}

	logger.Debug("dialogue recorded", zap.String("email", identity))
	writeJSON(w, logger, requestID, view)
}

// History handles GET /v1/dialogues for the identity in the email cookie.
func (h *DialogueHandler) History(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestIDFromContext(r.Context())
	logger := h.logger.With(zap.String("request_id", requestID))

	c, err := r.Cookie(identityCookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		errors.WriteError(w, errors.NewError(
			errors.BadRequestError, missingEmailMessage, http.StatusBadRequest, requestID, nil, nil,
		))
		return
	}

	views, err := h.service.Dialogues(r.Context(), c.Value)
	if err != nil {
		h.fail(w, logger, requestID, "Error fetching queries: ", err)
		return
	}
	writeJSON(w, logger, requestID, views)
}

func (h *DialogueHandler) fail(w http.ResponseWriter, logger *zap.Logger, requestID, prefix string, err error) {
	var cerr *errors.ColloquyError
	if stderrors.Is(err, dialogue.ErrStorage) {
		cerr = errors.NewStorageError(requestID, prefix+err.Error(), err)
	} else {
		cerr = errors.NewError(errors.InternalError, prefix+err.Error(), http.StatusInternalServerError, requestID, nil, err)
	}
	errors.LogError(logger, cerr, requestID)
	errors.WriteError(w, cerr)
}

func decodeQuery(w http.ResponseWriter, r *http.Request, requestID string) (validation.QueryRequest, *errors.ColloquyError) {
	var req validation.QueryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, errors.NewValidationError(requestID, "Invalid request format", map[string]interface{}{
				"body": err.Error(),
			})
		}
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !stderrors.Is(err, http.ErrNotMultipart) {
			return req, errors.NewValidationError(requestID, "Invalid request format", map[string]interface{}{
				"body": err.Error(),
			})
		}
		req.Instruction = r.PostFormValue("instruction")
		req.Question = r.PostFormValue("question")
	default:
		return req, errors.NewValidationError(requestID, "Unsupported Content-Type", map[string]interface{}{
			"content_type":           r.Header.Get("Content-Type"),
			"supported_content_type": []string{"application/json", "application/x-www-form-urlencoded"},
		})
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, requestID string, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		cerr := errors.NewInternalError(requestID, err)
		errors.LogError(logger, cerr, requestID)
		errors.WriteError(w, cerr)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
