package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/oisdev/appraisal/internal/middleware"
	"github.com/oisdev/appraisal/internal/models"
	"github.com/oisdev/appraisal/internal/services"
	"github.com/oisdev/appraisal/internal/sheetstore"
	"github.com/oisdev/appraisal/pkg/response"
)

// toAppError maps service and store errors onto API errors.
func toAppError(err error) *response.AppError {
	var appErr *response.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		if errors.Is(verr.Err, services.ErrIncomplete) {
			return response.NewUnprocessable(verr.Err.Error()).WithDetails(verr.Fields...)
		}
		return response.NewBadRequest(verr.Err.Error()).WithDetails(verr.Fields...)
	}

	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		return response.NewUnauthorized(err.Error())
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrInvalidAuthType):
		return response.NewBadRequest(err.Error())
	case errors.Is(err, services.ErrAlreadySubmitted):
		return response.NewConflict(err.Error())
	case errors.Is(err, services.ErrForbidden):
		return response.NewForbidden(err.Error())
	case errors.Is(err, services.ErrUserNotFound), errors.Is(err, services.ErrNoSubmission):
		return response.NewNotFound(err.Error())
	case sheetstore.IsTransient(err):
		return response.NewUnavailable("data store is busy, please retry shortly").Wrap(err)
	case isStoreError(err):
		return response.NewBadGateway("data store request failed").Wrap(err)
	}
	return response.NewServerError("internal server error").Wrap(err)
}

func isStoreError(err error) bool {
	if _, ok := sheetstore.StatusCode(err); ok {
		return true
	}
	return errors.Is(err, sheetstore.ErrSheetNotFound) ||
		errors.Is(err, sheetstore.ErrNoKeyColumn) ||
		errors.Is(err, sheetstore.ErrBadRow)
}

func fail(c *gin.Context, err error) {
	response.Error(c, toAppError(err))
}

// currentUser resolves the session email to its live roster entry, so role
// and appraiser changes apply without a new login.
func currentUser(c *gin.Context, auth *services.AuthService) (*models.User, bool) {
	user, err := auth.CurrentUser(c.Request.Context(), middleware.GetEmail(c))
	if errors.Is(err, services.ErrUserNotFound) {
		response.Unauthorized(c, "session user is no longer in the roster")
		return nil, false
	}
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return user, true
}
