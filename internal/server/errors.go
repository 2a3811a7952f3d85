package server

import (
	"errors"
	"net/http"

	"github.com/me/slurmproxy/internal/pipeline"
	"github.com/me/slurmproxy/internal/slurm"
	"github.com/me/slurmproxy/pkg/model"
)

// classifyError maps an internal error onto the API error taxonomy and its
// HTTP status. Everything the caller caused is a 400; only exhausted
// transport budgets surface as 502.
func classifyError(err error) (int, *model.APIError) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: verr.Error(),
			Details: verr.Fields,
		}
	}
	if errors.Is(err, model.ErrDuplicateTask) {
		return http.StatusBadRequest, &model.APIError{
			Code:    model.ErrDuplicateTaskAPI,
			Message: err.Error(),
		}
	}
	if errors.Is(err, model.ErrDuplicateJob) {
		return http.StatusBadRequest, &model.APIError{
			Code:    model.ErrDuplicateJobAPI,
			Message: err.Error(),
		}
	}

	var partial *pipeline.PartialFailureError
	if errors.As(err, &partial) {
		return http.StatusBadRequest, &model.APIError{
			Code:    model.ErrPartialPipeline,
			Message: partial.Error(),
		}
	}
	if slurm.IsRejection(err) {
		return http.StatusBadRequest, &model.APIError{
			Code:    model.ErrGatewayRejected,
			Message: err.Error(),
		}
	}
	if slurm.IsTransport(err) {
		return http.StatusBadGateway, &model.APIError{
			Code:    model.ErrGatewayTransport,
			Message: err.Error(),
		}
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusBadRequest
		if apiErr.Code == model.ErrInternal {
			status = http.StatusInternalServerError
		}
		return status, apiErr
	}

	return http.StatusInternalServerError, &model.APIError{
		Code:    model.ErrInternal,
		Message: err.Error(),
	}
}
