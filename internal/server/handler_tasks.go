package server

import (
	"encoding/json"
	"net/http"

	"github.com/me/slurmproxy/internal/normalize"
	"github.com/me/slurmproxy/pkg/model"
)

type submitTaskResponse struct {
	TaskUUID  string         `json:"task_uuid"`
	JobID     model.JobID    `json:"slurm_job_id"`
	PrepJobID model.JobID    `json:"prep_job_id"`
	State     model.JobState `json:"state"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		Task normalize.TaskRequest `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}

	task, err := s.normalizer.Normalize(r.Context(), req.Task)
	if err != nil {
		status, apiErr := classifyError(err)
		respondError(w, reqID, status, apiErr)
		return
	}

	monitor, err := s.pipeline.Run(r.Context(), task)
	if err != nil {
		status, apiErr := classifyError(err)
		respondError(w, reqID, status, apiErr)
		return
	}

	s.logger.Info("task submitted",
		"task_uuid", task.UUID, "main_job_id", monitor.MainJobID,
		"prep_job_id", monitor.PrepJobID, "request_id", reqID)
	respondOK(w, reqID, submitTaskResponse{
		TaskUUID:  task.UUID,
		JobID:     monitor.MainJobID,
		PrepJobID: monitor.PrepJobID,
		State:     monitor.State,
	})
}
