package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/slurmproxy/pkg/model"
)

func jobIDParam(r *http.Request) (model.JobID, *model.APIError) {
	raw := chi.URLParam(r, "jobID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return model.BadJobID, &model.APIError{
			Code:    model.ErrValidation,
			Message: "invalid job id: " + raw,
		}
	}
	return model.JobID(id), nil
}

// handleRegisterMonitor registers a monitor for a job that was submitted
// outside the submission pipeline. The same uniqueness rules apply.
func (s *Server) handleRegisterMonitor(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		TaskUUID  string         `json:"task_uuid"`
		JobID     model.JobID    `json:"slurm_job_id"`
		PrepJobID model.JobID    `json:"prep_job_id"`
		State     model.JobState `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}
	if req.TaskUUID == "" {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code: model.ErrValidation, Message: "task_uuid is required",
		})
		return
	}
	if req.JobID <= 0 {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code: model.ErrValidation, Message: "slurm_job_id must be positive",
		})
		return
	}
	state := model.JobStatePending
	if req.State != "" {
		// Raw scheduler states are accepted but stored in canonical form,
		// otherwise the monotonic guard cannot rank the record.
		mapped, ok := model.FromSlurmState(req.State.String())
		if !ok {
			respondError(w, reqID, http.StatusBadRequest, &model.APIError{
				Code: model.ErrValidation, Message: "unknown state: " + req.State.String(),
			})
			return
		}
		state = mapped
	}

	task, err := s.store.GetTask(r.Context(), req.TaskUUID)
	if err != nil {
		status, apiErr := classifyError(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	if task == nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewNotFoundError("task", req.TaskUUID))
		return
	}

	prepID := req.PrepJobID
	if prepID == 0 {
		prepID = model.BadJobID
	}
	monitor := &model.Monitor{
		TaskUUID:  req.TaskUUID,
		PrepJobID: prepID,
		MainJobID: req.JobID,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertMonitor(r.Context(), monitor); err != nil {
		status, apiErr := classifyError(err)
		respondError(w, reqID, status, apiErr)
		return
	}

	s.logger.Info("monitor registered",
		"task_uuid", req.TaskUUID, "main_job_id", req.JobID, "request_id", reqID)
	respondOK(w, reqID, monitor)
}

func (s *Server) handleGetMonitorByJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	id, apiErr := jobIDParam(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	monitor, err := s.store.GetMonitorByJobID(r.Context(), id)
	if err != nil {
		status, apiErr := classifyError(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	if monitor == nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewNotFoundError("monitor", strconv.FormatInt(int64(id), 10)))
		return
	}

	respondOK(w, reqID, s.summarize(r, monitor))
}

func (s *Server) handleGetMonitorByTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	uuid := chi.URLParam(r, "uuid")

	monitor, err := s.store.GetMonitorByTaskUUID(r.Context(), uuid)
	if err != nil {
		status, apiErr := classifyError(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	if monitor == nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewNotFoundError("monitor", uuid))
		return
	}

	respondOK(w, reqID, s.summarize(r, monitor))
}

// summarize merges the stored record with the task and the scheduler's live
// answer. A failed live query degrades to the stored view.
func (s *Server) summarize(r *http.Request, monitor *model.Monitor) model.MonitorSummary {
	summary := model.MonitorSummary{Monitor: *monitor}

	task, err := s.store.GetTask(r.Context(), monitor.TaskUUID)
	if err != nil {
		s.logger.Error("load task for summary", "task_uuid", monitor.TaskUUID, "error", err)
	} else {
		summary.Task = task
	}

	live, err := s.gateway.Query(r.Context(), monitor.MainJobID)
	if err != nil {
		s.logger.Warn("live query failed", "main_job_id", monitor.MainJobID, "error", err)
	} else {
		summary.Live = live
	}
	return summary
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var monitors []*model.Monitor
	var err error
	if raw := r.URL.Query().Get("state"); raw != "" {
		state, ok := model.FromSlurmState(raw)
		if !ok {
			respondError(w, reqID, http.StatusBadRequest, &model.APIError{
				Code: model.ErrValidation, Message: "unknown state: " + raw,
			})
			return
		}
		monitors, err = s.store.ListMonitorsByState(r.Context(), state)
	} else {
		monitors, err = s.store.ListActiveMonitors(r.Context(), s.config.MonitorMaxAge)
	}
	if err != nil {
		status, apiErr := classifyError(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	if monitors == nil {
		monitors = []*model.Monitor{}
	}
	respondOK(w, reqID, monitors)
}

// handleCancelJob cancels the scheduler job and removes its monitor record.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	id, apiErr := jobIDParam(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	monitor, err := s.store.GetMonitorByJobID(r.Context(), id)
	if err != nil {
		status, apiErr := classifyError(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	if monitor == nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewNotFoundError("monitor", strconv.FormatInt(int64(id), 10)))
		return
	}

	if err := s.gateway.Cancel(r.Context(), id); err != nil {
		status, apiErr := classifyError(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	if err := s.store.DeleteMonitor(r.Context(), id); err != nil {
		status, apiErr := classifyError(err)
		respondError(w, reqID, status, apiErr)
		return
	}

	s.logger.Info("job cancelled", "main_job_id", id, "request_id", reqID)
	respondOK(w, reqID, map[string]any{"slurm_job_id": id, "cancelled": true})
}
