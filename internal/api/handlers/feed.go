package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/athebyme/catalog-feed-service/internal/domain/services"
	"github.com/athebyme/catalog-feed-service/internal/ports"
	"github.com/athebyme/catalog-feed-service/internal/queue"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// JobStatusProvider доступ к статусам задач пересборки
type JobStatusProvider interface {
	Status(ctx context.Context, jobID string) (*queue.Job, error)
}

// FeedHandler обработчик запросов каталожных фидов
type FeedHandler struct {
	feedService services.FeedServiceInterface
	jobs        JobStatusProvider
	logger      ports.LoggerPort
}

// NewFeedHandler создает новый обработчик фидов
func NewFeedHandler(feedService services.FeedServiceInterface, jobs JobStatusProvider, logger ports.LoggerPort) *FeedHandler {
	return &FeedHandler{
		feedService: feedService,
		jobs:        jobs,
		logger:      logger,
	}
}

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// GetChannelFeed отдает последний собранный фид канала по его токену.
// Фид доступен только для каналов с публикацией по URL
func (h *FeedHandler) GetChannelFeed(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Токен канала не указан",
		})
		return
	}

	data, err := h.feedService.GetChannelFeed(r.Context(), token)
	if err != nil {
		if errors.Is(err, services.ErrChannelNotFound) || errors.Is(err, services.ErrFeedNotAvailable) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "Фид не найден",
			})
			return
		}

		h.logger.ErrorWithContext(r.Context(), "Ошибка получения фида",
			ports.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения фида",
		})
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// rebuildRequest тело запроса на ручную пересборку фида
type rebuildRequest struct {
	ChannelID string `json:"channel_id"`
}

// jobResponse статус задачи пересборки для API
type jobResponse struct {
	ID         string      `json:"id"`
	ChannelID  string      `json:"channel_id"`
	State      string      `json:"state"`
	Progress   int         `json:"progress"`
	Error      string      `json:"error,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	CreatedAt  interface{} `json:"created_at"`
	StartedAt  interface{} `json:"started_at,omitempty"`
	FinishedAt interface{} `json:"finished_at,omitempty"`
}

func newJobResponse(job *queue.Job) jobResponse {
	return jobResponse{
		ID:         job.ID,
		ChannelID:  job.ChannelID,
		State:      string(job.State),
		Progress:   job.Progress,
		Error:      job.Error,
		Result:     job.Result,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
}

// Rebuild обрабатывает запрос на ручную пересборку фида канала
func (h *FeedHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChannelID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "ID канала не указан",
		})
		return
	}

	job, err := h.feedService.EnqueueRebuild(r.Context(), req.ChannelID)
	if err != nil {
		if errors.Is(err, services.ErrChannelNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "Канал не найден",
			})
			return
		}

		h.logger.ErrorWithContext(r.Context(), "Ошибка постановки пересборки в очередь",
			ports.LogField{Key: "channel_id", Value: req.ChannelID},
			ports.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка постановки пересборки в очередь",
		})
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, response{
		Success: true,
		Data:    newJobResponse(job),
	})
}

// JobStatus возвращает текущее состояние задачи пересборки
func (h *FeedHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "ID задачи не указан",
		})
		return
	}

	job, err := h.jobs.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "Задача не найдена",
			})
			return
		}

		h.logger.ErrorWithContext(r.Context(), "Ошибка получения статуса задачи",
			ports.LogField{Key: "job_id", Value: jobID},
			ports.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения статуса задачи",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    newJobResponse(job),
	})
}
