package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/catalog-feed-service/internal/domain/models"
	"github.com/athebyme/catalog-feed-service/internal/ports"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// JobState состояние задачи пересборки фида
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// ErrJobNotFound возвращается, когда задача отсутствует или ее статус истек
var ErrJobNotFound = errors.New("job not found")

// Job представляет задачу пересборки фида канала
type Job struct {
	ID         string              `json:"id"`
	ChannelID  string              `json:"channel_id"`
	State      JobState            `json:"state"`
	Progress   int                 `json:"progress"` // проценты, 0-100
	Error      string              `json:"error,omitempty"`
	Result     *models.BuildResult `json:"result,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`

	queue *RebuildQueue
}

// SetProgress сохраняет прогресс выполнения задачи для отображения в статусе
func (j *Job) SetProgress(ctx context.Context, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	j.Progress = percent
	return j.queue.saveJob(ctx, j)
}

// ProcessFunc обработчик задачи пересборки.
// Ошибка обработчика переводит задачу в состояние failed
type ProcessFunc func(ctx context.Context, job *Job) (*models.BuildResult, error)

// redisClient поверхность клиента Redis, используемая очередью.
// Выделена в интерфейс для тестирования без сервера
type redisClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RebuildQueue очередь задач пересборки фидов на основе Redis.
// Задачи обрабатываются строго по одной, что гарантирует отсутствие
// одновременных сборок для одного канала
type RebuildQueue struct {
	client    redisClient
	name      string
	retention time.Duration
	process   ProcessFunc
	logger    ports.LoggerPort
}

// NewRebuildQueue создает очередь с указанным именем и обработчиком
func NewRebuildQueue(client redisClient, name string, retention time.Duration, process ProcessFunc, logger ports.LoggerPort) *RebuildQueue {
	return &RebuildQueue{
		client:    client,
		name:      name,
		retention: retention,
		process:   process,
		logger:    logger,
	}
}

func (q *RebuildQueue) listKey() string {
	return fmt.Sprintf("queue:%s:jobs", q.name)
}

func (q *RebuildQueue) jobKey(jobID string) string {
	return fmt.Sprintf("queue:%s:job:%s", q.name, jobID)
}

// saveJob сохраняет статус задачи со сроком хранения
func (q *RebuildQueue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.Set(ctx, q.jobKey(job.ID), data, q.retention).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// Enqueue ставит задачу пересборки канала в очередь.
// Повторная постановка того же канала допустима: сборщик перечитывает
// актуальное состояние канала, а не доверяет полезной нагрузке задачи
func (q *RebuildQueue) Enqueue(ctx context.Context, channelID string) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String(),
		ChannelID: channelID,
		State:     JobPending,
		CreatedAt: time.Now().UTC(),
		queue:     q,
	}

	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}

	if err := q.client.LPush(ctx, q.listKey(), job.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, nil
}

// Status возвращает текущее состояние задачи
func (q *RebuildQueue) Status(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.Get(ctx, q.jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	job.queue = q

	return &job, nil
}

// Run запускает цикл обработки задач. Блокируется до отмены контекста.
// Один вызов Run - один последовательный воркер
func (q *RebuildQueue) Run(ctx context.Context) {
	q.logger.Info("Очередь пересборки фидов запущена",
		ports.LogField{Key: "queue", Value: q.name})

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Очередь пересборки фидов остановлена",
				ports.LogField{Key: "queue", Value: q.name})
			return
		default:
		}

		result, err := q.client.BRPop(ctx, time.Second, q.listKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			q.logger.Error("Ошибка чтения из очереди",
				ports.LogField{Key: "queue", Value: q.name},
				ports.LogField{Key: "error", Value: err.Error()})
			continue
		}

		// BRPop возвращает пару [ключ, значение]
		if len(result) != 2 {
			continue
		}

		q.runJob(ctx, result[1])
	}
}

// runJob выполняет одну задачу и фиксирует результат в ее статусе
func (q *RebuildQueue) runJob(ctx context.Context, jobID string) {
	job, err := q.Status(ctx, jobID)
	if err != nil {
		q.logger.Error("Задача не найдена в статусах",
			ports.LogField{Key: "job_id", Value: jobID},
			ports.LogField{Key: "error", Value: err.Error()})
		return
	}

	jobCtx := context.WithValue(ctx, "job_id", job.ID)
	jobCtx = context.WithValue(jobCtx, "channel_id", job.ChannelID)

	now := time.Now().UTC()
	job.State = JobRunning
	job.StartedAt = &now
	if err := q.saveJob(jobCtx, job); err != nil {
		q.logger.ErrorWithContext(jobCtx, "Ошибка сохранения статуса задачи",
			ports.LogField{Key: "error", Value: err.Error()})
	}

	buildResult, buildErr := q.process(jobCtx, job)

	finished := time.Now().UTC()
	job.FinishedAt = &finished

	if buildErr != nil {
		job.State = JobFailed
		job.Error = buildErr.Error()
		q.logger.ErrorWithContext(jobCtx, "Задача пересборки завершилась с ошибкой",
			ports.LogField{Key: "error", Value: buildErr.Error()})
	} else {
		job.State = JobCompleted
		job.Progress = 100
		job.Result = buildResult
	}

	if err := q.saveJob(jobCtx, job); err != nil {
		q.logger.ErrorWithContext(jobCtx, "Ошибка сохранения результата задачи",
			ports.LogField{Key: "error", Value: err.Error()})
	}
}
