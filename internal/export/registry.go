package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conticomp/xprotect-export/internal/logger"
)

// ErrJobNotFound is returned when a job id is unknown or has expired.
var ErrJobNotFound = errors.New("export job not found")

const defaultJobTTL = 24 * time.Hour

// Registry stores export jobs in Redis. Jobs expire after the configured
// TTL; the active set tracks ids for listing and is pruned lazily when
// expired entries are encountered.
type Registry struct {
	client *redis.Client
	logger logger.Logger
	prefix string
	ttl    time.Duration
}

// NewRegistry creates a Redis-backed job registry.
func NewRegistry(client *redis.Client, log logger.Logger, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = defaultJobTTL
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Registry{
		client: client,
		logger: log.WithField("component", "export-registry"),
		prefix: "xpexport:jobs:",
		ttl:    ttl,
	}
}

// createScript sets the job key and adds it to the active set atomically,
// failing when the id already exists.
var createScript = redis.NewScript(`
	local key = KEYS[1]
	local active_key = KEYS[2]
	local data = ARGV[1]
	local ttl = tonumber(ARGV[2])
	local job_id = ARGV[3]
	local ok = redis.call('SET', key, data, 'PX', ttl, 'NX')
	if not ok then
		return 0
	end
	redis.call('SADD', active_key, job_id)
	return 1
`)

// Create registers a new job. The id must be unused.
func (r *Registry) Create(ctx context.Context, job *Job) error {
	job.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	result, err := createScript.Run(ctx, r.client,
		[]string{r.prefix + job.ID, r.activeKey()},
		data, r.ttl.Milliseconds(), job.ID).Int()
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	r.logger.WithFields(logger.Fields{
		"job_id":    job.ID,
		"camera_id": job.CameraID,
	}).Info("Export job created")
	return nil
}

// Get retrieves a job by id.
func (r *Registry) Get(ctx context.Context, jobID string) (*Job, error) {
	data, err := r.client.Get(ctx, r.prefix+jobID).Bytes()
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
	return &job, nil
}

// listScript collects every job in the active set and prunes ids whose
// entries have expired.
var listScript = redis.NewScript(`
	local active_key = KEYS[1]
	local prefix = ARGV[1]
	local active = redis.call('SMEMBERS', active_key)
	local result = {}
	local to_remove = {}

	for i, id in ipairs(active) do
		local job = redis.call('GET', prefix .. id)
		if job then
			table.insert(result, job)
		else
			table.insert(to_remove, id)
		end
	end

	for i, id in ipairs(to_remove) do
		redis.call('SREM', active_key, id)
	end

	return result
`)

// List returns every job that has not yet expired.
func (r *Registry) List(ctx context.Context) ([]*Job, error) {
	res, err := listScript.Run(ctx, r.client, []string{r.activeKey()}, r.prefix).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from list script")
	}

	jobs := make([]*Job, 0, len(values))
	for _, val := range values {
		data, ok := val.(string)
		if !ok {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			r.logger.WithError(err).Warn("Failed to unmarshal job")
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// SetRunning marks the job as started.
func (r *Registry) SetRunning(ctx context.Context, jobID string) error {
	return r.update(ctx, jobID, func(job *Job) {
		job.Status = StatusRunning
		job.StartedAt = time.Now().UTC()
	})
}

// UpdateProgress records frame count and position on a running job.
func (r *Registry) UpdateProgress(ctx context.Context, jobID string, frames int64, lastTimestamp int64) error {
	return r.update(ctx, jobID, func(job *Job) {
		job.FrameCount = frames
		job.LastTimestamp = lastTimestamp
	})
}

// SetComplete records the terminal success state and the output file.
func (r *Registry) SetComplete(ctx context.Context, jobID, filename string, sizeBytes, frames int64) error {
	return r.update(ctx, jobID, func(job *Job) {
		job.Status = StatusComplete
		job.Filename = filename
		job.SizeBytes = sizeBytes
		job.FrameCount = frames
		job.FinishedAt = time.Now().UTC()
	})
}

// SetFailed records the terminal failure state.
func (r *Registry) SetFailed(ctx context.Context, jobID, reason string) error {
	return r.update(ctx, jobID, func(job *Job) {
		job.Status = StatusFailed
		job.Error = reason
		job.FinishedAt = time.Now().UTC()
	})
}

// update applies a read-modify-write. Safe without a transaction because
// each job has exactly one writer, the goroutine running the export.
func (r *Registry) update(ctx context.Context, jobID string, mutate func(*Job)) error {
	job, err := r.Get(ctx, jobID)
	if err != nil {
		return err
	}
	mutate(job)

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// XX: never resurrect an expired job.
	ok, err := r.client.SetXX(ctx, r.prefix+jobID, data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if !ok {
		return ErrJobNotFound
	}
	return nil
}

func (r *Registry) activeKey() string {
	return r.prefix + "active"
}
