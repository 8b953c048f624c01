package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/drift/internal/logger"
	"github.com/samcharles93/drift/internal/runstore"
	"github.com/samcharles93/drift/internal/sampler"
	"github.com/samcharles93/drift/internal/score"
	"github.com/samcharles93/drift/internal/tensor"
)

// ErrInvalidRequest marks request errors that map to a 400 rather than a 500.
var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string { return e.msg }

func (e invalidRequestError) Unwrap() error { return ErrInvalidRequest }

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// SampleService runs sampling requests against a set of named adapters and
// optionally persists finished runs.
type SampleService struct {
	mu       sync.RWMutex
	adapters map[string]score.Adapter
	store    *runstore.Store
	log      logger.Logger
}

// NewSampleService builds a service. The store may be nil, in which case
// finished runs are not persisted and the lookup endpoints report not found.
func NewSampleService(store *runstore.Store, log logger.Logger) *SampleService {
	if log == nil {
		log = logger.Default()
	}
	return &SampleService{
		adapters: make(map[string]score.Adapter),
		store:    store,
		log:      log,
	}
}

// RegisterAdapter makes a model available under the given name.
func (s *SampleService) RegisterAdapter(name string, a score.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[name] = a
}

func (s *SampleService) adapter(name string) (score.Adapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.adapters[name]
	if !ok {
		return nil, newInvalidRequest(fmt.Sprintf("unknown adapter %q", name))
	}
	return a, nil
}

// Adapters lists the registered adapters sorted by name.
func (s *SampleService) Adapters() []AdapterInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AdapterInfo, 0, len(s.adapters))
	for name, a := range s.adapters {
		_, tick := a.SnapToTick(a.SigmaMax())
		out = append(out, AdapterInfo{
			Name:      name,
			DataShape: a.DataShape(),
			SigmaMin:  a.SigmaMin(),
			SigmaMax:  a.SigmaMax(),
			Cond:      a.UNetIsCond(),
			ClsGuided: a.UseClsGuidance(),
			Discrete:  tick != score.NoTick,
			Centered:  a.SampsCentered(),
			Device:    string(a.Device()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StepWriter receives the lifecycle of a streamed run.
type StepWriter interface {
	Begin(resp SampleResponse) error
	EmitStep(ev StepEvent) error
	Complete(resp SampleResponse) error
	Failed(resp SampleResponse, err error) error
}

// CreateSample executes one sampling run. When stream is non-nil every
// emitted state produces a step event before the final response is returned.
func (s *SampleService) CreateSample(ctx context.Context, req *SampleRequest, stream StepWriter) (*SampleResponse, error) {
	a, err := s.adapter(req.Adapter)
	if err != nil {
		return nil, err
	}
	cfg := resolveConfig(req)

	resp := SampleResponse{
		ID:        newSampleID(),
		Object:    "sample",
		CreatedAt: timeNow().Unix(),
		Status:    "in_progress",
		Adapter:   req.Adapter,
		Steps:     cfg.Steps,
		Batch:     cfg.Batch,
		Seed:      cfg.Seed,
	}

	run, err := sampler.New(a, cfg)
	if err != nil {
		return nil, newInvalidRequest(err.Error())
	}
	resp.Schedule = run.Schedule()
	resp.Shape = a.DataShape()

	if stream != nil {
		if err := stream.Begin(resp); err != nil {
			return &resp, err
		}
	}

	s.log.Info("sampling run started",
		"id", resp.ID, "adapter", req.Adapter,
		"steps", cfg.Steps, "batch", cfg.Batch, "seed", cfg.Seed)
	started := timeNow()

	for run.Next() {
		if err := ctx.Err(); err != nil {
			return s.fail(&resp, stream, err)
		}
		if stream != nil {
			ev := StepEvent{
				Step:  run.Step(),
				Sigma: run.Sigma(),
				Tick:  run.Tick(),
				RMS:   tensor.RMS(run.State()),
			}
			if err := stream.EmitStep(ev); err != nil {
				return &resp, err
			}
		}
	}
	if err := run.Err(); err != nil {
		return s.fail(&resp, stream, err)
	}

	final := score.Denormalize(a, run.State())
	resp.Samples = perSample(final)
	resp.Status = "completed"
	completed := timeNow().Unix()
	resp.CompletedAt = &completed

	if s.store != nil && (req.Store == nil || *req.Store) {
		if err := s.persist(ctx, &resp, cfg, final); err != nil {
			// A run that sampled fine is still worth returning.
			s.log.Error("persisting run failed", "id", resp.ID, "error", err)
		} else {
			resp.Stored = true
		}
	}

	s.log.Info("sampling run finished",
		"id", resp.ID, "duration", timeNow().Sub(started).String())

	if stream != nil {
		if err := stream.Complete(resp); err != nil {
			return &resp, err
		}
	}
	return &resp, nil
}

func (s *SampleService) fail(resp *SampleResponse, stream StepWriter, err error) (*SampleResponse, error) {
	resp.Status = "failed"
	resp.Error = &SampleError{
		Message: err.Error(),
		Type:    "server_error",
	}
	if stream != nil {
		_ = stream.Failed(*resp, err)
	}
	return resp, err
}

func (s *SampleService) persist(ctx context.Context, resp *SampleResponse, cfg sampler.Config, final *tensor.Tensor) error {
	rec := runstore.Run{
		ID:         resp.ID,
		Adapter:    resp.Adapter,
		CreatedAt:  time.Unix(resp.CreatedAt, 0).UTC(),
		Steps:      resp.Steps,
		Batch:      resp.Batch,
		Seed:       resp.Seed,
		SigmaMax:   resp.Schedule[0],
		ClsScaling: cfg.ClsScaling,
		Heun:       cfg.Heun,
		Langevin:   cfg.Langevin,
		Schedule:   resp.Schedule,
		Shape:      resp.Shape,
		Final:      append([]float32(nil), final.Data...),
	}
	return s.store.Save(ctx, &rec)
}

// GetSample fetches a persisted run by id.
func (s *SampleService) GetSample(ctx context.Context, id string) (*SampleResponse, error) {
	if s.store == nil {
		return nil, runstore.ErrNotFound
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := fromRecord(rec)
	return &resp, nil
}

// ListSamples returns up to limit persisted runs, newest first.
func (s *SampleService) ListSamples(ctx context.Context, limit int) ([]SampleResponse, error) {
	if s.store == nil {
		return nil, nil
	}
	recs, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]SampleResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

func fromRecord(rec *runstore.Run) SampleResponse {
	created := rec.CreatedAt.Unix()
	resp := SampleResponse{
		ID:        rec.ID,
		Object:    "sample",
		CreatedAt: created,
		Status:    "completed",
		Adapter:   rec.Adapter,
		Steps:     rec.Steps,
		Batch:     rec.Batch,
		Seed:      rec.Seed,
		Schedule:  rec.Schedule,
		Shape:     rec.Shape,
		Stored:    true,
	}
	if rec.Batch > 0 && len(rec.Final)%rec.Batch == 0 {
		size := len(rec.Final) / rec.Batch
		samples := make([][]float32, rec.Batch)
		for i := range samples {
			samples[i] = rec.Final[i*size : (i+1)*size]
		}
		resp.Samples = samples
	}
	return resp
}

func perSample(t *tensor.Tensor) [][]float32 {
	out := make([][]float32, t.Batch)
	for i := range out {
		out[i] = append([]float32(nil), t.Sample(i)...)
	}
	return out
}

func resolveConfig(req *SampleRequest) sampler.Config {
	cfg := sampler.DefaultConfig()
	if req.Steps != nil {
		cfg.Steps = *req.Steps
	}
	if req.Batch != nil {
		cfg.Batch = *req.Batch
	}
	if req.SigmaMax != nil {
		cfg.SigmaMax = *req.SigmaMax
	}
	if req.Rho != nil {
		cfg.Rho = *req.Rho
	}
	if req.ClsScaling != nil {
		cfg.ClsScaling = *req.ClsScaling
	}
	if req.Heun != nil {
		cfg.Heun = *req.Heun
	}
	if req.Langevin != nil {
		cfg.Langevin = *req.Langevin
	}
	if req.SChurn != nil {
		cfg.SChurn = *req.SChurn
	}
	if req.SMin != nil {
		cfg.SMin = *req.SMin
	}
	if req.SMax != nil {
		cfg.SMax = *req.SMax
	}
	if req.SNoise != nil {
		cfg.SNoise = *req.SNoise
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	return cfg
}

func newSampleID() string {
	return "smp_" + uuid.NewString()
}

var timeNow = func() time.Time {
	return time.Now()
}
