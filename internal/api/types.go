package api

// SampleRequest is the body of POST /v1/samples. Unset fields fall back to
// the sampler defaults, so a request needs nothing beyond the adapter name.
type SampleRequest struct {
	Adapter    string   `json:"adapter"`
	Steps      *int     `json:"steps,omitempty"`
	Batch      *int     `json:"batch,omitempty"`
	SigmaMax   *float64 `json:"sigma_max,omitempty"`
	Rho        *float64 `json:"rho,omitempty"`
	ClsScaling *float64 `json:"cls_scaling,omitempty"`
	Heun       *bool    `json:"heun,omitempty"`
	Langevin   *bool    `json:"langevin,omitempty"`
	SChurn     *float64 `json:"s_churn,omitempty"`
	SMin       *float64 `json:"s_min,omitempty"`
	SMax       *float64 `json:"s_max,omitempty"`
	SNoise     *float64 `json:"s_noise,omitempty"`
	Seed       *int64   `json:"seed,omitempty"`
	Stream     *bool    `json:"stream,omitempty"`
	Store      *bool    `json:"store,omitempty"`
}

// SampleResponse describes one sampling run, in progress or finished.
type SampleResponse struct {
	ID          string       `json:"id"`
	Object      string       `json:"object"`
	CreatedAt   int64        `json:"created_at"`
	CompletedAt *int64       `json:"completed_at,omitempty"`
	Status      string       `json:"status"`
	Adapter     string       `json:"adapter"`
	Steps       int          `json:"steps"`
	Batch       int          `json:"batch"`
	Seed        int64        `json:"seed"`
	Schedule    []float64    `json:"schedule,omitempty"`
	Shape       []int        `json:"shape,omitempty"`
	Samples     [][]float32  `json:"samples,omitempty"`
	Stored      bool         `json:"stored"`
	Error       *SampleError `json:"error,omitempty"`
}

// StepEvent is one emission of a streamed run: which step finished, the
// noise level the state sits at, and the root-mean-square magnitude of the
// batch as a cheap progress signal.
type StepEvent struct {
	Step  int     `json:"step"`
	Sigma float64 `json:"sigma"`
	Tick  int     `json:"tick"`
	RMS   float64 `json:"rms"`
}

// SampleError mirrors the error object embedded in failed responses.
type SampleError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// ScheduleResponse is the body of GET /v1/schedule. A karras preview
// includes the terminal zero exactly as a run would visit it; a power
// preview is the raw log-linear stages.
type ScheduleResponse struct {
	Kind     string    `json:"kind"`
	Steps    int       `json:"steps"`
	SigmaMax float64   `json:"sigma_max"`
	SigmaMin float64   `json:"sigma_min"`
	Rho      float64   `json:"rho,omitempty"`
	Sigmas   []float64 `json:"sigmas"`
}

// AdapterInfo summarises one registered adapter for GET /v1/adapters.
type AdapterInfo struct {
	Name      string  `json:"name"`
	DataShape []int   `json:"data_shape"`
	SigmaMin  float64 `json:"sigma_min"`
	SigmaMax  float64 `json:"sigma_max"`
	Cond      bool    `json:"cond"`
	ClsGuided bool    `json:"cls_guided"`
	Discrete  bool    `json:"discrete"`
	Centered  bool    `json:"centered"`
	Device    string  `json:"device"`
}

// SampleList is the body of GET /v1/samples.
type SampleList struct {
	Object  string           `json:"object"`
	Data    []SampleResponse `json:"data"`
	HasMore bool             `json:"has_more"`
}
