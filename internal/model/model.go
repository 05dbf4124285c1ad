// Package model defines the typed records the batch engine passes between
// the loader, router, stores, and metrics aggregator.
package model

import "time"

// Status is the outcome taxonomy every URL Record resolves to.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusCaptchaDetected Status = "captcha_detected"
	StatusRobotsBlocked   Status = "robots_blocked"
	StatusHTTPError       Status = "http_error"
	StatusTimeout         Status = "timeout"
	StatusInvalidURL      Status = "invalid_url"
	StatusTooLarge        Status = "too_large"
	StatusOtherError      Status = "other_error"
)

// Method identifies which fetch stage produced a record.
type Method string

const (
	MethodHTTP    Method = "http"
	MethodBrowser Method = "browser"
)

// Stage identifies whether a record came from the primary or the fallback
// attempt.
type Stage string

const (
	StagePrimary  Stage = "primary"
	StageFallback Stage = "fallback"
)

// BlockType is a coarse companion to Status and CaptchaDetected letting a
// consumer see "was this blocked, and how" without branching on Status.
// Supplemented from original_source/tavily_scraper/core/models.py's UrlStats.
type BlockType string

const (
	BlockNone      BlockType = "none"
	BlockCaptcha   BlockType = "captcha"
	BlockRateLimit BlockType = "rate_limit"
	BlockRobots    BlockType = "robots"
	BlockOther     BlockType = "other"
)

// URLJob is one URL to be processed, enriched with shard coordinates.
// Immutable once created; identity is URL.
type URLJob struct {
	URL             string
	ShardIndex      int
	PositionInShard int
	HintDynamic     *bool
}

// FetchRecord is the in-memory result of one stage attempt. Body is never
// persisted; it exists only so the router can run the classifier and the
// completeness check before discarding it.
type FetchRecord struct {
	URL              string
	Host             string
	Method           Method
	Stage            Stage
	Status           Status
	HTTPStatus       int
	LatencyMS        int64
	ContentLength    int
	Encoding         string
	Retries          int
	CaptchaDetected  bool
	RobotsDisallowed bool
	ErrorKind        string
	ErrorMessage     string
	BlockType        BlockType
	BlockVendor      string
	StartedAt        time.Time
	FinishedAt       time.Time
	ShardIndex       int
	Body             []byte
}

// URLRecord is the persisted shape of a FetchRecord: same fields minus Body,
// plus a single finish Timestamp. Every attempted job produces exactly one.
type URLRecord struct {
	URL              string    `json:"url"`
	Host             string    `json:"host"`
	Method           Method    `json:"method"`
	Stage            Stage     `json:"stage"`
	Status           Status    `json:"status"`
	HTTPStatus       int       `json:"http_status,omitempty"`
	LatencyMS        int64     `json:"latency_ms,omitempty"`
	ContentLength    int       `json:"content_length,omitempty"`
	Encoding         string    `json:"encoding,omitempty"`
	Retries          int       `json:"retries,omitempty"`
	CaptchaDetected  bool      `json:"captcha_detected,omitempty"`
	RobotsDisallowed bool      `json:"robots_disallowed,omitempty"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	BlockType        BlockType `json:"block_type,omitempty"`
	BlockVendor      string    `json:"block_vendor,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	ShardIndex       int       `json:"shard_index"`
}

// NewRecord starts a pending record for a job, mirroring
// original_source/tavily_scraper/core/models.py's make_initial_fetch_result.
func NewRecord(job URLJob, method Method, stage Stage) FetchRecord {
	return FetchRecord{
		URL:        job.URL,
		Method:     method,
		Stage:      stage,
		Status:     StatusOtherError,
		BlockType:  BlockNone,
		ShardIndex: job.ShardIndex,
		StartedAt:  time.Now().UTC(),
	}
}

// ToURLRecord strips the body and stamps the finish timestamp, mirroring
// original_source/tavily_scraper/core/models.py's fetch_result_to_url_stats.
func (r FetchRecord) ToURLRecord() URLRecord {
	ts := r.FinishedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	blockType := r.BlockType
	if blockType == "" {
		blockType = BlockNone
	}
	return URLRecord{
		URL:              r.URL,
		Host:             r.Host,
		Method:           r.Method,
		Stage:            r.Stage,
		Status:           r.Status,
		HTTPStatus:       r.HTTPStatus,
		LatencyMS:        r.LatencyMS,
		ContentLength:    r.ContentLength,
		Encoding:         r.Encoding,
		Retries:          r.Retries,
		CaptchaDetected:  r.CaptchaDetected,
		RobotsDisallowed: r.RobotsDisallowed,
		ErrorKind:        r.ErrorKind,
		ErrorMessage:     r.ErrorMessage,
		BlockType:        blockType,
		BlockVendor:      r.BlockVendor,
		Timestamp:        ts,
		ShardIndex:       r.ShardIndex,
	}
}

// RunSummary is the single aggregate record written once per run. The
// schema is append-only: new fields may be added, existing fields never
// renamed or removed.
type RunSummary struct {
	TotalURLs             int     `json:"total_urls"`
	SuccessRate           float64 `json:"success_rate"`
	HTTPErrorRate         float64 `json:"http_error_rate"`
	TimeoutRate           float64 `json:"timeout_rate"`
	CaptchaRate           float64 `json:"captcha_rate"`
	RobotsBlockRate       float64 `json:"robots_block_rate"`
	HTTPXShare            float64 `json:"httpx_share"`
	PlaywrightShare       float64 `json:"playwright_share"`
	HTTPP50LatencyMS      *int64  `json:"http_p50_latency_ms"`
	HTTPP95LatencyMS      *int64  `json:"http_p95_latency_ms"`
	BrowserP50LatencyMS   *int64  `json:"browser_p50_latency_ms"`
	BrowserP95LatencyMS   *int64  `json:"browser_p95_latency_ms"`
	HTTPMeanContentLen    *int64  `json:"http_mean_content_length"`
	BrowserMeanContentLen *int64  `json:"browser_mean_content_length"`
	Aborted               bool    `json:"aborted,omitempty"`
	AbortReason           string  `json:"abort_reason,omitempty"`
}

// CheckpointStatus is the lifecycle state of one shard's progress journal.
type CheckpointStatus string

const (
	CheckpointPending    CheckpointStatus = "pending"
	CheckpointInProgress CheckpointStatus = "in_progress"
	CheckpointCompleted  CheckpointStatus = "completed"
	CheckpointFailed     CheckpointStatus = "failed"
)

// ShardCheckpoint is the persisted progress journal for one shard of one
// run, written after each completed URL and read at shard start to skip
// already-completed shards. CompletedURLs additionally lets a shard that
// crashed mid-run (Status still in_progress) resume without re-fetching
// and re-appending the URLs it already finished.
type ShardCheckpoint struct {
	RunID         string           `json:"run_id"`
	ShardID       int              `json:"shard_id"`
	URLsTotal     int              `json:"urls_total"`
	URLsDone      int              `json:"urls_done"`
	CompletedURLs []string         `json:"completed_urls,omitempty"`
	LastUpdatedAt time.Time        `json:"last_updated_at"`
	Status        CheckpointStatus `json:"status"`
}

// DeviceProfile is the coherent browser fingerprint applied to a session.
// Invariant: internally consistent, e.g. a macOS UA implies a macOS-plausible
// Platform and a non-SwiftShader Renderer.
type DeviceProfile struct {
	Name           string `json:"name"`
	UserAgent      string `json:"user_agent"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
	Locale         string `json:"locale"`
	TimezoneID     string `json:"timezone_id"`
	WebGLVendor    string `json:"webgl_vendor"`
	WebGLRenderer  string `json:"webgl_renderer"`
	Platform       string `json:"platform"`
	Region         string `json:"region,omitempty"`
}

// SessionState is a persisted identity: storage snapshot (cookies + web
// storage) plus its Device Profile, keyed by SessionID. Reloading must
// restore both together.
type SessionState struct {
	SessionID    string         `json:"session_id"`
	StorageState map[string]any `json:"storage_state"`
	Profile      DeviceProfile  `json:"profile"`
}
