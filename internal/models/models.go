package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a tenant, user or file is absent.
var ErrNotFound = errors.New("not found")

// ValidationError rejects malformed input before any storage is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UpstreamError wraps a failure from an external provider (embedding,
// generation, identity). It is surfaced once; retrying is the caller's call.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IngestionError reports a failed document ingestion. Writes committed before
// the failure are not rolled back.
type IngestionError struct {
	ClientID string
	Err      error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed for %s: %v", e.ClientID, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

type Theme struct {
	PrimaryColor    string `json:"primary_color"`
	BackgroundColor string `json:"background_color"`
	TextColor       string `json:"text_color"`
}

func DefaultTheme() Theme {
	return Theme{
		PrimaryColor:    "#007bff",
		BackgroundColor: "#ffffff",
		TextColor:       "#333333",
	}
}

// ClientConfig is the per-tenant widget configuration, stored at
// client:{id}:config with a 30 day TTL.
type ClientConfig struct {
	ClientID       string `json:"client_id"`
	Name           string `json:"name"`
	Theme          Theme  `json:"theme"`
	WelcomeMessage string `json:"welcome_message"`
	Enabled        bool   `json:"enabled"`
	RateLimit      int    `json:"rate_limit"`
}

func DefaultClientConfig(clientID, name string) ClientConfig {
	return ClientConfig{
		ClientID:       clientID,
		Name:           name,
		Theme:          DefaultTheme(),
		WelcomeMessage: "Hello! How can I help you today?",
		Enabled:        true,
		RateLimit:      10,
	}
}

// User links an identity-provider subject to its tenant.
type User struct {
	UserID      string     `json:"user_id"`
	ClientID    string     `json:"client_id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	CreatedAt   time.Time  `json:"created_at"`
	Onboarded   bool       `json:"onboarded"`
	CompanyName string     `json:"company_name,omitempty"`
	Website     string     `json:"website,omitempty"`
	UseCase     string     `json:"use_case,omitempty"`
	OnboardedAt *time.Time `json:"onboarded_at,omitempty"`
}

// FileMeta describes an uploaded document at ingestion time.
type FileMeta struct {
	Filename string
	Size     int64
	NumPages int
}

// FileRecord is the stored registry entry for one uploaded document.
type FileRecord struct {
	FileID     int64  `json:"file_id"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	NumPages   int    `json:"num_pages"`
	UploadedAt string `json:"uploaded_at"`
	ChunkCount int    `json:"chunk_count"`
}

// Turn is one append-only conversation log entry.
type Turn struct {
	Timestamp    time.Time
	SessionID    string
	Message      string
	Response     string
	ResponseTime float64
	Cached       bool
}

type FilesInfo struct {
	TotalFiles  int64 `json:"total_files"`
	TotalSize   int64 `json:"total_size"`
	TotalChunks int64 `json:"total_chunks"`
}

// Summary is the materialized per-tenant rollup. It is the durable source of
// truth for totals; the log is only a bounded recent window.
type Summary struct {
	TotalMessages     int64     `json:"total_messages"`
	TotalResponseTime float64   `json:"total_response_time"`
	CacheHits         int64     `json:"cache_hits"`
	LastUpdated       string    `json:"last_updated"`
	FilesInfo         FilesInfo `json:"files_info"`
}

type DailyActivity struct {
	Date     string `json:"date"`
	Messages int    `json:"messages"`
}

type ResponseTimePoint struct {
	Date            string  `json:"date"`
	AvgResponseTime float64 `json:"avg_response_time"`
	Target          int     `json:"target"`
}

type SessionActivity struct {
	SessionID       string  `json:"session_id"`
	MessageCount    int     `json:"message_count"`
	AvgResponseTime float64 `json:"avg_response_time"`
	LastActivity    string  `json:"last_activity"`
	DurationMinutes int     `json:"duration_minutes"`
}

// Report is the analytics payload served to the dashboard. Totals come from
// the rollup; charts and session detail come from the bounded log window.
type Report struct {
	TotalMessages   int64   `json:"total_messages"`
	UniqueSessions  int     `json:"unique_sessions"`
	AvgResponseTime float64 `json:"avg_response_time"`
	Last24hMessages int     `json:"last_24h_messages"`

	DailyActivity     []DailyActivity     `json:"daily_activity"`
	ResponseTimeTrend []ResponseTimePoint `json:"response_time_trend"`
	RecentActivity    []SessionActivity   `json:"recent_activity"`

	TotalInteractions         int     `json:"total_interactions"`
	KnowledgeBaseSize         int64   `json:"knowledge_base_size"`
	CacheEfficiency           float64 `json:"cache_efficiency"`
	AvgMessagesPerSession     float64 `json:"avg_messages_per_session"`
	AvgResponseTimePerSession float64 `json:"avg_response_time_per_session"`

	TotalFiles  int64        `json:"total_files"`
	TotalChunks int64        `json:"total_chunks"`
	FilesList   []FileRecord `json:"files_list"`

	PeakActivityDay    string  `json:"peak_activity_day,omitempty"`
	BusiestHour        string  `json:"busiest_hour,omitempty"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	LastUpdated        string  `json:"last_updated"`
}
