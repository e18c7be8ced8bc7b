package models

import "errors"

// These structs define the JSON payloads exchanged with the plan API.

var ErrItemNotFound = errors.New("item not found")

// OpenRequest asks the API to load a previously stored plan.
type OpenRequest struct {
	FileName string `json:"fileName"`
}

// PlanResponse is the current state of a user's plan.
type PlanResponse struct {
	FileName string `json:"fileName"`
	Tree     *Tree  `json:"groupedData"`
	// ChapterOrder lists the keys of groupedData in sheet order.
	ChapterOrder []string `json:"chapterOrder"`
	AISummary    string   `json:"aiSummary"`
	ItemCount    int      `json:"itemCount"`
	Notices      []Notice `json:"notices,omitempty"`
}

// UploadResponse reports how an uploaded sheet was grouped.
type UploadResponse struct {
	PlanResponse
	Rows    int `json:"rows"`
	Skipped int `json:"skipped"`
	Merged  int `json:"merged"`
}

// GenerateRequest selects what to draft for one item or for the whole plan.
type GenerateRequest struct {
	Kind string `json:"kind"`
	// Overwrite regenerates fields that already have a value (batch only).
	Overwrite bool `json:"overwrite,omitempty"`
}

// GenerateResponse is the outcome of a single-item generation.
type GenerateResponse struct {
	ItemID      string `json:"itemId"`
	Text        string `json:"text,omitempty"`
	RateLimited bool   `json:"rateLimited,omitempty"`
	Message     string `json:"message,omitempty"`
}

// BatchResponse summarizes a batch generation run.
type BatchResponse struct {
	Generated       int      `json:"generated"`
	Skipped         int      `json:"skipped"`
	Failed          int      `json:"failed"`
	RateLimitPauses int      `json:"rateLimitPauses"`
	Errors          []string `json:"errors,omitempty"`
}

// Notice levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notice is a user-visible message. Field names the input a UI should flag.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}
