package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is a schema-less document stored in a collection. Every record
// carries a unique string "id".
type Record map[string]interface{}

// ID returns the record id or "" when it is missing or not a string.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// String returns the string value stored under key, or "".
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Decode fills v (a pointer to a struct) from the record fields.
func (r Record) Decode(v interface{}) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode record %q: %w", r.ID(), err)
	}
	return nil
}

// ToRecord converts a struct into a Record using its json tags.
func ToRecord(v interface{}) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to convert value to record: %w", err)
	}
	return rec, nil
}

// RawRecord is one catalog item as returned by the source API, shaped as
// {"general": {...}, "filterable": {...}}.
type RawRecord = json.RawMessage

// CategoryRef is the denormalized category copy embedded on a product.
type CategoryRef struct {
	CategoryID int    `json:"categoryId"`
	Name       string `json:"name"`
	URI        string `json:"uri"`
}

// Product is the canonical catalog schema produced by the transformer.
type Product struct {
	ID            string        `json:"id,omitempty"`
	SourceID      string        `json:"source_id"`
	Name          string        `json:"name"`
	SKU           string        `json:"sku"`
	Price         float64       `json:"price"`
	OriginalPrice float64       `json:"original_price"`
	Stock         int           `json:"stock"`
	Description   string        `json:"description"`
	URLPath       string        `json:"url_path"`
	Avatar        string        `json:"avatar"`
	Images        []string      `json:"images"`
	ScreenSize    string        `json:"screen_size"`
	ScreenTech    string        `json:"screen_tech"`
	RearCamera    string        `json:"rear_camera"`
	FrontCamera   string        `json:"front_camera"`
	Chipset       string        `json:"chipset"`
	NFC           string        `json:"nfc"`
	RAM           string        `json:"ram"`
	Storage       string        `json:"storage"`
	Battery       string        `json:"battery"`
	SIM           string        `json:"sim"`
	OS            string        `json:"os"`
	RefreshRate   string        `json:"refresh_rate"`
	MainScreenRes string        `json:"main_screen_res"`
	SubScreenSize string        `json:"sub_screen_size"`
	SubScreenRes  string        `json:"sub_screen_res"`
	ColorDepth    string        `json:"color_depth"`
	CPUType       string        `json:"cpu_type"`
	Categories    []CategoryRef `json:"categories"`
	CreatedAt     string        `json:"created_at,omitempty"`
	UpdatedAt     string        `json:"updated_at,omitempty"`
}

// Patch returns the source-owned fields of the product as a record patch.
// Identity and locally owned fields (id, stock, created_at, updated_at) are
// left out so that merging the patch never clobbers them.
func (p Product) Patch() (Record, error) {
	if p.Images == nil {
		p.Images = []string{}
	}
	if p.Categories == nil {
		p.Categories = []CategoryRef{}
	}
	rec, err := ToRecord(p)
	if err != nil {
		return nil, err
	}
	for _, k := range []string{"id", "stock", "created_at", "updated_at"} {
		delete(rec, k)
	}
	return rec, nil
}

// Category is a stored entry of the category index.
type Category struct {
	ID           string `json:"id"`
	CategoryID   int    `json:"categoryId"`
	CategoryName string `json:"categoryName"`
	CategoryURI  string `json:"categoryUri"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// CategoryCandidate is a category derived from the embedded product copies.
type CategoryCandidate struct {
	CategoryID   int    `json:"categoryId"`
	CategoryName string `json:"categoryName"`
	CategoryURI  string `json:"categoryUri"`
}

// LoadResult reports the outcome of one upsert pass.
type LoadResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// ReconcileResult reports the outcome of one reconciliation pass.
type ReconcileResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// Sync status values.
const (
	StatusNeverRun = "never_run"
	StatusRunning  = "running"
	StatusSuccess  = "success"
	StatusFailure  = "failure"
)

// SyncStatus tracks the status of a scheduled task's runs. The task name is
// used as the record id.
type SyncStatus struct {
	ID                string    `json:"id"`
	LastSuccessfulRun time.Time `json:"last_successful_run"`
	LastAttempt       time.Time `json:"last_attempt"`
	Status            string    `json:"status"`
	ErrorMessage      string    `json:"error_message"`
	Created           int       `json:"created"`
	Updated           int       `json:"updated"`
	Deleted           int       `json:"deleted"`
	Skipped           int       `json:"skipped"`
}

// Timestamp formats t the way record timestamps are stored.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
