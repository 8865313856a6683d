package client

import "time"

// ServerStatus is the response of GET /api/status.
type ServerStatus struct {
	Status string `json:"status"`
	Keys   int    `json:"keys"`
}

// ValidateResult is the outcome of POST /api/validate.
type ValidateResult struct {
	Valid   bool       `json:"valid"`
	Message string     `json:"message"`
	Expiry  *time.Time `json:"expiry,omitempty"`
}

// Whoami describes the authenticated admin principal.
type Whoami struct {
	Name    string `json:"name"`
	Method  string `json:"method"`
	IsAdmin bool   `json:"is_admin"`
}

// Key is the admin view of a license key.
type Key struct {
	Code          string     `json:"code"`
	Duration      string     `json:"duration"`
	Mode          string     `json:"mode"`
	Status        string     `json:"status"`
	Created       time.Time  `json:"created"`
	Expiry        *time.Time `json:"expiry"`
	Used          bool       `json:"used"`
	HWID          string     `json:"hwid,omitempty"`
	ActivatedDate *time.Time `json:"activated_date,omitempty"`
	Extended      int        `json:"extended,omitempty"`
	ExtendedDate  *time.Time `json:"extended_date,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// GenerateRequest is the body of POST /admin/api/keys.
type GenerateRequest struct {
	Count    int    `json:"count"`
	Duration string `json:"duration"`
	Mode     string `json:"mode,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// ListOptions filters ListKeys. Empty fields match everything.
type ListOptions struct {
	Duration string
	Status   string
	Query    string
}

// ExtendResult reports a key's expiry after an extension.
type ExtendResult struct {
	NewExpiry *time.Time `json:"new_expiry"`
	Extended  int        `json:"extended"`
}

// Stats summarizes the stored keys.
type Stats struct {
	Total             int `json:"total"`
	Used              int `json:"used"`
	Available         int `json:"available"`
	Expired           int `json:"expired"`
	ActivationPending int `json:"activation_pending"`
}
