// Package syncconfig persists the Git sync configuration.
package syncconfig

import "time"

// Status is the outcome recorded for the latest sync attempt.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusConflict Status = "conflict"
	StatusDisabled Status = "disabled"
	StatusSkipped  Status = "skipped"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusSuccess, StatusError,
		StatusConflict, StatusDisabled, StatusSkipped:
		return true
	}
	return false
}

const (
	DefaultBranch   = "main"
	DefaultInterval = 5
	MinInterval     = 1
	MaxInterval     = 120
)

// State is the persisted sync configuration.
type State struct {
	Enabled           bool       `json:"enabled"`
	RemoteURL         string     `json:"remoteUrl"`
	Branch            string     `json:"branch"`
	AutoSyncEnabled   bool       `json:"autoSyncEnabled"`
	IntervalMinutes   int        `json:"intervalMinutes"`
	EncryptedToken    string     `json:"encryptedToken"`
	VaultPath         string     `json:"vaultPath"`
	LastSyncAt        *time.Time `json:"lastSyncAt"`
	LastStatus        Status     `json:"lastStatus"`
	LastMessage       string     `json:"lastMessage"`
	LastConflictFiles []string   `json:"lastConflictFiles"`
}

// Default returns the configuration used when nothing is persisted.
func Default() State {
	return State{
		Branch:            DefaultBranch,
		AutoSyncEnabled:   true,
		IntervalMinutes:   DefaultInterval,
		LastStatus:        StatusIdle,
		LastConflictFiles: []string{},
	}
}

// TokenConfigured reports whether a ciphertext is stored.
func (s State) TokenConfigured() bool {
	return s.EncryptedToken != ""
}

// PublicConfig is the only configuration shape exposed outside the process.
type PublicConfig struct {
	Enabled           bool       `json:"enabled"`
	RemoteURL         string     `json:"remoteUrl"`
	Branch            string     `json:"branch"`
	AutoSyncEnabled   bool       `json:"autoSyncEnabled"`
	IntervalMinutes   int        `json:"intervalMinutes"`
	TokenConfigured   bool       `json:"tokenConfigured"`
	VaultPath         string     `json:"vaultPath"`
	LastSyncAt        *time.Time `json:"lastSyncAt"`
	LastStatus        Status     `json:"lastStatus"`
	LastMessage       string     `json:"lastMessage"`
	LastConflictFiles []string   `json:"lastConflictFiles"`
}

// ToPublic hides the ciphertext behind TokenConfigured.
func (s State) ToPublic() PublicConfig {
	files := append([]string{}, s.LastConflictFiles...)
	return PublicConfig{
		Enabled:           s.Enabled,
		RemoteURL:         s.RemoteURL,
		Branch:            s.Branch,
		AutoSyncEnabled:   s.AutoSyncEnabled,
		IntervalMinutes:   s.IntervalMinutes,
		TokenConfigured:   s.TokenConfigured(),
		VaultPath:         s.VaultPath,
		LastSyncAt:        s.LastSyncAt,
		LastStatus:        s.LastStatus,
		LastMessage:       s.LastMessage,
		LastConflictFiles: files,
	}
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Enabled           *bool
	RemoteURL         *string
	Branch            *string
	AutoSyncEnabled   *bool
	IntervalMinutes   *int
	EncryptedToken    *string
	VaultPath         *string
	LastSyncAt        **time.Time
	LastStatus        *Status
	LastMessage       *string
	LastConflictFiles *[]string
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// apply merges p onto s without validation.
func (p Patch) apply(s State) State {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.RemoteURL != nil {
		s.RemoteURL = *p.RemoteURL
	}
	if p.Branch != nil {
		s.Branch = *p.Branch
	}
	if p.AutoSyncEnabled != nil {
		s.AutoSyncEnabled = *p.AutoSyncEnabled
	}
	if p.IntervalMinutes != nil {
		s.IntervalMinutes = *p.IntervalMinutes
	}
	if p.EncryptedToken != nil {
		s.EncryptedToken = *p.EncryptedToken
	}
	if p.VaultPath != nil {
		s.VaultPath = *p.VaultPath
	}
	if p.LastSyncAt != nil {
		s.LastSyncAt = *p.LastSyncAt
	}
	if p.LastStatus != nil {
		s.LastStatus = *p.LastStatus
	}
	if p.LastMessage != nil {
		s.LastMessage = *p.LastMessage
	}
	if p.LastConflictFiles != nil {
		s.LastConflictFiles = append([]string{}, (*p.LastConflictFiles)...)
	}
	return s
}
