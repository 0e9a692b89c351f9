package syncconfig

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/DylanDDeng/notely-sub000/internal/apperr"
)

var branchRe = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// NormalizeRemoteURL validates an https remote without embedded credentials.
func NormalizeRemoteURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("remote URL is required: %w", apperr.ErrValidation)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("remote URL is malformed: %w", apperr.ErrValidation)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return "", fmt.Errorf("remote URL must use https://: %w", apperr.ErrValidation)
	}
	if u.Host == "" {
		return "", fmt.Errorf("remote URL has no host: %w", apperr.ErrValidation)
	}
	if u.User != nil {
		return "", fmt.Errorf("remote URL must not embed credentials: %w", apperr.ErrValidation)
	}
	return raw, nil
}

// NormalizeBranch trims the name and checks the allowed character set.
// Blank input yields DefaultBranch.
func NormalizeBranch(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultBranch, nil
	}
	if !branchRe.MatchString(raw) || strings.Contains(raw, "..") ||
		strings.HasPrefix(raw, "-") || strings.HasPrefix(raw, "/") || strings.HasSuffix(raw, "/") {
		return "", fmt.Errorf("branch %q contains unsupported characters: %w", raw, apperr.ErrValidation)
	}
	return raw, nil
}

// ClampInterval converts any decoded value into a minute count within
// [MinInterval, MaxInterval]. Unparseable input yields DefaultInterval.
func ClampInterval(v any) int {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return DefaultInterval
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return DefaultInterval
		}
		f = parsed
	default:
		return DefaultInterval
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultInterval
	}
	i := int(math.Round(f))
	if i < MinInterval {
		return MinInterval
	}
	if i > MaxInterval {
		return MaxInterval
	}
	return i
}

// Normalize is the total, pure normalization applied after every load and
// every patch. Invalid fields fall back to defaults and the enabled
// invariant is enforced.
func Normalize(s State) State {
	if u, err := NormalizeRemoteURL(s.RemoteURL); err == nil {
		s.RemoteURL = u
	} else {
		s.RemoteURL = ""
	}
	if b, err := NormalizeBranch(s.Branch); err == nil {
		s.Branch = b
	} else {
		s.Branch = DefaultBranch
	}
	s.IntervalMinutes = ClampInterval(s.IntervalMinutes)
	s.EncryptedToken = strings.TrimSpace(s.EncryptedToken)
	s.VaultPath = strings.TrimSpace(s.VaultPath)
	if !s.LastStatus.Valid() {
		s.LastStatus = StatusIdle
	}
	if s.LastConflictFiles == nil {
		s.LastConflictFiles = []string{}
	}
	if s.Enabled && (s.RemoteURL == "" || s.EncryptedToken == "") {
		s.Enabled = false
	}
	return s
}

// Validate checks the touched fields strictly. Bad input fails instead of
// being coerced.
func (p Patch) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.RemoteURL, validation.When(p.RemoteURL != nil && *p.RemoteURL != "",
			validation.By(func(any) error {
				_, err := NormalizeRemoteURL(*p.RemoteURL)
				return err
			}))),
		validation.Field(&p.Branch, validation.When(p.Branch != nil,
			validation.By(func(any) error {
				_, err := NormalizeBranch(*p.Branch)
				return err
			}))),
		validation.Field(&p.LastStatus, validation.When(p.LastStatus != nil,
			validation.By(func(any) error {
				if !p.LastStatus.Valid() {
					return fmt.Errorf("unknown status %q", *p.LastStatus)
				}
				return nil
			}))),
	)
}

// rawState mirrors State with a loosely typed interval so hand-edited or
// legacy files still load.
type rawState struct {
	Enabled           bool       `json:"enabled"`
	RemoteURL         string     `json:"remoteUrl"`
	Branch            string     `json:"branch"`
	AutoSyncEnabled   *bool      `json:"autoSyncEnabled"`
	IntervalMinutes   any        `json:"intervalMinutes"`
	EncryptedToken    string     `json:"encryptedToken"`
	VaultPath         string     `json:"vaultPath"`
	LastSyncAt        *time.Time `json:"lastSyncAt"`
	LastStatus        Status     `json:"lastStatus"`
	LastMessage       string     `json:"lastMessage"`
	LastConflictFiles []string   `json:"lastConflictFiles"`
}

// decode parses persisted bytes. Any failure yields defaults.
func decode(data []byte) (State, error) {
	var raw rawState
	if err := json.Unmarshal(data, &raw); err != nil {
		return Default(), err
	}
	s := State{
		Enabled:           raw.Enabled,
		RemoteURL:         raw.RemoteURL,
		Branch:            raw.Branch,
		AutoSyncEnabled:   true,
		IntervalMinutes:   ClampInterval(raw.IntervalMinutes),
		EncryptedToken:    raw.EncryptedToken,
		VaultPath:         raw.VaultPath,
		LastSyncAt:        raw.LastSyncAt,
		LastStatus:        raw.LastStatus,
		LastMessage:       raw.LastMessage,
		LastConflictFiles: raw.LastConflictFiles,
	}
	if raw.AutoSyncEnabled != nil {
		s.AutoSyncEnabled = *raw.AutoSyncEnabled
	}
	return Normalize(s), nil
}
