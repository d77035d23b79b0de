package openfinance

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"finlink/internal/domain/connection"
	ofclient "finlink/internal/infrastructure/openfinance"
)

type ActionKind string

const (
	ActionOpenOAuth ActionKind = "open_oauth"
	ActionPromptMFA ActionKind = "prompt_mfa"
	ActionFail      ActionKind = "fail"
)

const (
	ReasonNotAwaitingInput = "connection is not awaiting input"
	ReasonNoOAuthURL       = "could not obtain authentication link"
)

// FieldSpec describes the single input the app must render for an MFA prompt.
type FieldSpec struct {
	Name              string     `json:"name"`
	Label             string     `json:"label,omitempty"`
	Type              string     `json:"type,omitempty"`
	Placeholder       string     `json:"placeholder,omitempty"`
	Validation        string     `json:"validation,omitempty"`
	ValidationMessage string     `json:"validationMessage,omitempty"`
	Optional          bool       `json:"optional"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
}

// Action tells the caller what to do with a connection awaiting input.
type Action struct {
	Kind         ActionKind `json:"kind"`
	ConnectionID string     `json:"connectionId,omitempty"`
	URL          string     `json:"url,omitempty"`
	Field        *FieldSpec `json:"field,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

// Parameter names the aggregator uses for redirect-based authorization.
var oauthMarkers = map[string]struct{}{
	"oauth":      {},
	"oauth_code": {},
	"oauthUrl":   {},
	"oauth_url":  {},
}

// Classify decides whether a challenge is an OAuth redirect or an MFA prompt.
func Classify(p connection.ChallengePayload) connection.ChallengeKind {
	if strings.EqualFold(p.Type, "oauth") {
		return connection.ChallengeOAuth
	}
	if _, ok := oauthMarkers[p.Name]; ok {
		return connection.ChallengeOAuth
	}
	return connection.ChallengeMFA
}

// Route maps a connection to the next user-facing action. It has no side
// effects and returns the same Action for the same input.
func Route(conn *connection.Connection) Action {
	if conn == nil || conn.Status != connection.StatusWaitingInput || conn.PendingChallenge == nil {
		return Action{Kind: ActionFail, Reason: ReasonNotAwaitingInput}
	}

	p := conn.PendingChallenge.Payload
	if Classify(p) == connection.ChallengeOAuth {
		u, ok := oauthURL(p)
		if !ok {
			return Action{Kind: ActionFail, ConnectionID: conn.ConnectionID, Reason: ReasonNoOAuthURL}
		}
		return Action{Kind: ActionOpenOAuth, ConnectionID: conn.ConnectionID, URL: u}
	}

	return Action{
		Kind:         ActionPromptMFA,
		ConnectionID: conn.ConnectionID,
		Field: &FieldSpec{
			Name:              p.Name,
			Label:             p.Label,
			Type:              p.Type,
			Placeholder:       p.Placeholder,
			Validation:        p.Validation,
			ValidationMessage: p.ValidationMessage,
			Optional:          p.Optional,
			ExpiresAt:         p.ExpiresAt,
		},
	}
}

// NewChallenge converts the aggregator parameter into a pending challenge.
func NewChallenge(param *ofclient.Parameter) *connection.Challenge {
	if param == nil {
		return nil
	}
	payload := connection.ChallengePayload{
		Name:              param.Name,
		Label:             param.Label,
		Type:              param.Type,
		Placeholder:       param.Placeholder,
		AssistiveText:     param.AssistiveText,
		Validation:        param.Validation,
		ValidationMessage: param.ValidationMessage,
		Data:              param.Data,
		Optional:          param.Optional,
	}
	if exp, err := param.GetExpiresAt(); err == nil {
		payload.ExpiresAt = exp
	}
	return &connection.Challenge{Kind: Classify(payload), Payload: payload}
}

// oauthURL looks in data first (a bare string or {"url": ...}), then in the
// assistive text and placeholder.
func oauthURL(p connection.ChallengePayload) (string, bool) {
	if len(p.Data) > 0 {
		var s string
		if err := json.Unmarshal(p.Data, &s); err == nil && isHTTPURL(s) {
			return s, true
		}
		var obj struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(p.Data, &obj); err == nil && isHTTPURL(obj.URL) {
			return obj.URL, true
		}
	}
	for _, candidate := range []string{p.AssistiveText, p.Placeholder} {
		if isHTTPURL(candidate) {
			return strings.TrimSpace(candidate), true
		}
	}
	return "", false
}

func isHTTPURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
