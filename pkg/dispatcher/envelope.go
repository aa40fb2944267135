// Package dispatcher routes render service calls to a remote backend or the
// local conversion path and normalizes the result into one response envelope.
package dispatcher

import "encoding/json"

// Envelope statuses.
const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusError   = "error"
)

// WarningEnvelope is the serialized envelope returned when there is nothing to
// convert. The exact bytes are part of the caller-visible contract.
const WarningEnvelope = `{"status":"warning"}`

// Envelope is the normalized response shape every dispatch returns, identical
// regardless of whether the remote backend or the local converter produced it.
type Envelope struct {
	Status string        `json:"status"`
	Result *RenderResult `json:"result,omitempty"`
}

// RenderResult holds the rendered formula. Height and Width are numeric
// strings with unit suffixes stripped.
type RenderResult struct {
	Height   string `json:"height"`
	Width    string `json:"width"`
	Content  string `json:"content"`
	Baseline string `json:"baseline"`
	Format   string `json:"format"`
	Alt      string `json:"alt"`
	Role     string `json:"role"`
}

// Serialize renders the envelope as the JSON wire format.
func (e *Envelope) Serialize() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
