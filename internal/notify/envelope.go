package notify

import (
	"github.com/varalys/fimwatch/internal/alert"
	"github.com/varalys/fimwatch/internal/types"
)

const envelopeSchemaVersion = "1"

// envelope is the JSON payload used by the webhook and NATS transports.
type envelope struct {
	Tool       string        `json:"tool"`
	Schema     string        `json:"schema_version"`
	Subject    string        `json:"subject"`
	Body       string        `json:"body"`
	Recipients []string      `json:"recipients,omitempty"`
	Finding    types.Finding `json:"finding"`
}

func newEnvelope(msg alert.Message) envelope {
	return envelope{
		Tool:       "fimwatch",
		Schema:     envelopeSchemaVersion,
		Subject:    msg.Subject,
		Body:       msg.Body,
		Recipients: msg.Recipients,
		Finding:    msg.Finding,
	}
}
