package queue

import "encoding/json"

// MessageVersion is the current job payload version.
const MessageVersion = 1

// Message asks a worker to run one analysis.
type Message struct {
	AnalysisID string `json:"analysis_id"`
	RequestID  string `json:"request_id,omitempty"`
	EnqueuedAt string `json:"enqueued_at"`
	Version    int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
