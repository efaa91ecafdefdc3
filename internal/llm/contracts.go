package llm

import "context"

// Prompt is the two-part instruction sent with every grading call.
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Call is one request to a vendor. Image holds raw JPEG bytes; it may be empty
// for text-only pings.
type Call struct {
	Provider string
	APIKey   string
	Model    string
	Image    []byte
	Prompt   Prompt
}

// Sender is what the failover layer depends on.
type Sender interface {
	Send(ctx context.Context, call Call) (string, error)
	Reset()
}
