package pipeline

import (
	"fmt"
	"time"
)

// Kind identifies which payload shape a successful fetch produced.
type Kind string

// Supported payload kinds.
const (
	KindJSON Kind = "json"
	KindHTML Kind = "html"
)

// Status is the terminal state of a single fetch attempt.
type Status string

// Fetch outcome statuses.
const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// NoTitle is the title recorded for HTML documents without a <title> element.
const NoTitle = "No title"

// URLTask is one line of input waiting to be fetched.
type URLTask struct {
	URL string
	// Seq is the 1-based input line number.
	Seq int64
}

// HTMLContent is the payload extracted from an HTML document.
type HTMLContent struct {
	Title string `json:"title"`
}

// Outcome is the tagged result of one fetch attempt.
type Outcome struct {
	Status     Status
	URL        string
	Kind       Kind
	Payload    any
	Reason     string
	StatusCode int
	Duration   time.Duration
}

// Success builds a successful outcome carrying payload.
func Success(url string, kind Kind, payload any) Outcome {
	return Outcome{Status: StatusSuccess, URL: url, Kind: kind, Payload: payload}
}

// Skipped builds an outcome for a response that was fetched but is not recorded.
func Skipped(url, reason string) Outcome {
	return Outcome{Status: StatusSkipped, URL: url, Reason: reason}
}

// Failed builds an outcome for a fetch that errored.
func Failed(url string, err error) Outcome {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Outcome{Status: StatusFailed, URL: url, Reason: reason}
}

// Content is the typed body of a Record.
type Content struct {
	Type    Kind `json:"type"`
	Content any  `json:"content"`
}

// Record is the unit persisted to the output stream, one per line.
type Record struct {
	URL     string  `json:"url"`
	Content Content `json:"content"`
}

// Record converts a successful outcome into its persisted form.
func (o Outcome) Record() (Record, error) {
	if o.Status != StatusSuccess {
		return Record{}, fmt.Errorf("outcome for %q is %s, not success", o.URL, o.Status)
	}
	switch o.Kind {
	case KindJSON, KindHTML:
	default:
		return Record{}, fmt.Errorf("unknown content kind %q", o.Kind)
	}
	return Record{
		URL: o.URL,
		Content: Content{
			Type:    o.Kind,
			Content: o.Payload,
		},
	}, nil
}
