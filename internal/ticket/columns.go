package ticket

import (
	"encoding/json"
	"regexp"
	"strconv"

	"ticketbridge.local/projects/bridge/internal/store"
)

// Metadata is the requester-side context captured by the embedded client
// and forwarded verbatim with the submission.
type Metadata struct {
	RequesterName   string `json:"requesterName"`
	UserName        string `json:"userName"`
	AccountName     string `json:"accountName"`
	SourceBoardName string `json:"sourceBoardName"`
	SourceBoardURL  string `json:"sourceBoardUrl"`
	UserEmail       string `json:"userEmail"`
}

// ParseMetadata decodes submission metadata. Empty input yields the zero
// value; a double-encoded JSON string is unwrapped once before decoding.
func ParseMetadata(raw json.RawMessage) (Metadata, error) {
	var md Metadata
	if len(raw) == 0 {
		return md, nil
	}
	data := []byte(raw)
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err == nil {
			data = []byte(inner)
		}
	}
	if len(data) == 0 || string(data) == "null" {
		return md, nil
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

// columnValue is a closed set of item-store column payload shapes.
type columnValue interface {
	encode() any
}

type textValue string

func (v textValue) encode() any { return string(v) }

type linkValue struct {
	URL  string
	Text string
}

func (v linkValue) encode() any {
	return map[string]any{"url": v.URL, "text": v.Text}
}

type emailValue struct {
	Email string
	Text  string
}

func (v emailValue) encode() any {
	return map[string]any{"email": v.Email, "text": v.Text}
}

type statusIndexValue int

func (v statusIndexValue) encode() any {
	return map[string]any{"index": int(v)}
}

type statusLabelValue string

func (v statusLabelValue) encode() any {
	return map[string]any{"label": string(v)}
}

var numericRe = regexp.MustCompile(`^[0-9]+$`)

func statusValue(defaultValue string) columnValue {
	if numericRe.MatchString(defaultValue) {
		n, _ := strconv.Atoi(defaultValue)
		return statusIndexValue(n)
	}
	return statusLabelValue(defaultValue)
}

// buildColumns maps a submission onto the configured board columns. Columns
// without a configured id are skipped; the link column is only populated when
// both the URL and its display text are present. The video column is a file
// column filled by the attach queue after the item exists, never here.
func buildColumns(mapping store.ColumnMapping, description string, md Metadata) map[string]any {
	values := map[string]columnValue{}

	if mapping.Description != "" && description != "" {
		values[mapping.Description] = textValue(description)
	}
	if mapping.RequesterName != "" && md.RequesterName != "" {
		values[mapping.RequesterName] = textValue(md.RequesterName)
	}
	if mapping.AccountName != "" && md.AccountName != "" {
		values[mapping.AccountName] = textValue(md.AccountName)
	}
	if mapping.SourceBoardName != "" && md.SourceBoardName != "" && md.SourceBoardURL != "" {
		values[mapping.SourceBoardName] = linkValue{URL: md.SourceBoardURL, Text: md.SourceBoardName}
	}
	if mapping.UserEmail != "" && md.UserEmail != "" {
		values[mapping.UserEmail] = emailValue{Email: md.UserEmail, Text: md.UserEmail}
	}
	if mapping.Status != nil && mapping.Status.ColumnID != "" && mapping.Status.DefaultValue != "" {
		values[mapping.Status.ColumnID] = statusValue(mapping.Status.DefaultValue)
	}

	out := make(map[string]any, len(values))
	for id, v := range values {
		out[id] = v.encode()
	}
	return out
}
