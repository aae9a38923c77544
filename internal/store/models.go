package store

// Credential is the opaque bearer credential for one tenant's admin
// account, stored under token_{accountId}. Absence means the owner
// disconnected and the link cannot receive tickets until reauthorized.
type Credential struct {
	AccessToken string `json:"accessToken"`
	AccountID   string `json:"accountId"`
	AccountName string `json:"accountName,omitempty"`
	UserName    string `json:"userName,omitempty"`
	UserEmail   string `json:"userEmail,omitempty"`
}

// LinkConfig is the durable record behind one shareable link code, stored
// under link_{linkCode}.
type LinkConfig struct {
	TargetConfig        TargetConfig         `json:"targetConfig"`
	ColumnMapping       ColumnMapping        `json:"columnMapping"`
	FormConfig          *FormConfig          `json:"formConfig,omitempty"`
	NewRequestIndicator *NewRequestIndicator `json:"newRequestIndicator,omitempty"`
	Metadata            LinkMetadata         `json:"metadata"`
}

type TargetConfig struct {
	BoardID        string `json:"boardId"`
	BoardName      string `json:"boardName"`
	OwnerAccountID string `json:"ownerAccountId"`
}

// ColumnMapping maps logical ticket fields to remote column ids. Unmapped
// fields are omitted from the item payload. Description and Video are
// required at link creation; everything else is optional.
type ColumnMapping struct {
	Description     string         `json:"description,omitempty"`
	Video           string         `json:"video,omitempty"`
	RequesterName   string         `json:"requesterName,omitempty"`
	AccountName     string         `json:"accountName,omitempty"`
	SourceBoardName string         `json:"sourceBoardName,omitempty"`
	UserEmail       string         `json:"userEmail,omitempty"`
	Status          *StatusMapping `json:"status,omitempty"`
}

type StatusMapping struct {
	ColumnID     string `json:"columnId"`
	DefaultValue string `json:"defaultValue"`
}

type FormConfig struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewRequestIndicator is admin-dashboard configuration carried through
// unchanged; the submission pipeline never reads it.
type NewRequestIndicator struct {
	Enabled           bool   `json:"enabled"`
	StatusColumnID    string `json:"statusColumnId"`
	TargetStatusIndex int    `json:"targetStatusIndex"`
	TargetStatusLabel string `json:"targetStatusLabel"`
}

type LinkMetadata struct {
	CreatedAt       int64  `json:"createdAt"` // unix milliseconds
	CreatedByUserID string `json:"createdByUserId"`
	Version         int    `json:"version"`
}
