package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"ticketbridge.local/projects/bridge/internal/attach"
	"ticketbridge.local/projects/bridge/internal/ids"
	"ticketbridge.local/projects/bridge/internal/store"
)

var (
	// ErrMissingContent is returned when a submission carries neither a
	// recording nor a description.
	ErrMissingContent = errors.New("record a video or describe the problem")

	// ErrMissingLinkCode is returned when the submission names no link code.
	ErrMissingLinkCode = errors.New("missing required field: linkCode")

	// ErrInvalidLinkCode is returned for a malformed link code.
	ErrInvalidLinkCode = errors.New("invalid link code")

	// ErrLinkNotFound is returned when the link code resolves to nothing.
	ErrLinkNotFound = errors.New("target code no longer exists")

	// ErrOwnerDisconnected is returned when the link exists but its owner's
	// credential has been revoked.
	ErrOwnerDisconnected = errors.New("admin disconnected the connection")
)

// LinkStore resolves link codes to their durable configuration.
type LinkStore interface {
	GetLinkConfig(ctx context.Context, code string) (store.LinkConfig, error)
}

// CredentialStore resolves account ids to stored admin credentials.
type CredentialStore interface {
	GetCredential(ctx context.Context, accountID string) (store.Credential, error)
}

// ItemClient creates items in the external item store.
type ItemClient interface {
	CreateItem(ctx context.Context, token, boardID, itemName string, columnValues map[string]any) (string, error)
}

// Attacher accepts best-effort background file-attach jobs.
type Attacher interface {
	Enqueue(job attach.Job)
}

// Submission is one ticket submission, either direct or hand-off flavoured.
type Submission struct {
	LinkCode    string
	Description string
	Metadata    json.RawMessage

	// VideoPath and VideoName point at a staged recording on local disk.
	// Empty means a text-only submission.
	VideoPath string
	VideoName string
}

// Result reports a successful submission.
type Result struct {
	ItemID  string
	Message string
}

// Pipeline turns submissions into items on the link owner's board: a
// synchronous item create followed by an asynchronous, best-effort video
// attach.
type Pipeline struct {
	logger      *log.Logger
	links       LinkStore
	credentials CredentialStore
	items       ItemClient
	attacher    Attacher
}

func NewPipeline(logger *log.Logger, links LinkStore, credentials CredentialStore, items ItemClient, attacher Attacher) *Pipeline {
	return &Pipeline{
		logger:      logger,
		links:       links,
		credentials: credentials,
		items:       items,
		attacher:    attacher,
	}
}

// Submit validates the submission, creates the item, and schedules the video
// attach. Validation runs before any store lookup so malformed requests never
// touch storage. The returned Result is final for the caller: attach failures
// after this point are logged, not surfaced.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (Result, error) {
	if sub.Description == "" && sub.VideoPath == "" {
		return Result{}, ErrMissingContent
	}
	if sub.LinkCode == "" {
		return Result{}, ErrMissingLinkCode
	}
	if !ids.ValidLinkCode(sub.LinkCode) {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidLinkCode, sub.LinkCode)
	}

	link, err := p.links.GetLinkConfig(ctx, sub.LinkCode)
	if err != nil {
		if errors.Is(err, store.ErrLinkNotFound) {
			return Result{}, ErrLinkNotFound
		}
		return Result{}, fmt.Errorf("resolve link %s: %w", sub.LinkCode, err)
	}

	cred, err := p.credentials.GetCredential(ctx, link.TargetConfig.OwnerAccountID)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return Result{}, ErrOwnerDisconnected
		}
		return Result{}, fmt.Errorf("resolve credential for account %s: %w", link.TargetConfig.OwnerAccountID, err)
	}

	md, err := ParseMetadata(sub.Metadata)
	if err != nil {
		p.logger.Printf("[WARN] ticket: discarding unparseable metadata for link %s: %v", sub.LinkCode, err)
		md = Metadata{}
	}

	itemName := buildItemName(md)
	columns := buildColumns(link.ColumnMapping, sub.Description, md)

	itemID, err := p.items.CreateItem(ctx, cred.AccessToken, link.TargetConfig.BoardID, itemName, columns)
	if err != nil {
		return Result{}, fmt.Errorf("create item on board %s: %w", link.TargetConfig.BoardID, err)
	}
	p.logger.Printf("[INFO] ticket: created item %s on board %s for link %s", itemID, link.TargetConfig.BoardID, sub.LinkCode)

	if sub.VideoPath != "" && link.ColumnMapping.Video != "" {
		p.attacher.Enqueue(attach.Job{
			Token:    cred.AccessToken,
			ItemID:   itemID,
			ColumnID: link.ColumnMapping.Video,
			FilePath: sub.VideoPath,
			FileName: sub.VideoName,
		})
	} else if sub.VideoPath != "" {
		p.logger.Printf("[WARN] ticket: link %s has no video column, recording %s left unattached", sub.LinkCode, sub.VideoName)
	}

	return Result{ItemID: itemID, Message: "ticket submitted successfully"}, nil
}

func buildItemName(md Metadata) string {
	requester := md.RequesterName
	if requester == "" {
		requester = md.UserName
	}
	if requester == "" {
		requester = "user"
	}
	account := md.AccountName
	if account == "" {
		account = "unknown"
	}
	return requester + " - " + account
}

var _ Attacher = (*attach.Queue)(nil)
