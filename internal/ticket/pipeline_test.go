package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"

	"ticketbridge.local/projects/bridge/internal/attach"
	"ticketbridge.local/projects/bridge/internal/store"
)

type fakeLinks struct {
	cfg   store.LinkConfig
	err   error
	calls int
}

func (f *fakeLinks) GetLinkConfig(context.Context, string) (store.LinkConfig, error) {
	f.calls++
	return f.cfg, f.err
}

type fakeCredentials struct {
	cred  store.Credential
	err   error
	calls int
}

func (f *fakeCredentials) GetCredential(context.Context, string) (store.Credential, error) {
	f.calls++
	return f.cred, f.err
}

type fakeItems struct {
	itemID string
	err    error

	calls   int
	token   string
	boardID string
	name    string
	columns map[string]any
}

func (f *fakeItems) CreateItem(_ context.Context, token, boardID, itemName string, columnValues map[string]any) (string, error) {
	f.calls++
	f.token = token
	f.boardID = boardID
	f.name = itemName
	f.columns = columnValues
	if f.err != nil {
		return "", f.err
	}
	return f.itemID, nil
}

type fakeAttacher struct {
	jobs []attach.Job
}

func (f *fakeAttacher) Enqueue(job attach.Job) { f.jobs = append(f.jobs, job) }

func testLink() store.LinkConfig {
	return store.LinkConfig{
		TargetConfig: store.TargetConfig{
			BoardID:        "board_9",
			BoardName:      "Support",
			OwnerAccountID: "acct_1",
		},
		ColumnMapping: store.ColumnMapping{
			Description:     "text_col",
			Video:           "file_col",
			RequesterName:   "name_col",
			AccountName:     "acct_col",
			SourceBoardName: "link_col",
			UserEmail:       "email_col",
			Status:          &store.StatusMapping{ColumnID: "status_col", DefaultValue: "2"},
		},
		Metadata: store.LinkMetadata{Version: 2},
	}
}

func newTestPipeline(links *fakeLinks, creds *fakeCredentials, items *fakeItems, attacher *fakeAttacher) *Pipeline {
	return NewPipeline(log.New(io.Discard, "", 0), links, creds, items, attacher)
}

func TestSubmitCreatesItemAndQueuesAttach(t *testing.T) {
	links := &fakeLinks{cfg: testLink()}
	creds := &fakeCredentials{cred: store.Credential{AccessToken: "tok", AccountID: "acct_1"}}
	items := &fakeItems{itemID: "item_42"}
	attacher := &fakeAttacher{}
	p := newTestPipeline(links, creds, items, attacher)

	md, _ := json.Marshal(map[string]string{
		"requesterName":   "Dana",
		"accountName":     "Acme",
		"userEmail":       "dana@acme.test",
		"sourceBoardName": "CRM",
		"sourceBoardUrl":  "https://acme.test/boards/7",
	})
	res, err := p.Submit(context.Background(), Submission{
		LinkCode:    "ABC123",
		Description: "player crashes on load",
		Metadata:    md,
		VideoPath:   "/tmp/rec-1.webm",
		VideoName:   "rec-1.webm",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.ItemID != "item_42" {
		t.Fatalf("unexpected item id %q", res.ItemID)
	}

	if items.name != "Dana - Acme" {
		t.Fatalf("unexpected item name %q", items.name)
	}
	if items.boardID != "board_9" || items.token != "tok" {
		t.Fatalf("unexpected create target: board=%q token=%q", items.boardID, items.token)
	}
	if got := items.columns["text_col"]; got != "player crashes on load" {
		t.Fatalf("unexpected description column: %v", got)
	}
	link, ok := items.columns["link_col"].(map[string]any)
	if !ok || link["url"] != "https://acme.test/boards/7" || link["text"] != "CRM" {
		t.Fatalf("unexpected link column: %v", items.columns["link_col"])
	}
	email, ok := items.columns["email_col"].(map[string]any)
	if !ok || email["email"] != "dana@acme.test" || email["text"] != "dana@acme.test" {
		t.Fatalf("unexpected email column: %v", items.columns["email_col"])
	}
	status, ok := items.columns["status_col"].(map[string]any)
	if !ok || status["index"] != 2 {
		t.Fatalf("unexpected status column: %v", items.columns["status_col"])
	}
	if _, present := items.columns["file_col"]; present {
		t.Fatalf("video file column must not appear in the create payload")
	}

	if len(attacher.jobs) != 1 {
		t.Fatalf("expected one attach job, got %d", len(attacher.jobs))
	}
	job := attacher.jobs[0]
	if job.ItemID != "item_42" || job.ColumnID != "file_col" || job.FilePath != "/tmp/rec-1.webm" {
		t.Fatalf("unexpected attach job: %+v", job)
	}
}

func TestSubmitWithoutVideoSkipsAttach(t *testing.T) {
	links := &fakeLinks{cfg: testLink()}
	creds := &fakeCredentials{cred: store.Credential{AccessToken: "tok", AccountID: "acct_1"}}
	items := &fakeItems{itemID: "item_1"}
	attacher := &fakeAttacher{}
	p := newTestPipeline(links, creds, items, attacher)

	res, err := p.Submit(context.Background(), Submission{LinkCode: "ABC123", Description: "text only"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.ItemID != "item_1" {
		t.Fatalf("unexpected item id %q", res.ItemID)
	}
	if len(attacher.jobs) != 0 {
		t.Fatalf("expected no attach jobs, got %d", len(attacher.jobs))
	}
}

func TestSubmitRejectsEmptySubmissionBeforeLookups(t *testing.T) {
	links := &fakeLinks{cfg: testLink()}
	creds := &fakeCredentials{}
	items := &fakeItems{}
	p := newTestPipeline(links, creds, items, &fakeAttacher{})

	_, err := p.Submit(context.Background(), Submission{LinkCode: "ABC123"})
	if !errors.Is(err, ErrMissingContent) {
		t.Fatalf("expected ErrMissingContent, got %v", err)
	}
	if links.calls != 0 || creds.calls != 0 || items.calls != 0 {
		t.Fatalf("validation must run before any lookup: links=%d creds=%d items=%d", links.calls, creds.calls, items.calls)
	}
}

func TestSubmitRejectsMissingAndMalformedLinkCode(t *testing.T) {
	links := &fakeLinks{cfg: testLink()}
	p := newTestPipeline(links, &fakeCredentials{}, &fakeItems{}, &fakeAttacher{})

	_, err := p.Submit(context.Background(), Submission{Description: "x"})
	if !errors.Is(err, ErrMissingLinkCode) {
		t.Fatalf("expected ErrMissingLinkCode, got %v", err)
	}

	_, err = p.Submit(context.Background(), Submission{LinkCode: "abc123", Description: "x"})
	if !errors.Is(err, ErrInvalidLinkCode) {
		t.Fatalf("expected ErrInvalidLinkCode for lowercase code, got %v", err)
	}
	if links.calls != 0 {
		t.Fatalf("malformed codes must not reach the link store")
	}
}

func TestSubmitUnknownLinkTouchesNothingElse(t *testing.T) {
	links := &fakeLinks{err: store.ErrLinkNotFound}
	creds := &fakeCredentials{}
	items := &fakeItems{}
	p := newTestPipeline(links, creds, items, &fakeAttacher{})

	_, err := p.Submit(context.Background(), Submission{LinkCode: "ABC123", Description: "x"})
	if !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
	if creds.calls != 0 || items.calls != 0 {
		t.Fatalf("unknown link must not reach credentials or the item store")
	}
}

func TestSubmitRevokedCredentialFailsClosed(t *testing.T) {
	links := &fakeLinks{cfg: testLink()}
	creds := &fakeCredentials{err: store.ErrCredentialNotFound}
	items := &fakeItems{}
	p := newTestPipeline(links, creds, items, &fakeAttacher{})

	_, err := p.Submit(context.Background(), Submission{LinkCode: "ABC123", Description: "x"})
	if !errors.Is(err, ErrOwnerDisconnected) {
		t.Fatalf("expected ErrOwnerDisconnected, got %v", err)
	}
	if items.calls != 0 {
		t.Fatalf("revoked credential must not reach the item store")
	}
}

func TestSubmitCreateItemFailureIsFatal(t *testing.T) {
	links := &fakeLinks{cfg: testLink()}
	creds := &fakeCredentials{cred: store.Credential{AccessToken: "tok"}}
	items := &fakeItems{err: errors.New("item-store error: boom")}
	attacher := &fakeAttacher{}
	p := newTestPipeline(links, creds, items, attacher)

	_, err := p.Submit(context.Background(), Submission{LinkCode: "ABC123", Description: "x", VideoPath: "/tmp/rec.webm"})
	if err == nil {
		t.Fatalf("expected error when item create fails")
	}
	if len(attacher.jobs) != 0 {
		t.Fatalf("attach must not run when the item was never created")
	}
}

func TestItemNameFallbacks(t *testing.T) {
	cases := []struct {
		name string
		md   Metadata
		want string
	}{
		{"full", Metadata{RequesterName: "Dana", AccountName: "Acme"}, "Dana - Acme"},
		{"user name fallback", Metadata{UserName: "dana.k", AccountName: "Acme"}, "dana.k - Acme"},
		{"empty metadata", Metadata{}, "user - unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildItemName(tc.md); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildColumnsSkipsPartialValues(t *testing.T) {
	mapping := testLink().ColumnMapping
	mapping.Status = &store.StatusMapping{ColumnID: "status_col", DefaultValue: "Open"}

	// Source-board link without a URL is dropped rather than half-filled.
	got := buildColumns(mapping, "", Metadata{SourceBoardName: "CRM"})
	if _, present := got["link_col"]; present {
		t.Fatalf("link column requires both url and text: %v", got)
	}
	if _, present := got["text_col"]; present {
		t.Fatalf("empty description must not be written: %v", got)
	}

	status, ok := got["status_col"].(map[string]any)
	if !ok || status["label"] != "Open" {
		t.Fatalf("non-numeric status default must encode as label: %v", got["status_col"])
	}
}

func TestParseMetadataShapes(t *testing.T) {
	md, err := ParseMetadata(nil)
	if err != nil || md != (Metadata{}) {
		t.Fatalf("empty metadata: %+v %v", md, err)
	}

	md, err = ParseMetadata(json.RawMessage(`{"requesterName":"Dana"}`))
	if err != nil || md.RequesterName != "Dana" {
		t.Fatalf("object metadata: %+v %v", md, err)
	}

	// Some clients double-encode the metadata field.
	md, err = ParseMetadata(json.RawMessage(`"{\"accountName\":\"Acme\"}"`))
	if err != nil || md.AccountName != "Acme" {
		t.Fatalf("double-encoded metadata: %+v %v", md, err)
	}

	if _, err := ParseMetadata(json.RawMessage(`{broken`)); err == nil {
		t.Fatalf("expected error for malformed metadata")
	}
}
