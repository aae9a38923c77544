// Package httpapi exposes the bridge over HTTP: the recording hand-off
// routes polled by the requester tab and the agent popup, the submission
// routes, scratch-file upload and serving, and link administration.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ticketbridge.local/projects/bridge/internal/ids"
	"ticketbridge.local/projects/bridge/internal/session"
	"ticketbridge.local/projects/bridge/internal/store"
	"ticketbridge.local/projects/bridge/internal/tempstore"
	"ticketbridge.local/projects/bridge/internal/ticket"
)

const (
	maxJSONRequestBytes int64 = 1 << 20

	// linkCodeAttempts bounds collision retries when minting a new code.
	linkCodeAttempts = 10
)

type server struct {
	logger         *log.Logger
	sessions       *session.Registry
	store          *store.Store
	pipeline       *ticket.Pipeline
	temp           *tempstore.Store
	maxUploadBytes int64
}

func NewServer(logger *log.Logger, addr string, sessions *session.Registry, blobStore *store.Store, pipeline *ticket.Pipeline, temp *tempstore.Store, maxUploadBytes int64) *http.Server {
	h := &server{
		logger:         logger,
		sessions:       sessions,
		store:          blobStore,
		pipeline:       pipeline,
		temp:           temp,
		maxUploadBytes: maxUploadBytes,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)

	mux.HandleFunc("POST /api/sessions", h.handleSessionCreate)
	mux.HandleFunc("GET /api/sessions/{id}", h.handleSessionGet)
	mux.HandleFunc("PUT /api/sessions/{id}/status", h.handleSessionStatus)
	mux.HandleFunc("POST /api/sessions/{id}/stop", h.handleSessionStop)
	mux.HandleFunc("POST /api/sessions/{id}/submit", h.handleSessionSubmit)
	mux.HandleFunc("GET /api/sessions/{id}/watch", h.handleSessionWatch)

	mux.HandleFunc("POST /api/tickets", h.handleTicketSubmit)
	mux.HandleFunc("POST /api/upload/temp", h.handleTempUpload)
	mux.HandleFunc("GET /temp/{name}", h.handleTempServe)

	mux.HandleFunc("POST /api/links", h.handleLinkCreate)
	mux.HandleFunc("GET /api/links/{code}", h.handleLinkGet)
	mux.HandleFunc("PUT /api/links/{code}", h.handleLinkUpdate)
	mux.HandleFunc("DELETE /api/links/{code}", h.handleLinkDelete)
	mux.HandleFunc("GET /api/links/{code}/validate", h.handleLinkValidate)

	mux.HandleFunc("POST /api/config/connect", h.handleConfigConnect)
	mux.HandleFunc("GET /api/config/status", h.handleConfigStatus)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type createSessionRequest struct {
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata"`
	LinkCode    string          `json:"linkCode"`
}

func (s *server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	rec, err := s.sessions.Create(req.Description, req.Metadata, req.LinkCode)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, failure(err.Error()))
		return
	}
	s.logger.Printf("session created id=%s link=%s", rec.SessionID, rec.LinkCode)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessionId": rec.SessionID})
}

func (s *server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, failure("Session not found"))
		return
	}
	writeJSON(w, http.StatusOK, sessionView(rec))
}

type updateStatusRequest struct {
	Status   session.Status `json:"status"`
	VideoURL string         `json:"videoUrl"`
}

func (s *server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !session.ValidStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, failure(fmt.Sprintf("unknown status %q", req.Status)))
		return
	}

	rec, err := s.sessions.SetStatus(r.PathValue("id"), req.Status, req.VideoURL)
	if err != nil {
		writeJSON(w, http.StatusNotFound, failure("Session not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": rec.SessionID,
		"status":    rec.Status,
	})
}

func (s *server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.RequestStop(id); err != nil {
		writeJSON(w, http.StatusNotFound, failure("Session not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessionId": id})
}

// handleSessionSubmit turns a finished recording session into a ticket. The
// recording comes either as a multipart file part or, when the agent popup
// already uploaded it, as the session's stored video reference.
func (s *server) handleSessionSubmit(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, failure("Session not found"))
		return
	}
	if rec.LinkCode == "" {
		writeJSON(w, http.StatusBadRequest, failure("Session missing linkCode"))
		return
	}

	form, ok := s.parseMultipart(w, r)
	if !ok {
		return
	}

	sub := ticket.Submission{
		LinkCode: rec.LinkCode,
		Metadata: rec.Metadata,
	}
	// The requester can still edit the description in the preview.
	sub.Description = rec.Description
	if v := form.value("description"); v != "" {
		sub.Description = v
	}

	if form.hasFile {
		saved, err := s.temp.Save(form.fileName, form.file)
		form.close()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, failure(err.Error()))
			return
		}
		sub.VideoPath = saved.Path
		sub.VideoName = form.fileName
	} else if rec.VideoURL != "" {
		path, name, err := s.temp.Resolve(rec.VideoURL)
		if err != nil {
			s.logger.Printf("session %s video %q not on disk: %v", rec.SessionID, rec.VideoURL, err)
		} else {
			sub.VideoPath = path
			sub.VideoName = name
		}
	}

	result, err := s.pipeline.Submit(r.Context(), sub)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	if _, err := s.sessions.SetStatus(rec.SessionID, session.StatusCompleted, ""); err != nil {
		s.logger.Printf("session %s completed but gone from registry: %v", rec.SessionID, err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"itemId":  result.ItemID,
		"message": result.Message,
	})
}

// handleTicketSubmit is the direct, sessionless submission path.
func (s *server) handleTicketSubmit(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseMultipart(w, r)
	if !ok {
		return
	}

	sub := ticket.Submission{
		LinkCode:    form.value("linkCode"),
		Description: form.value("description"),
	}
	if md := form.value("metadata"); md != "" {
		sub.Metadata = json.RawMessage(md)
	}

	if form.hasFile {
		saved, err := s.temp.Save(form.fileName, form.file)
		form.close()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, failure(err.Error()))
			return
		}
		sub.VideoPath = saved.Path
		sub.VideoName = form.fileName
	} else if videoURL := form.value("videoUrl"); videoURL != "" {
		path, name, err := s.temp.Resolve(videoURL)
		if err != nil {
			s.logger.Printf("ticket video %q not on disk: %v", videoURL, err)
		} else {
			sub.VideoPath = path
			sub.VideoName = name
		}
	}

	result, err := s.pipeline.Submit(r.Context(), sub)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"itemId":  result.ItemID,
		"message": result.Message,
	})
}

func (s *server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ticket.ErrMissingContent),
		errors.Is(err, ticket.ErrMissingLinkCode),
		errors.Is(err, ticket.ErrInvalidLinkCode):
		writeJSON(w, http.StatusBadRequest, failure(err.Error()))
	case errors.Is(err, ticket.ErrLinkNotFound):
		writeJSON(w, http.StatusNotFound, failure(ticket.ErrLinkNotFound.Error()))
	case errors.Is(err, ticket.ErrOwnerDisconnected):
		writeJSON(w, http.StatusInternalServerError, failure(ticket.ErrOwnerDisconnected.Error()))
	default:
		s.logger.Printf("ticket submit failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, failure("failed to submit ticket"))
	}
}

func (s *server) handleTempUpload(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseMultipart(w, r)
	if !ok {
		return
	}
	if !form.hasFile {
		writeJSON(w, http.StatusBadRequest, failure("No file uploaded"))
		return
	}

	saved, err := s.temp.Save(form.fileName, form.file)
	form.close()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, failure(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"url":       saved.URL,
		"filename":  saved.Name,
		"sessionId": r.URL.Query().Get("sessionId"),
	})
}

func (s *server) handleTempServe(w http.ResponseWriter, r *http.Request) {
	path, _, err := s.temp.Resolve(r.PathValue("name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *server) handleSessionWatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.sessions.Get(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	updates, release, err := s.sessions.Watch(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		release()
		s.logger.Printf("session watch upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	defer release()

	// Detect the peer going away; the read side carries no data.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(sessionView(rec)); err != nil {
		return
	}
	for {
		select {
		case snapshot, open := <-updates:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session evicted"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(sessionView(snapshot)); err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}

type linkRequestBody struct {
	BoardID             string                     `json:"boardId"`
	BoardName           string                     `json:"boardName"`
	AdminAccountID      string                     `json:"adminAccountId"`
	ColumnMapping       *store.ColumnMapping       `json:"columnMapping"`
	FormTitle           *string                    `json:"formTitle"`
	FormDescription     *string                    `json:"formDescription"`
	NewRequestIndicator *store.NewRequestIndicator `json:"newRequestIndicator"`
}

func (s *server) handleLinkCreate(w http.ResponseWriter, r *http.Request) {
	var req linkRequestBody
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.BoardID == "" || req.BoardName == "" {
		writeJSON(w, http.StatusBadRequest, failure("boardId and boardName are required"))
		return
	}
	if req.ColumnMapping == nil || req.ColumnMapping.Description == "" || req.ColumnMapping.Video == "" {
		writeJSON(w, http.StatusBadRequest, failure("columnMapping.description and columnMapping.video are required"))
		return
	}
	if req.AdminAccountID == "" {
		writeJSON(w, http.StatusBadRequest, failure("adminAccountId is required"))
		return
	}

	code, err := s.mintLinkCode(r)
	if err != nil {
		s.logger.Printf("link code generation failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, failure("failed to create link"))
		return
	}

	cfg := store.LinkConfig{
		TargetConfig: store.TargetConfig{
			BoardID:        req.BoardID,
			BoardName:      req.BoardName,
			OwnerAccountID: req.AdminAccountID,
		},
		ColumnMapping:       *req.ColumnMapping,
		NewRequestIndicator: req.NewRequestIndicator,
		Metadata: store.LinkMetadata{
			CreatedAt:       time.Now().UnixMilli(),
			CreatedByUserID: req.AdminAccountID,
			Version:         1,
		},
	}
	if req.FormTitle != nil || req.FormDescription != nil {
		cfg.FormConfig = &store.FormConfig{}
		if req.FormTitle != nil {
			cfg.FormConfig.Title = *req.FormTitle
		}
		if req.FormDescription != nil {
			cfg.FormConfig.Description = *req.FormDescription
		}
	}

	if err := s.store.SetLinkConfig(r.Context(), code, cfg); err != nil {
		s.logger.Printf("save link %s failed: %v", code, err)
		writeJSON(w, http.StatusInternalServerError, failure("failed to create link"))
		return
	}
	s.logger.Printf("link created code=%s board=%s owner=%s", code, req.BoardID, req.AdminAccountID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "linkCode": code})
}

// mintLinkCode generates a code not already taken, giving up after a fixed
// number of collisions.
func (s *server) mintLinkCode(r *http.Request) (string, error) {
	for attempt := 0; attempt < linkCodeAttempts; attempt++ {
		code := ids.NewLinkCode()
		_, err := s.store.GetLinkConfig(r.Context(), code)
		if errors.Is(err, store.ErrLinkNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no unique link code after %d attempts", linkCodeAttempts)
}

func (s *server) handleLinkGet(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !ids.ValidLinkCode(code) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid link code format"})
		return
	}
	cfg, err := s.store.GetLinkConfig(r.Context(), code)
	if err != nil {
		if errors.Is(err, store.ErrLinkNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Link not found"})
			return
		}
		s.logger.Printf("get link %s failed: %v", code, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to get link"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"link": cfg})
}

// handleLinkUpdate applies a partial update: absent fields keep their stored
// values, the owner never changes, and every write bumps metadata.version.
func (s *server) handleLinkUpdate(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !ids.ValidLinkCode(code) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid link code format"})
		return
	}
	var req linkRequestBody
	if !s.decodeJSON(w, r, &req) {
		return
	}

	cfg, err := s.store.GetLinkConfig(r.Context(), code)
	if err != nil {
		if errors.Is(err, store.ErrLinkNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Link not found"})
			return
		}
		s.logger.Printf("get link %s failed: %v", code, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to update link"})
		return
	}

	if req.BoardID != "" {
		cfg.TargetConfig.BoardID = req.BoardID
	}
	if req.BoardName != "" {
		cfg.TargetConfig.BoardName = req.BoardName
	}
	if req.ColumnMapping != nil {
		cfg.ColumnMapping = *req.ColumnMapping
	}
	if req.FormTitle != nil || req.FormDescription != nil {
		if cfg.FormConfig == nil {
			cfg.FormConfig = &store.FormConfig{}
		}
		if req.FormTitle != nil {
			cfg.FormConfig.Title = *req.FormTitle
		}
		if req.FormDescription != nil {
			cfg.FormConfig.Description = *req.FormDescription
		}
	}
	if req.NewRequestIndicator != nil {
		cfg.NewRequestIndicator = req.NewRequestIndicator
	}
	cfg.Metadata.Version++

	if err := s.store.SetLinkConfig(r.Context(), code, cfg); err != nil {
		s.logger.Printf("update link %s failed: %v", code, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to update link"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *server) handleLinkDelete(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !ids.ValidLinkCode(code) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid link code format"})
		return
	}
	if err := s.store.DeleteLinkConfig(r.Context(), code); err != nil {
		if errors.Is(err, store.ErrLinkNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Link not found"})
			return
		}
		s.logger.Printf("delete link %s failed: %v", code, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to delete link"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleLinkValidate is polled by embedded clients, so responses must never
// be cached: a deleted link has to turn invalid on the next poll.
func (s *server) handleLinkValidate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	code := r.PathValue("code")
	if !ids.ValidLinkCode(code) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"valid": false})
		return
	}

	cfg, err := s.store.GetLinkConfig(r.Context(), code)
	if err != nil {
		if !errors.Is(err, store.ErrLinkNotFound) {
			s.logger.Printf("validate link %s failed: %v", code, err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":     true,
		"adminName": s.adminNameFor(r, cfg.TargetConfig.OwnerAccountID),
	})
}

func (s *server) adminNameFor(r *http.Request, accountID string) string {
	cred, err := s.store.GetCredential(r.Context(), accountID)
	if err != nil {
		return "Admin"
	}
	if cred.UserName != "" {
		return cred.UserName
	}
	if cred.AccountName != "" {
		return cred.AccountName
	}
	return "Admin"
}

type connectRequest struct {
	LinkCode   string `json:"linkCode"`
	InstanceID string `json:"instanceId"`
}

func (s *server) handleConfigConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.LinkCode == "" || req.InstanceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Missing required fields: linkCode, instanceId",
		})
		return
	}
	if !ids.ValidLinkCode(req.LinkCode) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Invalid link code format",
		})
		return
	}

	adminName := "Admin"
	if cfg, err := s.store.GetLinkConfig(r.Context(), req.LinkCode); err == nil {
		adminName = s.adminNameFor(r, cfg.TargetConfig.OwnerAccountID)
	}
	s.logger.Printf("client connected link=%s instance=%s", req.LinkCode, req.InstanceID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "adminName": adminName})
}

func (s *server) handleConfigStatus(w http.ResponseWriter, _ *http.Request) {
	// Connection state lives in the embedded client, not here.
	writeJSON(w, http.StatusOK, map[string]any{"connected": false})
}

func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONRequestBytes))
	if err := dec.Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, failure(fmt.Sprintf("invalid json: %v", err)))
		return false
	}
	if dec.More() {
		writeJSON(w, http.StatusBadRequest, failure("invalid json: trailing content"))
		return false
	}
	return true
}

type multipartForm struct {
	r        *http.Request
	hasFile  bool
	file     io.ReadCloser
	fileName string
}

func (f *multipartForm) value(key string) string {
	return strings.TrimSpace(f.r.FormValue(key))
}

func (f *multipartForm) close() {
	if f.file != nil {
		_ = f.file.Close()
		f.file = nil
	}
}

// parseMultipart reads a multipart request holding an optional "file" part
// plus text fields. The whole request is capped at the configured upload
// limit.
func (s *server) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipartForm, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusBadRequest, failure(fmt.Sprintf("File too large. Maximum size is %dMB", s.maxUploadBytes>>20)))
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, failure(fmt.Sprintf("invalid multipart request: %v", err)))
		return nil, false
	}

	form := &multipartForm{r: r}
	file, header, err := r.FormFile("file")
	if err == nil {
		form.hasFile = true
		form.file = file
		form.fileName = header.Filename
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeJSON(w, http.StatusBadRequest, failure(fmt.Sprintf("invalid file part: %v", err)))
		return nil, false
	}
	return form, true
}

func sessionView(rec session.Record) map[string]any {
	view := map[string]any{
		"success":       true,
		"sessionId":     rec.SessionID,
		"status":        rec.Status,
		"createdAt":     rec.CreatedAt.UnixMilli(),
		"stopRequested": rec.StopRequested,
	}
	if rec.VideoURL != "" {
		view["videoUrl"] = rec.VideoURL
	}
	if !rec.CompletedAt.IsZero() {
		view["completedAt"] = rec.CompletedAt.UnixMilli()
	}
	return view
}

func failure(message string) map[string]any {
	return map[string]any{"success": false, "message": message}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}
