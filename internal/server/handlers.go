package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/teemow/inboxqa/internal/apperr"
	"github.com/teemow/inboxqa/internal/document"
	"github.com/teemow/inboxqa/internal/gmail"
	"github.com/teemow/inboxqa/internal/logging"
	"github.com/teemow/inboxqa/internal/qa"
	"github.com/teemow/inboxqa/internal/session"
)

const (
	loginFailedPath = "/login-failed"
	uploadField     = "file"

	// multipartOverhead allows for part headers and boundaries on top of
	// the document size limit.
	multipartOverhead = 1 << 20

	maxJSONBody = 1 << 20
)

func (s *Server) handleAuthBegin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.sessions.Begin(), http.StatusFound)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		s.logger.Warn("Sign-in denied by provider", "reason", e)
		http.Redirect(w, r, loginFailedPath, http.StatusFound)
		return
	}

	sess, err := s.sessions.Complete(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		s.logger.Warn("Sign-in failed", logging.Err(err))
		http.Redirect(w, r, loginFailedPath, http.StatusFound)
		return
	}

	s.setSessionCookie(w, sess.ID)
	http.Redirect(w, r, s.origin+"/dashboard", http.StatusFound)
}

func (s *Server) handleLoginFailed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Login failed"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := s.sessionID(r); id != "" {
		if err := s.sessions.End(r.Context(), id); err != nil {
			s.logger.Warn("Failed to end session", logging.Session(id), logging.Err(err))
		}
	}
	s.clearSessionCookie(w)
	http.Redirect(w, r, s.origin, http.StatusFound)
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"email": sessionFrom(r.Context()).Email})
}

type messagesResponse struct {
	Messages []gmail.Message `json:"messages"`
}

func (s *Server) handleEmails(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	msgs, err := s.mail.ListMessages(r.Context(), sess.ID)
	if err != nil {
		s.writeError(w, r, err, gmail.MsgFetchFailed)
		return
	}
	if msgs == nil {
		msgs = []gmail.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
}

type replyRequest struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	ThreadID string `json:"threadId"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.WithRoute(s.logger, routePattern(r)).Debug("Malformed request body", logging.Err(err))
		s.writeError(w, r, apperr.Validation(gmail.MsgMissingFields), gmail.MsgMissingFields)
		return
	}

	sess := sessionFrom(r.Context())
	reply := gmail.Reply{To: req.To, Subject: req.Subject, Body: req.Body, ThreadID: req.ThreadID}
	if err := s.mail.SendReply(r.Context(), sess.ID, reply); err != nil {
		s.writeError(w, r, err, gmail.MsgSendFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type uploadResponse struct {
	Message string `json:"message"`
	document.Result
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.docs.MaxBytes()+multipartOverhead)

	file, closeFn, err := uploadedFile(r)
	if err != nil {
		s.writeError(w, r, err, document.MsgNoFile)
		return
	}
	defer closeFn()

	sess := sessionFrom(r.Context())
	res, err := s.docs.Upload(r.Context(), sess.ID, file)
	if err != nil {
		s.writeError(w, r, err, document.MsgParseFailed)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Message: document.MsgUploaded, Result: res})
}

// uploadedFile streams the multipart body up to the file part. A request
// without one yields a File with a nil Body.
func uploadedFile(r *http.Request) (document.File, func(), error) {
	noop := func() {}

	mr, err := r.MultipartReader()
	if err != nil {
		return document.File{}, noop, nil
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return document.File{}, noop, nil
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return document.File{}, noop, apperr.Validation(document.MsgTooLarge)
			}
			return document.File{}, noop, apperr.Validation(document.MsgNoFile)
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}
		return partFile(part), func() { _ = part.Close() }, nil
	}
}

func partFile(part *multipart.Part) document.File {
	return document.File{
		Name:        part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Body:        part,
	}
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, apperr.Validation(qa.MsgQuestionRequired), qa.MsgQuestionRequired)
		return
	}

	sess := sessionFrom(r.Context())
	answer, err := s.answerer.Ask(r.Context(), sess.ID, req.Question)
	if err != nil {
		s.writeError(w, r, err, qa.MsgAskFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.docs.Clear(sessionFrom(r.Context()).ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": document.MsgCleared})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v)
}

var _ Sessions = (*session.Manager)(nil)
