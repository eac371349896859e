package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kbase/internal/articles"
	"github.com/hyperjump/kbase/internal/images"
	"github.com/hyperjump/kbase/internal/models"
	"github.com/hyperjump/kbase/internal/storage"
)

const (
	uploadField = "inline_image"
	// filenameHeader names a raw-body upload.
	filenameHeader = "X-Filename"
	// multipartSlack covers boundaries and part headers on top of the image bytes.
	multipartSlack = 1 << 20
)

const (
	msgSaved          = "Article saved successfully!"
	msgInvalidBody    = "Invalid request body."
	msgNotFound       = "Article not found."
	msgNoFile         = "No file uploaded."
	msgTooLarge       = "File too large."
	msgInternal       = "Internal server error."
	msgUploadInternal = "Failed to process the image on the server."
)

type saveResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := articles.Filter{Query: q.Get("q"), Category: q.Get("category")}
	s.logger.Debug("list articles request", zap.String("query", f.Query), zap.String("category", f.Category))
	list, err := s.articles.List(r.Context(), f)
	if err != nil {
		s.logger.Error("list articles failed", zap.Error(err))
		s.respondFailure(w, err, msgInternal)
		return
	}
	if list == nil {
		list = []*models.Article{}
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.articles.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("get article failed", zap.String("id", id), zap.Error(err))
		}
		s.respondFailure(w, err, msgInternal)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.articles.Users(r.Context())
	if err != nil {
		s.logger.Error("list users failed", zap.Error(err))
		s.respondFailure(w, err, msgInternal)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	s.respondJSON(w, http.StatusOK, users)
}

func (s *Server) handleSaveArticle(w http.ResponseWriter, r *http.Request) {
	var in models.ArticleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respondError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	s.logger.Debug("save article request", zap.String("id", in.ID), zap.String("title", in.Title))
	a, created, err := s.articles.Save(r.Context(), &in)
	if err != nil {
		if !errors.Is(err, articles.ErrInvalid) && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("save article failed", zap.String("id", in.ID), zap.Error(err))
		}
		s.respondFailure(w, err, msgInternal)
		return
	}
	s.logger.Info("article saved", zap.String("id", a.ID), zap.Bool("created", created))
	s.respondJSON(w, http.StatusOK, saveResponse{Message: msgSaved, ID: a.ID})
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.images.MaxBytes()+multipartSlack)
	name, body, err := uploadSource(r)
	if err != nil {
		s.respondFailure(w, &images.UploadError{Err: err}, msgUploadInternal)
		return
	}
	defer body.Close()

	img, err := s.images.Upload(r.Context(), name, body)
	if err != nil {
		if !errors.Is(err, images.ErrNoFile) && !errors.Is(err, images.ErrTooLarge) {
			s.logger.Error("image upload failed", zap.String("file", name), zap.Error(err))
		}
		s.respondFailure(w, err, msgUploadInternal)
		return
	}
	s.respondJSON(w, http.StatusOK, img)
}

// uploadSource returns the uploaded file name and bytes from either a multipart
// inline_image field or a raw body named by X-Filename.
func uploadSource(r *http.Request) (string, io.ReadCloser, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Header.Get(filenameHeader), r.Body, nil
	}
	f, hdr, err := r.FormFile(uploadField)
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return "", nil, images.ErrTooLarge
	case errors.Is(err, http.ErrMissingFile):
		return "", nil, images.ErrNoFile
	case err != nil:
		return "", nil, err
	}
	return hdr.Filename, f, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := CollectStatus(r.Context(), s.backend, s.index, s.config)
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondFailure(w, err, msgInternal)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

// respondFailure maps err to a status code and {message} body.
// Anything unrecognized is a 500 carrying fallback, never the internal error text.
func (s *Server) respondFailure(w http.ResponseWriter, err error, fallback string) {
	var verr *articles.ValidationError
	switch {
	case errors.As(err, &verr):
		s.respondError(w, http.StatusBadRequest, strings.TrimSpace(verr.Error()))
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, images.ErrNoFile):
		s.respondError(w, http.StatusBadRequest, msgNoFile)
	case errors.Is(err, images.ErrTooLarge):
		s.respondError(w, http.StatusRequestEntityTooLarge, msgTooLarge)
	default:
		s.respondError(w, http.StatusInternalServerError, fallback)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"message": message})
}
