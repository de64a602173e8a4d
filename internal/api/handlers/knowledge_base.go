package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/cloo-solutions/kbask/internal/api"
	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/cloo-solutions/kbask/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// multipartMemory is how much of an upload is kept in memory before spilling to disk.
const multipartMemory = 32 << 20

type KnowledgeBaseService interface {
	Upload(ctx context.Context, input service.UploadInput) (*domain.UploadResult, error)
	List(ctx context.Context) ([]domain.KnowledgeBase, error)
	Get(ctx context.Context, id int64) (*domain.KnowledgeBase, error)
	Delete(ctx context.Context, id int64) error
	Query(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error)
}

type KnowledgeBaseHandler struct {
	svc      KnowledgeBaseService
	validate *validator.Validate
}

func NewKnowledgeBaseHandler(svc KnowledgeBaseService) *KnowledgeBaseHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &KnowledgeBaseHandler{svc: svc, validate: v}
}

func (h *KnowledgeBaseHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.HandleError(w, domain.ErrFileTooLarge)
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		api.HandleError(w, domain.ErrFileRequired)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	result, err := h.svc.Upload(r.Context(), service.UploadInput{
		Filename: header.Filename,
		Data:     data,
		Name:     r.FormValue("name"),
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, result)
}

func (h *KnowledgeBaseHandler) List(w http.ResponseWriter, r *http.Request) {
	kbs, err := h.svc.List(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if kbs == nil {
		kbs = []domain.KnowledgeBase{}
	}
	api.Success(w, kbs)
}

func (h *KnowledgeBaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := knowledgeBaseID(w, r)
	if !ok {
		return
	}

	kb, err := h.svc.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, kb)
}

func (h *KnowledgeBaseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := knowledgeBaseID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, nil)
}

func (h *KnowledgeBaseHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req domain.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.Error(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	resp, err := h.svc.Query(r.Context(), req)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, resp)
}

func knowledgeBaseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		api.Error(w, http.StatusBadRequest, "invalid knowledge base id")
		return 0, false
	}
	return id, true
}

// validationMessage reports the first failed field in the wording the service uses.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}

	fe := verrs[0]
	switch {
	case fe.Field() == "question":
		return domain.ErrEmptyQuestion.Message
	case fe.Tag() == "gt":
		return "knowledge base ids must be positive"
	case strings.HasPrefix(fe.Field(), "knowledgeBaseIds"):
		return domain.ErrNoKnowledgeBases.Message
	default:
		return fe.Field() + " is invalid"
	}
}
