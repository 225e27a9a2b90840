package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/kova98/changealert.api/data"
	"github.com/kova98/changealert.api/models"
)

const (
	minKeywordLength = 2
	maxKeywordLength = 100
)

type KeywordRepo interface {
	GetKeywords(ctx context.Context) ([]data.Keyword, error)
	GetKeywordByID(ctx context.Context, id int) (*data.Keyword, error)
	CreateKeyword(ctx context.Context, keyword data.Keyword) (int, error)
	UpdateKeyword(ctx context.Context, keyword data.Keyword) (bool, error)
	DeleteKeyword(ctx context.Context, id int) error
}

type KeywordHandler struct {
	repo KeywordRepo
}

func NewKeywordHandler(repo KeywordRepo) *KeywordHandler {
	return &KeywordHandler{repo}
}

func (h *KeywordHandler) CreateKeyword(w http.ResponseWriter, r *http.Request) Result {
	var req models.CreateKeywordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return BadRequest("Invalid request.")
	}

	keyword, msg := validateKeyword(req.Keyword, req.Category)
	if msg != "" {
		return BadRequest(msg)
	}

	id, err := h.repo.CreateKeyword(r.Context(), keyword)
	if err != nil {
		return InternalError(err, "create keyword: ")
	}

	return Created(id)
}

func (h *KeywordHandler) GetKeywords(w http.ResponseWriter, r *http.Request) Result {
	keywords, err := h.repo.GetKeywords(r.Context())
	if err != nil {
		return InternalError(err, "get keywords: ")
	}

	res := &models.GetKeywordsResponse{Keywords: make([]models.Keyword, 0, len(keywords))}
	for _, k := range keywords {
		res.Keywords = append(res.Keywords, toKeywordModel(k))
	}

	return Ok(res)
}

func (h *KeywordHandler) GetKeyword(w http.ResponseWriter, r *http.Request) Result {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		return BadRequest("Invalid keyword ID.")
	}

	keyword, err := h.repo.GetKeywordByID(r.Context(), id)
	if err != nil {
		return InternalError(err, "get keyword: ")
	}
	if keyword == nil {
		return NotFound("Keyword not found.")
	}

	return Ok(toKeywordModel(*keyword))
}

func (h *KeywordHandler) UpdateKeyword(w http.ResponseWriter, r *http.Request) Result {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		return BadRequest("Invalid keyword ID.")
	}

	var req models.UpdateKeywordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return BadRequest("Invalid request.")
	}

	keyword, msg := validateKeyword(req.Keyword, req.Category)
	if msg != "" {
		return BadRequest(msg)
	}
	keyword.ID = id

	found, err := h.repo.UpdateKeyword(r.Context(), keyword)
	if err != nil {
		return InternalError(err, "update keyword: ")
	}
	if !found {
		return NotFound("Keyword not found.")
	}

	return Ok(nil)
}

func (h *KeywordHandler) DeleteKeyword(w http.ResponseWriter, r *http.Request) Result {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		return BadRequest("Invalid keyword ID.")
	}

	if err := h.repo.DeleteKeyword(r.Context(), id); err != nil {
		return InternalError(err, "delete keyword: ")
	}

	return Ok(nil)
}

// validateKeyword trims input and returns a message describing the first problem found.
func validateKeyword(raw string, category *string) (data.Keyword, string) {
	keyword := strings.TrimSpace(raw)
	if keyword == "" {
		return data.Keyword{}, "Keyword is required."
	}
	if n := len([]rune(keyword)); n < minKeywordLength || n > maxKeywordLength {
		return data.Keyword{}, "Keyword must be between 2 and 100 characters."
	}

	if category != nil {
		trimmed := strings.TrimSpace(*category)
		category = &trimmed
		if trimmed == "" {
			category = nil
		}
	}

	return data.Keyword{Keyword: keyword, Category: category}, ""
}

func toKeywordModel(k data.Keyword) models.Keyword {
	return models.Keyword{
		ID:       k.ID,
		Keyword:  k.Keyword,
		Category: k.Category,
	}
}
