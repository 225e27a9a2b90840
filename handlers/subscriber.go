package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kova98/changealert.api/data"
	"github.com/kova98/changealert.api/models"
)

type SubscriberRepo interface {
	GetSubscribers(ctx context.Context) ([]data.Subscriber, error)
	CreateSubscriber(ctx context.Context, address string) (int, error)
	DeleteSubscriber(ctx context.Context, id int) error
	Unsubscribe(ctx context.Context, token uuid.UUID) (bool, error)
}

type SubscriberHandler struct {
	repo SubscriberRepo
}

func NewSubscriberHandler(repo SubscriberRepo) *SubscriberHandler {
	return &SubscriberHandler{repo}
}

func (h *SubscriberHandler) CreateSubscriber(w http.ResponseWriter, r *http.Request) Result {
	var req models.CreateSubscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return BadRequest("Invalid request.")
	}

	address, ok := parseAddress(req.Email)
	if !ok {
		return BadRequest("A valid email address is required.")
	}

	id, err := h.repo.CreateSubscriber(r.Context(), address)
	if err != nil {
		return InternalError(err, "create subscriber: ")
	}

	return Created(id)
}

func (h *SubscriberHandler) GetSubscribers(w http.ResponseWriter, r *http.Request) Result {
	subscribers, err := h.repo.GetSubscribers(r.Context())
	if err != nil {
		return InternalError(err, "get subscribers: ")
	}

	res := models.GetSubscribersResponse{Subscribers: make([]models.Subscriber, 0, len(subscribers))}
	for _, s := range subscribers {
		res.Subscribers = append(res.Subscribers, models.Subscriber{ID: s.ID, Email: s.EmailAddress})
	}

	return Ok(res)
}

func (h *SubscriberHandler) DeleteSubscriber(w http.ResponseWriter, r *http.Request) Result {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		return BadRequest("Invalid subscriber ID.")
	}

	if err := h.repo.DeleteSubscriber(r.Context(), id); err != nil {
		return InternalError(err, "delete subscriber: ")
	}

	return Ok(nil)
}

// Unsubscribe is public: the token from the email footer is the only credential.
func (h *SubscriberHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) Result {
	token, err := uuid.Parse(r.URL.Query().Get("token"))
	if err != nil {
		return BadRequest("Invalid unsubscribe token.")
	}

	found, err := h.repo.Unsubscribe(r.Context(), token)
	if err != nil {
		return InternalError(err, "unsubscribe: ")
	}
	if !found {
		return NotFound("Subscription not found.")
	}

	return Ok(models.MessageResponse{Message: "You have been unsubscribed."})
}

func parseAddress(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", false
	}
	return addr.Address, true
}
