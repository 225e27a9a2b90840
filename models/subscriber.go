package models

type CreateSubscriberRequest struct {
	Email string `json:"email"`
}

type Subscriber struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
}

type GetSubscribersResponse struct {
	Subscribers []Subscriber `json:"subscribers"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
