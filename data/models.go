package data

import (
	"time"

	"github.com/google/uuid"
)

type Keyword struct {
	ID        int       `db:"id"`
	Keyword   string    `db:"keyword"`
	Category  *string   `db:"category"`
	CreatedAt time.Time `db:"created_at"`
}

type Subscriber struct {
	ID               int       `db:"id"`
	EmailAddress     string    `db:"email_address"`
	UnsubscribeToken uuid.UUID `db:"unsubscribe_token"`
	CreatedAt        time.Time `db:"created_at"`
}
