package models

type Priority string

const (
	PriorityNormal Priority = ""
	PriorityHigh   Priority = "high"
	PriorityLow    Priority = "low"
)

type Email struct {
	From     string
	To       string
	Cc       []string
	Bcc      []string
	ReplyTo  string
	Subject  string
	HTML     string
	Text     string
	Priority Priority
}
