package models

import "time"

type KeywordMatch struct {
	KeywordID          int     `json:"keywordId"`
	Keyword            string  `json:"keyword"`
	Category           *string `json:"category"`
	Context            string  `json:"context"`
	ContextHighlighted string  `json:"contextHighlighted"`
}

type MatchReport struct {
	WatchID     string         `json:"watchId"`
	URL         string         `json:"url"`
	Title       string         `json:"title"`
	LastChanged *time.Time     `json:"lastChanged"`
	Language    string         `json:"language,omitempty"`
	Matches     []KeywordMatch `json:"matches"`
}

type MatchesResponse struct {
	Message string        `json:"message"`
	Matches []MatchReport `json:"matches"`
}

type NotifyResponse struct {
	Message      string `json:"message"`
	EmailsSent   int    `json:"emailsSent"`
	EmailsFailed int    `json:"emailsFailed"`
	TotalEmails  int    `json:"totalEmails"`
}
