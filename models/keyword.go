package models

type CreateKeywordRequest struct {
	Keyword  string  `json:"keyword"`
	Category *string `json:"category"`
}

type UpdateKeywordRequest struct {
	Keyword  string  `json:"keyword"`
	Category *string `json:"category"`
}

type Keyword struct {
	ID       int     `json:"id"`
	Keyword  string  `json:"keyword"`
	Category *string `json:"category"`
}

type GetKeywordsResponse struct {
	Keywords []Keyword `json:"keywords"`
}
