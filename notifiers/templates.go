package notifiers

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/google/uuid"

	"github.com/kova98/changealert.api/scanner"
)

//go:embed templates/alert.html templates/alert.txt
var emailTemplates embed.FS

var funcs = map[string]any{"summary": summary}

var (
	htmlTemplates = template.Must(template.New("alert.html").Funcs(funcs).ParseFS(emailTemplates, "templates/alert.html"))
	textTemplates = texttemplate.Must(texttemplate.New("alert.txt").Funcs(funcs).ParseFS(emailTemplates, "templates/alert.txt"))
)

const htmlClose = "</div>\n</body>\n</html>\n"

// DefaultSubject is used when the caller does not override the subject.
func DefaultSubject(reports int) string {
	return fmt.Sprintf("Alert: %d Keyword Matches Detected", reports)
}

func summary(n int) string {
	if n == 1 {
		return "You have a new keyword match"
	}
	return fmt.Sprintf("You have %d new keyword matches", n)
}

type alertView struct {
	Count   int
	Reports []reportView
	AppURL  string
}

type reportView struct {
	Title       string
	URL         string
	LastChanged string
	Language    string
	Keywords    []string
	Matches     []matchView
}

type matchView struct {
	Keyword     string
	Category    string
	Context     string
	Highlighted template.HTML
}

// Body is an alert rendered once and shared by every recipient. Only the
// unsubscribe footer differs per recipient.
type Body struct {
	html    string
	text    string
	baseURL string
}

// RenderAlert renders the shared part of an alert email for reports.
func RenderAlert(reports []scanner.WatchMatchReport, appBaseURL string) (Body, error) {
	baseURL := strings.TrimRight(appBaseURL, "/")
	view := alertView{
		Count:   len(reports),
		Reports: make([]reportView, 0, len(reports)),
		AppURL:  baseURL,
	}
	for _, r := range reports {
		view.Reports = append(view.Reports, newReportView(r))
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&htmlBuf, "body", view); err != nil {
		return Body{}, fmt.Errorf("render alert html: %w", err)
	}
	if err := textTemplates.ExecuteTemplate(&textBuf, "body", view); err != nil {
		return Body{}, fmt.Errorf("render alert text: %w", err)
	}

	return Body{html: htmlBuf.String(), text: textBuf.String(), baseURL: baseURL}, nil
}

// For returns the HTML and plain text bodies for one recipient.
func (b Body) For(r Recipient) (string, string, error) {
	unsubscribe := b.unsubscribeURL(r.UnsubscribeToken)
	if unsubscribe == "" {
		return b.html + htmlClose, b.text, nil
	}

	var htmlBuf, textBuf bytes.Buffer
	htmlBuf.WriteString(b.html)
	if err := htmlTemplates.ExecuteTemplate(&htmlBuf, "footer", unsubscribe); err != nil {
		return "", "", fmt.Errorf("render unsubscribe footer: %w", err)
	}
	htmlBuf.WriteString(htmlClose)

	textBuf.WriteString(b.text)
	if err := textTemplates.ExecuteTemplate(&textBuf, "footer", unsubscribe); err != nil {
		return "", "", fmt.Errorf("render unsubscribe footer: %w", err)
	}

	return htmlBuf.String(), textBuf.String(), nil
}

func (b Body) unsubscribeURL(token uuid.UUID) string {
	if b.baseURL == "" || token == uuid.Nil {
		return ""
	}
	return b.baseURL + "/unsubscribe?token=" + url.QueryEscape(token.String())
}

func newReportView(r scanner.WatchMatchReport) reportView {
	v := reportView{
		Title:    r.Title,
		URL:      r.URL,
		Language: r.Language,
		Keywords: make([]string, 0, len(r.Matches)),
		Matches:  make([]matchView, 0, len(r.Matches)),
	}
	if v.Title == "" {
		v.Title = r.URL
	}
	if r.LastChangedAt != nil {
		v.LastChanged = r.LastChangedAt.UTC().Format(time.RFC1123)
	}

	for _, m := range r.Matches {
		mv := matchView{
			Keyword:     m.Keyword.Keyword,
			Context:     m.ContextPlain,
			Highlighted: safeHighlight(m.ContextHighlighted),
		}
		if m.Keyword.Category != nil {
			mv.Category = *m.Keyword.Category
		}
		v.Keywords = append(v.Keywords, mv.Keyword)
		v.Matches = append(v.Matches, mv)
	}

	return v
}

// safeHighlight escapes snapshot text and keeps only the <mark> tags added by the matcher.
func safeHighlight(highlighted string) template.HTML {
	escaped := html.EscapeString(highlighted)
	escaped = strings.ReplaceAll(escaped, "&lt;mark&gt;", "<mark>")
	escaped = strings.ReplaceAll(escaped, "&lt;/mark&gt;", "</mark>")
	return template.HTML(escaped)
}
