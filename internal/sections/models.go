package sections

import (
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"finitefield.org/university-web/internal/format"
	"finitefield.org/university-web/internal/localize"
)

const summaryLimit = 280

// NewsItem is a news article or announcement.
type NewsItem struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	BodyHTML    string     `json:"body_html,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	Category    string     `json:"category,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	DateLabel   string     `json:"date_label,omitempty"`
	ShortDate   string     `json:"short_date,omitempty"`
}

// Program is a study program.
type Program struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Degree      string   `json:"degree,omitempty"`
	Duration    string   `json:"duration,omitempty"`
	Faculty     string   `json:"faculty,omitempty"`
	Languages   []string `json:"languages,omitempty"`
}

// FacultyMember is a staff profile.
type FacultyMember struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Position   string `json:"position,omitempty"`
	Department string `json:"department,omitempty"`
	BioHTML    string `json:"bio_html,omitempty"`
	PhotoURL   string `json:"photo_url,omitempty"`
	Email      string `json:"email,omitempty"`
}

// Document is a downloadable file such as a regulation or form.
type Document struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	FileName    string `json:"file_name,omitempty"`
}

// FAQ is a question and answer pair.
type FAQ struct {
	ID         string `json:"id"`
	Question   string `json:"question"`
	AnswerHTML string `json:"answer_html,omitempty"`
	Category   string `json:"category,omitempty"`
}

var (
	News = Section[NewsItem]{
		Name: "news",
		Path: "/api/news/news/",
		Map:  mapNews,
	}
	Programs = Section[Program]{
		Name: "programs",
		Path: "/api/education/programs/",
		Map:  mapProgram,
	}
	Faculty = Section[FacultyMember]{
		Name: "faculty",
		Path: "/api/staff/faculty/",
		Map:  mapFacultyMember,
	}
	Documents = Section[Document]{
		Name: "documents",
		Path: "/api/documents/documents/",
		Map:  mapDocument,
	}
	FAQs = Section[FAQ]{
		Name: "faqs",
		Path: "/api/faq/faqs/",
		Map:  mapFAQ,
	}
)

func mapNews(r localize.Resolver, rec localize.Record) (NewsItem, bool) {
	title := r.First(rec, "title", "name")
	if title == "" {
		return NewsItem{}, false
	}
	bodyHTML := format.RichText(r.First(rec, "content", "body", "text"))
	summary := format.PlainText(r.First(rec, "summary", "short_description", "description"))
	if summary == "" {
		summary = format.PlainText(bodyHTML)
	}
	published := firstTime(rec, "published_at", "publish_date", "date", "created_at")
	var publishedAt *time.Time
	if !published.IsZero() {
		publishedAt = &published
	}
	return NewsItem{
		ID:          localize.FirstString(rec, "id", "slug"),
		Title:       title,
		Summary:     format.Truncate(summary, summaryLimit),
		BodyHTML:    bodyHTML,
		ImageURL:    localize.FirstString(rec, "image", "image_url", "cover", "photo"),
		Category:    nestedText(r, rec, "category"),
		PublishedAt: publishedAt,
		DateLabel:   format.FmtDate(published, r.Lang),
		ShortDate:   format.FmtShortDate(published, r.Lang),
	}, true
}

func mapProgram(r localize.Resolver, rec localize.Record) (Program, bool) {
	title := r.First(rec, "title", "name")
	if title == "" {
		return Program{}, false
	}
	duration := r.Text(rec, "duration")
	if duration == "" {
		if years, ok := localize.Int(rec, "duration_years"); ok && years > 0 {
			duration = strconv.FormatInt(years, 10)
		}
	}
	languages := r.List(rec, "languages")
	if len(languages) == 0 {
		languages = r.List(rec, "study_languages")
	}
	return Program{
		ID:          localize.FirstString(rec, "id", "slug"),
		Title:       title,
		Description: format.PlainText(r.First(rec, "description", "short_description")),
		Degree:      nestedText(r, rec, "degree"),
		Duration:    duration,
		Faculty:     firstNestedText(r, rec, "faculty", "department"),
		Languages:   languages,
	}, true
}

func mapFacultyMember(r localize.Resolver, rec localize.Record) (FacultyMember, bool) {
	name := r.First(rec, "full_name", "name")
	if name == "" {
		name = strings.TrimSpace(strings.Join([]string{
			r.Text(rec, "last_name"),
			r.Text(rec, "first_name"),
			r.Text(rec, "middle_name"),
		}, " "))
		name = strings.Join(strings.Fields(name), " ")
	}
	if name == "" {
		return FacultyMember{}, false
	}
	return FacultyMember{
		ID:         localize.FirstString(rec, "id", "slug"),
		Name:       name,
		Position:   r.First(rec, "position", "role"),
		Department: firstNestedText(r, rec, "department", "faculty"),
		BioHTML:    format.RichText(r.First(rec, "bio", "biography", "description")),
		PhotoURL:   localize.FirstString(rec, "photo", "photo_url", "image"),
		Email:      localize.String(rec, "email"),
	}, true
}

func mapDocument(r localize.Resolver, rec localize.Record) (Document, bool) {
	title := r.First(rec, "title", "name")
	if title == "" {
		return Document{}, false
	}
	link := localize.FirstString(rec, "download_url", "file_url", "file")
	fileName := safeFileName(localize.FirstString(rec, "file_name", "filename"))
	if fileName == "" && link != "" {
		if u, err := url.Parse(link); err == nil {
			fileName = safeFileName(u.Path)
		}
	}
	return Document{
		ID:          localize.FirstString(rec, "id", "slug"),
		Title:       title,
		Description: format.PlainText(r.Text(rec, "description")),
		Category:    nestedText(r, rec, "category"),
		DownloadURL: link,
		FileName:    fileName,
	}, true
}

func mapFAQ(r localize.Resolver, rec localize.Record) (FAQ, bool) {
	question := r.First(rec, "question", "title")
	if question == "" {
		return FAQ{}, false
	}
	return FAQ{
		ID:         localize.FirstString(rec, "id", "slug"),
		Question:   question,
		AnswerHTML: format.RichText(r.First(rec, "answer", "text")),
		Category:   nestedText(r, rec, "category"),
	}, true
}

// nestedText resolves key as a localized field, or as the name of an embedded
// object such as {"category": {"name_ru": ...}}.
func nestedText(r localize.Resolver, rec localize.Record, key string) string {
	switch nested := rec[key].(type) {
	case map[string]any:
		return r.First(localize.Record(nested), "name", "title")
	case localize.Record:
		return r.First(nested, "name", "title")
	}
	return r.Text(rec, key)
}

func firstNestedText(r localize.Resolver, rec localize.Record, keys ...string) string {
	for _, key := range keys {
		if v := nestedText(r, rec, key); v != "" {
			return v
		}
	}
	return ""
}

func firstTime(rec localize.Record, keys ...string) time.Time {
	for _, key := range keys {
		if t := localize.Time(rec, key); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

// safeFileName reduces name to its last path element. It returns "" when
// nothing usable is left.
func safeFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	switch base {
	case ".", "..", "/":
		return ""
	}
	return base
}
