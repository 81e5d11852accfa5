package fetcher

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/osint-cli/internal/model"
	"github.com/sells-group/osint-cli/internal/resilience"
)

const (
	hnFirebaseBaseURL = "https://hacker-news.firebaseio.com"
	hnAlgoliaBaseURL  = "https://hn.algolia.com"
	hnAlgoliaMaxHits  = 1000
)

// HackerNewsOptions configures the HackerNews source. The base URLs are
// overridable for tests.
type HackerNewsOptions struct {
	FirebaseBaseURL string
	AlgoliaBaseURL  string
}

// HackerNews fetches profiles from the Firebase API and activity from
// the Algolia search API. Neither requires credentials, and HN items
// carry no media.
type HackerNews struct {
	api      *APIClient
	firebase string
	algolia  string
}

// NewHackerNews creates the HackerNews source.
func NewHackerNews(api *APIClient, opts HackerNewsOptions) *HackerNews {
	firebase := opts.FirebaseBaseURL
	if firebase == "" {
		firebase = hnFirebaseBaseURL
	}
	algolia := opts.AlgoliaBaseURL
	if algolia == "" {
		algolia = hnAlgoliaBaseURL
	}
	return &HackerNews{api: api, firebase: firebase, algolia: algolia}
}

func (h *HackerNews) Name() string { return "hackernews" }

func (h *HackerNews) MediaHosts() []string { return nil }

func (h *HackerNews) MediaHeaders() map[string]string { return nil }

type hnUser struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Karma   int    `json:"karma"`
	About   string `json:"about"`
}

func (h *HackerNews) FetchProfile(ctx context.Context, handle string) (*model.Profile, error) {
	var user *hnUser
	endpoint := fmt.Sprintf("%s/v0/user/%s.json", h.firebase, url.PathEscape(handle))
	if err := h.api.GetJSON(ctx, "hackernews", endpoint, nil, &user); err != nil {
		return nil, err
	}
	// Firebase answers "null" with a 200 for unknown users.
	if user == nil || user.ID == "" {
		return nil, &resilience.NotFoundError{Source: "hackernews", Handle: handle}
	}

	created := time.Unix(user.Created, 0).UTC()
	return &model.Profile{
		Source:    "hackernews",
		ID:        user.ID,
		Handle:    user.ID,
		Bio:       stripHTML(user.About),
		CreatedAt: &created,
		URL:       "https://news.ycombinator.com/user?id=" + url.QueryEscape(user.ID),
		Metrics:   map[string]int{"karma": user.Karma},
	}, nil
}

type hnSearchResponse struct {
	Hits []hnHit `json:"hits"`
}

type hnHit struct {
	ObjectID    string   `json:"objectID"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	StoryText   string   `json:"story_text"`
	CommentText string   `json:"comment_text"`
	CreatedAtI  int64    `json:"created_at_i"`
	Points      int      `json:"points"`
	NumComments int      `json:"num_comments"`
	Tags        []string `json:"_tags"`
}

func (h *HackerNews) FetchRecords(ctx context.Context, handle string, limit int, seen map[string]struct{}) ([]model.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > hnAlgoliaMaxHits {
		limit = hnAlgoliaMaxHits
	}

	params := url.Values{}
	params.Set("tags", "author_"+handle)
	params.Set("hitsPerPage", fmt.Sprint(limit))

	var resp hnSearchResponse
	endpoint := fmt.Sprintf("%s/api/v1/search_by_date?%s", h.algolia, params.Encode())
	if err := h.api.GetJSON(ctx, "hackernews", endpoint, nil, &resp); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == 404 {
			return nil, &resilience.NotFoundError{Source: "hackernews", Handle: handle}
		}
		return nil, err
	}

	records := make([]model.Record, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		rec := hnHitToRecord(handle, hit)
		if _, dup := seen[rec.Key()]; dup {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func hnHitToRecord(handle string, hit hnHit) model.Record {
	kind := "story"
	for _, tag := range hit.Tags {
		if tag == "comment" {
			kind = "comment"
			break
		}
	}

	text := hit.Title
	if body := stripHTML(firstNonEmpty(hit.StoryText, hit.CommentText)); body != "" {
		if text != "" {
			text += "\n" + body
		} else {
			text = body
		}
	}

	links := ExtractLinks(text)
	if hit.URL != "" {
		links = append([]string{hit.URL}, links...)
	}

	return model.Record{
		Source:        "hackernews",
		ID:            hit.ObjectID,
		CreatedAt:     time.Unix(hit.CreatedAtI, 0).UTC(),
		Author:        handle,
		Text:          text,
		ExternalLinks: links,
		URL:           "https://news.ycombinator.com/item?id=" + hit.ObjectID,
		Metrics:       map[string]int{"points": hit.Points, "comments": hit.NumComments},
		Type:          kind,
	}
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// stripHTML flattens the HTML fragments the HN APIs return for story
// and comment bodies into plain text.
func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "<p>", "\n")
	s = htmlTagPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(s))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
