package fetcher

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/sells-group/osint-cli/internal/model"
	"github.com/sells-group/osint-cli/internal/resilience"
)

const redditBaseURL = "https://www.reddit.com"

// redditMediaHosts is the CDN allowlist for reddit artifacts.
var redditMediaHosts = []string{
	"i.redd.it",
	"preview.redd.it",
	"external-preview.redd.it",
	"b.thumbs.redditmedia.com",
	"www.redditstatic.com",
}

// RedditOptions configures the reddit source.
type RedditOptions struct {
	BaseURL   string
	UserAgent string
}

// Reddit fetches profiles and activity from reddit's public listing
// API. Submissions and comments are interleaved into one record stream;
// image submissions become artifacts.
type Reddit struct {
	api       *APIClient
	baseURL   string
	userAgent string
}

// NewReddit creates the reddit source.
func NewReddit(api *APIClient, opts RedditOptions) *Reddit {
	base := opts.BaseURL
	if base == "" {
		base = redditBaseURL
	}
	return &Reddit{api: api, baseURL: base, userAgent: opts.UserAgent}
}

// headers carries the reddit-specific User-Agent when one is
// configured; reddit throttles the shared default aggressively.
func (r *Reddit) headers() map[string]string {
	if r.userAgent == "" {
		return nil
	}
	return map[string]string{"User-Agent": r.userAgent}
}

func (r *Reddit) Name() string { return "reddit" }

func (r *Reddit) MediaHosts() []string { return redditMediaHosts }

func (r *Reddit) MediaHeaders() map[string]string { return nil }

type redditAbout struct {
	Data struct {
		ID           string  `json:"id"`
		Name         string  `json:"name"`
		CreatedUTC   float64 `json:"created_utc"`
		TotalKarma   int     `json:"total_karma"`
		LinkKarma    int     `json:"link_karma"`
		CommentKarma int     `json:"comment_karma"`
		Subreddit    struct {
			PublicDescription string `json:"public_description"`
			Title             string `json:"title"`
		} `json:"subreddit"`
	} `json:"data"`
}

func (r *Reddit) FetchProfile(ctx context.Context, handle string) (*model.Profile, error) {
	var about redditAbout
	endpoint := fmt.Sprintf("%s/user/%s/about.json", r.baseURL, url.PathEscape(handle))
	if err := r.api.GetJSON(ctx, "reddit", endpoint, r.headers(), &about); err != nil {
		return nil, r.mapError(err, handle)
	}
	if about.Data.Name == "" {
		return nil, &resilience.NotFoundError{Source: "reddit", Handle: handle}
	}

	created := time.Unix(int64(about.Data.CreatedUTC), 0).UTC()
	return &model.Profile{
		Source:      "reddit",
		ID:          about.Data.ID,
		Handle:      about.Data.Name,
		DisplayName: about.Data.Subreddit.Title,
		Bio:         about.Data.Subreddit.PublicDescription,
		CreatedAt:   &created,
		URL:         "https://www.reddit.com/user/" + url.PathEscape(about.Data.Name),
		Metrics: map[string]int{
			"total_karma":   about.Data.TotalKarma,
			"link_karma":    about.Data.LinkKarma,
			"comment_karma": about.Data.CommentKarma,
		},
	}, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Kind string      `json:"kind"`
			Data redditThing `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditThing struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Body        string  `json:"body"`
	CreatedUTC  float64 `json:"created_utc"`
	Author      string  `json:"author"`
	Permalink   string  `json:"permalink"`
	URL         string  `json:"url"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Subreddit   string  `json:"subreddit"`
	PostHint    string  `json:"post_hint"`
	IsVideo     bool    `json:"is_video"`
}

func (r *Reddit) FetchRecords(ctx context.Context, handle string, limit int, seen map[string]struct{}) ([]model.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	var records []model.Record
	for _, feed := range []string{"submitted", "comments"} {
		endpoint := fmt.Sprintf("%s/user/%s/%s.json?limit=%d&raw_json=1",
			r.baseURL, url.PathEscape(handle), feed, limit)

		var listing redditListing
		if err := r.api.GetJSON(ctx, "reddit", endpoint, r.headers(), &listing); err != nil {
			return nil, r.mapError(err, handle)
		}

		for _, child := range listing.Data.Children {
			rec := redditThingToRecord(child.Kind, child.Data)
			if _, dup := seen[rec.Key()]; dup {
				continue
			}
			records = append(records, rec)
		}
	}

	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func redditThingToRecord(kind string, thing redditThing) model.Record {
	recType := "comment"
	text := thing.Body
	if kind == "t3" {
		recType = "submission"
		text = thing.Title
		if thing.SelfText != "" {
			text += "\n" + thing.SelfText
		}
	}
	text = html.UnescapeString(text)

	rec := model.Record{
		Source:        "reddit",
		ID:            kind + "_" + thing.ID,
		CreatedAt:     time.Unix(int64(thing.CreatedUTC), 0).UTC(),
		Author:        thing.Author,
		Text:          text,
		ExternalLinks: ExtractLinks(text),
		URL:           "https://www.reddit.com" + thing.Permalink,
		Metrics:       map[string]int{"score": thing.Score},
		Type:          recType,
		Context:       map[string]string{"subreddit": thing.Subreddit},
	}
	if recType == "submission" {
		rec.Metrics["comments"] = thing.NumComments
		if art, ok := redditArtifact(thing); ok {
			rec.Artifacts = []model.Artifact{art}
		}
	}
	return rec
}

// redditArtifact derives a media artifact from a submission when its
// link target is direct media.
func redditArtifact(thing redditThing) (model.Artifact, bool) {
	link := html.UnescapeString(thing.URL)
	if link == "" {
		return model.Artifact{}, false
	}

	lower := strings.ToLower(link)
	switch {
	case thing.IsVideo || strings.HasSuffix(lower, ".mp4") || strings.HasSuffix(lower, ".webm"):
		return model.Artifact{URL: link, Type: model.ArtifactVideo}, true
	case strings.HasSuffix(lower, ".gif"):
		return model.Artifact{URL: link, Type: model.ArtifactGIF}, true
	case thing.PostHint == "image" ||
		strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg") ||
		strings.HasSuffix(lower, ".png") || strings.HasSuffix(lower, ".webp"):
		return model.Artifact{URL: link, Type: model.ArtifactImage}, true
	}
	return model.Artifact{}, false
}

// mapError translates reddit status codes: 404 is an unknown or deleted
// user, 403 is a suspended or quarantined account.
func (r *Reddit) mapError(err error, handle string) error {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case 404:
			return &resilience.NotFoundError{Source: "reddit", Handle: handle}
		case 403:
			return &resilience.AuthError{Source: "reddit", Reason: fmt.Sprintf("account %q is private or suspended", handle)}
		}
	}
	return err
}
