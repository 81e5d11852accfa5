package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sells-group/osint-cli/internal/model"
	"github.com/sells-group/osint-cli/internal/resilience"
)

const githubBaseURL = "https://api.github.com"

// GitHubOptions configures the GitHub source. An empty token falls back
// to unauthenticated requests with their much lower rate limits.
type GitHubOptions struct {
	Token   string
	BaseURL string
}

// GitHub fetches profiles and public event activity from the GitHub
// REST API. Events become records; GitHub activity carries no media.
type GitHub struct {
	api     *APIClient
	token   string
	baseURL string
}

// NewGitHub creates the GitHub source.
func NewGitHub(api *APIClient, opts GitHubOptions) *GitHub {
	base := opts.BaseURL
	if base == "" {
		base = githubBaseURL
	}
	return &GitHub{api: api, token: opts.Token, baseURL: base}
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) MediaHosts() []string { return nil }

func (g *GitHub) MediaHeaders() map[string]string { return nil }

func (g *GitHub) headers() map[string]string {
	h := map[string]string{"Accept": "application/vnd.github.v3+json"}
	if g.token != "" {
		h["Authorization"] = "Bearer " + g.token
	}
	return h
}

type ghUser struct {
	ID          int64      `json:"id"`
	Login       string     `json:"login"`
	Name        string     `json:"name"`
	Bio         string     `json:"bio"`
	CreatedAt   *time.Time `json:"created_at"`
	HTMLURL     string     `json:"html_url"`
	Followers   int        `json:"followers"`
	Following   int        `json:"following"`
	PublicRepos int        `json:"public_repos"`
}

func (g *GitHub) FetchProfile(ctx context.Context, handle string) (*model.Profile, error) {
	var user ghUser
	endpoint := fmt.Sprintf("%s/users/%s", g.baseURL, url.PathEscape(handle))
	if err := g.api.GetJSON(ctx, "github", endpoint, g.headers(), &user); err != nil {
		return nil, g.mapError(err, handle)
	}

	return &model.Profile{
		Source:      "github",
		ID:          fmt.Sprint(user.ID),
		Handle:      user.Login,
		DisplayName: user.Name,
		Bio:         user.Bio,
		CreatedAt:   user.CreatedAt,
		URL:         user.HTMLURL,
		Metrics: map[string]int{
			"followers":    user.Followers,
			"following":    user.Following,
			"public_repos": user.PublicRepos,
		},
	}, nil
}

type ghEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Actor     struct {
		Login string `json:"login"`
	} `json:"actor"`
	Repo struct {
		Name string `json:"name"`
	} `json:"repo"`
	Payload ghPayload `json:"payload"`
}

type ghPayload struct {
	Action  string `json:"action"`
	Commits []struct {
		URL string `json:"url"`
	} `json:"commits"`
	Issue struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		HTMLURL string `json:"html_url"`
	} `json:"issue"`
	PullRequest struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		HTMLURL string `json:"html_url"`
	} `json:"pull_request"`
}

func (g *GitHub) FetchRecords(ctx context.Context, handle string, limit int, seen map[string]struct{}) ([]model.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	var records []model.Record
	perPage := limit
	if perPage > 100 {
		perPage = 100
	}

	for page := 1; len(records) < limit; page++ {
		endpoint := fmt.Sprintf("%s/users/%s/events/public?per_page=%d&page=%d",
			g.baseURL, url.PathEscape(handle), perPage, page)

		var events []ghEvent
		if err := g.api.GetJSON(ctx, "github", endpoint, g.headers(), &events); err != nil {
			return nil, g.mapError(err, handle)
		}
		if len(events) == 0 {
			break
		}

		for _, ev := range events {
			rec := ghEventToRecord(ev)
			if _, dup := seen[rec.Key()]; dup {
				continue
			}
			records = append(records, rec)
			if len(records) >= limit {
				break
			}
		}
	}
	return records, nil
}

func ghEventToRecord(ev ghEvent) model.Record {
	text, recURL := ghEventDetails(ev)
	return model.Record{
		Source:        "github",
		ID:            ev.ID,
		CreatedAt:     ev.CreatedAt.UTC(),
		Author:        ev.Actor.Login,
		Text:          text,
		ExternalLinks: ExtractLinks(text),
		URL:           recURL,
		Metrics:       map[string]int{},
		Type:          ev.Type,
		Context:       map[string]string{"repo": ev.Repo.Name},
	}
}

func ghEventDetails(ev ghEvent) (string, string) {
	repo := ev.Repo.Name
	text := fmt.Sprintf("Performed a %s on %s", ev.Type, repo)
	recURL := "https://github.com/" + repo

	switch ev.Type {
	case "PushEvent":
		text = fmt.Sprintf("Pushed %d commit(s) to %s", len(ev.Payload.Commits), repo)
	case "IssuesEvent", "IssueCommentEvent":
		action := ev.Payload.Action
		if action == "" {
			action = "commented on"
		}
		text = fmt.Sprintf("%s issue #%d in %s: %s", action, ev.Payload.Issue.Number, repo, ev.Payload.Issue.Title)
		if ev.Payload.Issue.HTMLURL != "" {
			recURL = ev.Payload.Issue.HTMLURL
		}
	case "PullRequestEvent", "PullRequestReviewEvent", "PullRequestReviewCommentEvent":
		action := ev.Payload.Action
		if action == "" {
			action = "interacted with"
		}
		text = fmt.Sprintf("%s pull request #%d in %s: %s", action, ev.Payload.PullRequest.Number, repo, ev.Payload.PullRequest.Title)
		if ev.Payload.PullRequest.HTMLURL != "" {
			recURL = ev.Payload.PullRequest.HTMLURL
		}
	}
	return text, recURL
}

// mapError translates GitHub status codes onto the shared taxonomy:
// 404 is an unknown user, 403 without rate-limit headers is blocked
// access (private, suspended, or missing token scope).
func (g *GitHub) mapError(err error, handle string) error {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case 404:
			return &resilience.NotFoundError{Source: "github", Handle: handle}
		case 401, 403:
			return &resilience.AuthError{Source: "github", Reason: fmt.Sprintf("status %d for %q", se.Code, handle)}
		}
	}
	return err
}
