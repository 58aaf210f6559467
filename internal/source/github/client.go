package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v75/github"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/internal/source"
	"github.com/jwalitptl/repo-tracker/pkg/logger"
	"github.com/jwalitptl/repo-tracker/pkg/metrics"
)

const (
	defaultPerPage     = 30
	defaultMaxBranches = 30
	fetchConcurrency   = 4
)

// Client fetches repository snapshots from the GitHub REST API.
type Client struct {
	c           *github.Client
	l           *rate.Limiter
	log         *logger.Logger
	m           *metrics.Metrics
	perPage     int
	maxBranches int
}

type clientOptions struct {
	token       string
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	log         *logger.Logger
	metrics     *metrics.Metrics
	perPage     int
	maxBranches int
}

// Option configures a Client.
type Option func(*clientOptions)

// WithToken sets the personal access token for authenticated requests.
func WithToken(token string) Option {
	return func(o *clientOptions) { o.token = token }
}

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(u string) Option {
	return func(o *clientOptions) { o.baseURL = u }
}

// WithHTTPClient sets the transport, e.g. one with a timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithLimiter sets the rate limiter used for API calls.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *clientOptions) { o.limiter = l }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *clientOptions) { o.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithPerPage bounds every list request.
func WithPerPage(n int) Option {
	return func(o *clientOptions) { o.perPage = n }
}

// WithMaxBranches bounds how many branch head commits are resolved for
// their commit date.
func WithMaxBranches(n int) Option {
	return func(o *clientOptions) { o.maxBranches = n }
}

// NewLimiter returns a limiter allowing rps requests per second.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func NewClient(opts ...Option) (*Client, error) {
	o := clientOptions{perPage: defaultPerPage, maxBranches: defaultMaxBranches}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	if o.limiter == nil {
		o.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if o.perPage <= 0 || o.perPage > 100 {
		o.perPage = defaultPerPage
	}

	c := github.NewClient(o.httpClient)
	if o.token != "" {
		c = c.WithAuthToken(o.token)
	} else {
		o.log.Warn("using unauthenticated GitHub client (rate limited)")
	}
	if o.baseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(o.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		c.BaseURL = base
	}

	return &Client{
		c:           c,
		l:           o.limiter,
		log:         o.log,
		m:           o.metrics,
		perPage:     o.perPage,
		maxBranches: o.maxBranches,
	}, nil
}

var _ source.Source = (*Client)(nil)

func (c *Client) wait(ctx context.Context) error {
	if err := c.l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}
	return nil
}

func (c *Client) observe(op string, err error) {
	if c.m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.m.UpstreamRequests.WithLabelValues(op, status).Inc()
}

func isStatus(err error, code int) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == code
}

func (c *Client) getRepository(ctx context.Context, owner, name string) (*github.Repository, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	repo, _, err := c.c.Repositories.Get(ctx, owner, name)
	c.observe("get_repository", err)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%s/%s: %w", owner, name, source.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get repo info for %s/%s: %w", owner, name, err)
	}
	return repo, nil
}

func (c *Client) VerifyResource(ctx context.Context, owner, name string) (*source.ResourceStatus, error) {
	repo, err := c.getRepository(ctx, owner, name)
	if errors.Is(err, source.ErrNotFound) {
		return &source.ResourceStatus{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &source.ResourceStatus{
		Exists:        true,
		IsPrivate:     repo.GetPrivate(),
		IsArchived:    repo.GetArchived(),
		FullName:      repo.GetFullName(),
		DefaultBranch: repo.GetDefaultBranch(),
	}, nil
}

// FetchSnapshot reads repository metadata and then fetches the activity
// lists concurrently. Any list failure fails the whole snapshot so that a
// partial snapshot is never stored.
func (c *Client) FetchSnapshot(ctx context.Context, owner, name string) (*model.Snapshot, error) {
	repo, err := c.getRepository(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	snap := &model.Snapshot{
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		FullName:      repo.GetFullName(),
		URL:           repo.GetHTMLURL(),
		DefaultBranch: repo.GetDefaultBranch(),
		Description:   repo.GetDescription(),
		Topics:        append([]string(nil), repo.Topics...),
		Stars:         repo.GetStargazersCount(),
		ForksCount:    repo.GetForksCount(),
		FetchedAt:     time.Now().UTC(),
	}
	if snap.Owner == "" {
		snap.Owner = owner
	}
	if snap.Name == "" {
		snap.Name = name
	}
	if snap.FullName == "" {
		snap.FullName = owner + "/" + name
	}
	if snap.URL == "" {
		snap.URL = "https://github.com/" + snap.FullName
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	g.Go(func() error { return c.fetchCommits(gctx, owner, name, snap) })
	g.Go(func() error { return c.fetchIssues(gctx, owner, name, snap) })
	g.Go(func() error { return c.fetchPullRequests(gctx, owner, name, snap) })
	g.Go(func() error { return c.fetchReleases(gctx, owner, name, snap) })
	g.Go(func() error { return c.fetchBranches(gctx, owner, name, snap) })
	g.Go(func() error { return c.fetchForks(gctx, owner, name, snap) })
	g.Go(func() error { return c.fetchContributors(gctx, owner, name, snap) })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *Client) fetchCommits(ctx context.Context, owner, name string, snap *model.Snapshot) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	commits, _, err := c.c.Repositories.ListCommits(ctx, owner, name, &github.CommitsListOptions{
		SHA:         snap.DefaultBranch,
		ListOptions: github.ListOptions{PerPage: c.perPage},
	})
	c.observe("list_commits", err)
	if isStatus(err, http.StatusConflict) {
		// Empty repository.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list commits: %w", err)
	}
	out := make([]model.Commit, 0, len(commits))
	for _, rc := range commits {
		out = append(out, model.Commit{
			SHA:         rc.GetSHA(),
			Message:     rc.GetCommit().GetMessage(),
			Author:      commitAuthor(rc),
			URL:         rc.GetHTMLURL(),
			CommittedAt: rc.GetCommit().GetAuthor().GetDate().Time.UTC(),
		})
	}
	snap.Commits = out
	return nil
}

func (c *Client) fetchIssues(ctx context.Context, owner, name string, snap *model.Snapshot) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	issues, _, err := c.c.Issues.ListByRepo(ctx, owner, name, &github.IssueListByRepoOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: c.perPage},
	})
	c.observe("list_issues", err)
	if err != nil {
		return fmt.Errorf("failed to list issues: %w", err)
	}
	out := make([]model.Issue, 0, len(issues))
	for _, is := range issues {
		if is.IsPullRequest() {
			continue
		}
		labels := make([]string, 0, len(is.Labels))
		for _, l := range is.Labels {
			labels = append(labels, l.GetName())
		}
		out = append(out, model.Issue{
			Number:    is.GetNumber(),
			Title:     is.GetTitle(),
			URL:       is.GetHTMLURL(),
			Author:    is.GetUser().GetLogin(),
			Labels:    labels,
			CreatedAt: is.GetCreatedAt().Time.UTC(),
		})
	}
	snap.Issues = out
	return nil
}

// fetchPullRequests lists open and closed PRs so that merges are visible.
func (c *Client) fetchPullRequests(ctx context.Context, owner, name string, snap *model.Snapshot) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	prs, _, err := c.c.PullRequests.List(ctx, owner, name, &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: c.perPage},
	})
	c.observe("list_pull_requests", err)
	if err != nil {
		return fmt.Errorf("failed to list pull requests: %w", err)
	}
	out := make([]model.PullRequest, 0, len(prs))
	for _, pr := range prs {
		p := model.PullRequest{
			Number:     pr.GetNumber(),
			Title:      pr.GetTitle(),
			URL:        pr.GetHTMLURL(),
			Author:     pr.GetUser().GetLogin(),
			State:      pr.GetState(),
			BaseBranch: pr.GetBase().GetRef(),
			HeadBranch: pr.GetHead().GetRef(),
			CreatedAt:  pr.GetCreatedAt().Time.UTC(),
		}
		if pr.MergedAt != nil {
			mergedAt := pr.MergedAt.Time.UTC()
			p.Merged = true
			p.MergedAt = &mergedAt
		}
		out = append(out, p)
	}
	snap.PullRequests = out
	return nil
}

func (c *Client) fetchReleases(ctx context.Context, owner, name string, snap *model.Snapshot) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	releases, _, err := c.c.Repositories.ListReleases(ctx, owner, name, &github.ListOptions{PerPage: c.perPage})
	c.observe("list_releases", err)
	if err != nil {
		return fmt.Errorf("failed to list releases: %w", err)
	}
	out := make([]model.Release, 0, len(releases))
	for _, r := range releases {
		if r.GetDraft() {
			continue
		}
		out = append(out, model.Release{
			TagName:     r.GetTagName(),
			Name:        r.GetName(),
			URL:         r.GetHTMLURL(),
			Author:      r.GetAuthor().GetLogin(),
			Prerelease:  r.GetPrerelease(),
			PublishedAt: r.GetPublishedAt().Time.UTC(),
		})
	}
	snap.Releases = out
	return nil
}

// fetchBranches lists branches and resolves the head commit date of up to
// maxBranches of them. Dates for heads already present in the commit list
// are not fetched again.
func (c *Client) fetchBranches(ctx context.Context, owner, name string, snap *model.Snapshot) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	branches, _, err := c.c.Repositories.ListBranches(ctx, owner, name, &github.BranchListOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	c.observe("list_branches", err)
	if err != nil {
		return fmt.Errorf("failed to list branches: %w", err)
	}

	out := make([]model.Branch, len(branches))
	for i, b := range branches {
		out[i] = model.Branch{Name: b.GetName(), HeadSHA: b.GetCommit().GetSHA()}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i := range out {
		if i >= c.maxBranches {
			break
		}
		if out[i].HeadSHA == "" {
			continue
		}
		g.Go(func() error {
			if err := c.wait(gctx); err != nil {
				return err
			}
			rc, _, err := c.c.Repositories.GetCommit(gctx, owner, name, out[i].HeadSHA, nil)
			c.observe("get_commit", err)
			if err != nil {
				// A missing date falls back to the fetch time downstream.
				c.log.Debug("failed to resolve branch head", "repo", owner+"/"+name, "branch", out[i].Name, "error", err.Error())
				return nil
			}
			mu.Lock()
			out[i].CommittedAt = rc.GetCommit().GetAuthor().GetDate().Time.UTC()
			out[i].Author = commitAuthor(rc)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	snap.Branches = out
	return nil
}

func (c *Client) fetchForks(ctx context.Context, owner, name string, snap *model.Snapshot) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	forks, _, err := c.c.Repositories.ListForks(ctx, owner, name, &github.RepositoryListForksOptions{
		Sort:        "newest",
		ListOptions: github.ListOptions{PerPage: c.perPage},
	})
	c.observe("list_forks", err)
	if err != nil {
		return fmt.Errorf("failed to list forks: %w", err)
	}
	out := make([]model.Fork, 0, len(forks))
	for _, f := range forks {
		out = append(out, model.Fork{
			FullName:  f.GetFullName(),
			Owner:     f.GetOwner().GetLogin(),
			URL:       f.GetHTMLURL(),
			CreatedAt: f.GetCreatedAt().Time.UTC(),
		})
	}
	snap.Forks = out
	return nil
}

func (c *Client) fetchContributors(ctx context.Context, owner, name string, snap *model.Snapshot) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	contributors, _, err := c.c.Repositories.ListContributors(ctx, owner, name, &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: c.perPage},
	})
	c.observe("list_contributors", err)
	if err != nil {
		return fmt.Errorf("failed to list contributors: %w", err)
	}
	out := make([]string, 0, len(contributors))
	for _, ct := range contributors {
		if login := ct.GetLogin(); login != "" {
			out = append(out, login)
		}
	}
	snap.Contributors = out
	return nil
}

func commitAuthor(rc *github.RepositoryCommit) string {
	if login := rc.GetAuthor().GetLogin(); login != "" {
		return login
	}
	return rc.GetCommit().GetAuthor().GetName()
}
