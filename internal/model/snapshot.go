package model

import "time"

// Snapshot is the full fetched state of a repository at one poll.
type Snapshot struct {
	Owner         string        `json:"owner"`
	Name          string        `json:"name"`
	FullName      string        `json:"full_name"`
	URL           string        `json:"url"`
	DefaultBranch string        `json:"default_branch"`
	Description   string        `json:"description"`
	Topics        []string      `json:"topics"`
	Stars         int           `json:"stars"`
	ForksCount    int           `json:"forks_count"`
	Commits       []Commit      `json:"commits"`
	Issues        []Issue       `json:"issues"`
	PullRequests  []PullRequest `json:"pull_requests"`
	Releases      []Release     `json:"releases"`
	Branches      []Branch      `json:"branches"`
	Forks         []Fork        `json:"forks"`
	Contributors  []string      `json:"contributors"`
	FetchedAt     time.Time     `json:"fetched_at"`
}

type Commit struct {
	SHA         string    `json:"sha"`
	Message     string    `json:"message"`
	Author      string    `json:"author"`
	URL         string    `json:"url"`
	CommittedAt time.Time `json:"committed_at"`
}

type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Author    string    `json:"author"`
	Labels    []string  `json:"labels"`
	CreatedAt time.Time `json:"created_at"`
}

type PullRequest struct {
	Number     int        `json:"number"`
	Title      string     `json:"title"`
	URL        string     `json:"url"`
	Author     string     `json:"author"`
	State      string     `json:"state"`
	BaseBranch string     `json:"base_branch"`
	HeadBranch string     `json:"head_branch"`
	Merged     bool       `json:"merged"`
	MergedAt   *time.Time `json:"merged_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Author      string    `json:"author"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
}

type Branch struct {
	Name        string    `json:"name"`
	HeadSHA     string    `json:"head_sha"`
	CommittedAt time.Time `json:"committed_at"`
	Author      string    `json:"author"`
}

type Fork struct {
	FullName  string    `json:"full_name"`
	Owner     string    `json:"owner"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// BranchNames returns branch names in snapshot order.
func (s *Snapshot) BranchNames() []string {
	names := make([]string, 0, len(s.Branches))
	for _, b := range s.Branches {
		names = append(names, b.Name)
	}
	return names
}

// ReleaseTags returns the set of release tags.
func (s *Snapshot) ReleaseTags() map[string]struct{} {
	tags := make(map[string]struct{}, len(s.Releases))
	for _, r := range s.Releases {
		tags[r.TagName] = struct{}{}
	}
	return tags
}
