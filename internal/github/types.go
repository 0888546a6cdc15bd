package github

import "time"

// PullRequest represents a merged pull request from GitHub
type PullRequest struct {
	Number   int       `json:"number"`
	Title    string    `json:"title"`
	Body     string    `json:"body,omitempty"`
	Branch   string    `json:"branch"`
	MergedAt time.Time `json:"merged_at"`
	Commits  []Commit  `json:"commits,omitempty"`
}

// Commit represents a commit belonging to a pull request
type Commit struct {
	SHA        string    `json:"sha"`
	Message    string    `json:"message"`
	PRNumber   int       `json:"pr_number,omitempty"`
	AuthoredAt time.Time `json:"authored_at"`
}

// PRPage is one page of a merged-PR listing. Remaining carries the
// rate-limit quota reported by the upstream; -1 means unknown (cache hit).
type PRPage struct {
	Items     []PullRequest `json:"items"`
	NextPage  int           `json:"next_page"`
	Remaining int           `json:"-"`
}

// CommitPage is one page of a PR's commit listing
type CommitPage struct {
	Items     []Commit `json:"items"`
	NextPage  int      `json:"next_page"`
	Remaining int      `json:"-"`
}
