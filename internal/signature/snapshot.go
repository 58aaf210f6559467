package signature

import (
	"sort"

	"github.com/jwalitptl/repo-tracker/internal/model"
)

// Compute hashes every snapshot field a detection rule inspects. Two
// snapshots with equal signatures are treated as "nothing happened", so a
// field a rule reads but this function skips is a field whose changes are
// never detected.
//
// Collections with no meaningful order are sorted before hashing so that
// upstream pagination order does not churn the signature.
func Compute(s *model.Snapshot) (string, error) {
	if s == nil {
		return "", nil
	}

	issues := make([]model.Issue, len(s.Issues))
	copy(issues, s.Issues)
	sort.Slice(issues, func(i, j int) bool { return issues[i].Number < issues[j].Number })
	issueList := make([]interface{}, 0, len(issues))
	for _, is := range issues {
		issueList = append(issueList, map[string]interface{}{
			"number":     is.Number,
			"labels":     sortedCopy(is.Labels),
			"created_at": is.CreatedAt,
		})
	}

	prs := make([]model.PullRequest, len(s.PullRequests))
	copy(prs, s.PullRequests)
	sort.Slice(prs, func(i, j int) bool { return prs[i].Number < prs[j].Number })
	prList := make([]interface{}, 0, len(prs))
	for _, pr := range prs {
		var mergedAt interface{}
		if pr.MergedAt != nil {
			mergedAt = *pr.MergedAt
		}
		prList = append(prList, map[string]interface{}{
			"number":     pr.Number,
			"state":      pr.State,
			"merged":     pr.Merged,
			"merged_at":  mergedAt,
			"base":       pr.BaseBranch,
			"created_at": pr.CreatedAt,
		})
	}

	releases := make([]model.Release, len(s.Releases))
	copy(releases, s.Releases)
	sort.Slice(releases, func(i, j int) bool { return releases[i].TagName < releases[j].TagName })
	releaseList := make([]interface{}, 0, len(releases))
	for _, r := range releases {
		releaseList = append(releaseList, map[string]interface{}{
			"tag":        r.TagName,
			"prerelease": r.Prerelease,
		})
	}

	forks := make([]string, 0, len(s.Forks))
	for _, f := range s.Forks {
		forks = append(forks, f.FullName)
	}

	return Hash(map[string]interface{}{
		"repo":           s.FullName,
		"default_branch": s.DefaultBranch,
		"description":    s.Description,
		"topics":         sortedCopy(s.Topics),
		"stars":          s.Stars,
		"forks_count":    s.ForksCount,
		"issues":         issueList,
		"pull_requests":  prList,
		"releases":       releaseList,
		"branches":       sortedCopy(s.BranchNames()),
		"forks":          sortedCopy(forks),
		"contributors":   sortedCopy(s.Contributors),
	})
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
