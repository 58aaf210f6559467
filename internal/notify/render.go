package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/jwalitptl/repo-tracker/internal/model"
)

var kindLabels = map[model.EventKind]string{
	model.EventMergeToDefault: "Merged to default branch",
	model.EventPRMerged:       "Pull request merged",
	model.EventNewBranch:      "New branch",
	model.EventNewIssue:       "New issue",
	model.EventNewPR:          "New pull request",
	model.EventNewRelease:     "New release",
	model.EventNewPreRelease:  "New pre-release",
	model.EventNewFork:        "New fork",
	model.EventStarsMilestone: "Stars milestone",
}

// KindLabel returns a human label for k.
func KindLabel(k model.EventKind) string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return string(k)
}

var funcs = map[string]interface{}{
	"label": KindLabel,
	"date":  func(e model.DetectedEvent) string { return e.Timestamp.UTC().Format("2006-01-02 15:04 MST") },
}

var textTmpl = texttemplate.Must(texttemplate.New("text").Funcs(funcs).Parse(
	`Activity on {{.Job.RepoName}}
{{range .Job.Events}}
- [{{label .Kind}}] {{.Title}}
  by {{.Author}} at {{date .}}
  {{.URL}}
{{end}}{{if .ManageURL}}
Manage your trackers: {{.ManageURL}}
{{end}}`))

var htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Funcs(funcs).Parse(
	`<h2>Activity on {{.Job.RepoName}}</h2>
<ul>
{{range .Job.Events}}<li><strong>{{label .Kind}}</strong>: <a href="{{.URL}}">{{.Title}}</a><br><small>by {{.Author}} at {{date .}}</small></li>
{{end}}</ul>
{{if .ManageURL}}<p><a href="{{.ManageURL}}">Manage your trackers</a></p>{{end}}`))

// Render builds the subject and both bodies for job. manageURL may be empty.
func Render(job *model.NotificationJob, manageURL string) (subject, text, html string, err error) {
	switch len(job.Events) {
	case 0:
		return "", "", "", fmt.Errorf("job %s has no events", job.ID)
	case 1:
		subject = fmt.Sprintf("[%s] %s", job.RepoName, job.Events[0].Title)
	default:
		subject = fmt.Sprintf("[%s] %d new events", job.RepoName, len(job.Events))
	}

	data := struct {
		Job       *model.NotificationJob
		ManageURL string
	}{job, manageURL}

	var tb, hb bytes.Buffer
	if err := textTmpl.Execute(&tb, data); err != nil {
		return "", "", "", fmt.Errorf("failed to render text body: %w", err)
	}
	if err := htmlTmpl.Execute(&hb, data); err != nil {
		return "", "", "", fmt.Errorf("failed to render html body: %w", err)
	}
	return subject, strings.TrimSpace(tb.String()) + "\n", hb.String(), nil
}
