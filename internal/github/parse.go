package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/status"
)

var ErrParse = errors.New("parse gh output")

type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}

// Layouts tried in order when decoding timestamps. gh emits either form
// depending on the endpoint.
var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05 -0700 MST",
}

type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("timestamp %s is not a string", b)
	}
	if s == "" {
		return nil
	}
	parsed, err := parseTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

type rawItem struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Repository struct {
		Name          string `json:"name"`
		NameWithOwner string `json:"nameWithOwner"`
	} `json:"repository"`
	Author struct {
		Login string `json:"login"`
	} `json:"author"`
	UpdatedAt flexTime `json:"updatedAt"`
	Labels    []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Color string `json:"color"`
	} `json:"labels"`
	IsDraft bool `json:"isDraft"`
}

// ParseItems decodes the output of a `gh search prs --json` call.
func ParseItems(data []byte, category pr.Category) ([]pr.Item, error) {
	var raw []rawItem
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{What: "pull request list", Err: err}
	}

	items := make([]pr.Item, 0, len(raw))
	for _, r := range raw {
		item := pr.Item{
			Repo:      r.Repository.NameWithOwner,
			RepoName:  r.Repository.Name,
			Number:    r.Number,
			Title:     r.Title,
			URL:       r.URL,
			Author:    r.Author.Login,
			UpdatedAt: r.UpdatedAt.Time,
			Category:  category,
			IsDraft:   r.IsDraft,
			Status:    status.Unknown,
		}
		if item.RepoName == "" {
			_, item.RepoName, _ = strings.Cut(item.Repo, "/")
		}
		for _, l := range r.Labels {
			item.Labels = append(item.Labels, pr.Label{ID: l.ID, Name: l.Name, Color: l.Color})
		}
		items = append(items, item)
	}
	return items, nil
}

// Check kinds, used to keep check-run and status-context ids apart.
const (
	kindRun     = "run"
	kindContext = "context"
)

type Check struct {
	// ID is "kind:name" and stays stable across polls.
	ID         string
	Name       string
	Status     string
	State      string
	Conclusion string
}

// Detail is the per-pull-request data needed for classification.
type Detail struct {
	HeadRefName      string
	Checks           []Check
	Mergeable        string
	MergeStateStatus string
	ReviewDecision   string
}

// Signals converts the detail checks into classifier input.
func (d Detail) Signals() []status.Check {
	out := make([]status.Check, 0, len(d.Checks))
	for _, c := range d.Checks {
		out = append(out, status.Check{
			Name:       c.Name,
			Conclusion: c.Conclusion,
			State:      c.State,
			Status:     c.Status,
		})
	}
	return out
}

type rawCheck struct {
	TypeName   string `json:"__typename"`
	Name       string `json:"name"`
	Context    string `json:"context"`
	Status     string `json:"status"`
	State      string `json:"state"`
	Conclusion string `json:"conclusion"`
}

type rawDetail struct {
	HeadRefName       string     `json:"headRefName"`
	StatusCheckRollup []rawCheck `json:"statusCheckRollup"`
	Mergeable         string     `json:"mergeable"`
	MergeStateStatus  string     `json:"mergeStateStatus"`
	ReviewDecision    string     `json:"reviewDecision"`
}

// ParseDetail decodes the output of a `gh pr view --json` call.
func ParseDetail(data []byte) (Detail, error) {
	var raw rawDetail
	if err := json.Unmarshal(data, &raw); err != nil {
		return Detail{}, &ParseError{What: "pull request detail", Err: err}
	}

	d := Detail{
		HeadRefName:      raw.HeadRefName,
		Mergeable:        strings.ToUpper(raw.Mergeable),
		MergeStateStatus: strings.ToUpper(raw.MergeStateStatus),
		ReviewDecision:   strings.ToUpper(raw.ReviewDecision),
		Checks:           make([]Check, 0, len(raw.StatusCheckRollup)),
	}
	for _, rc := range raw.StatusCheckRollup {
		kind, name := checkIdentity(rc)
		d.Checks = append(d.Checks, Check{
			ID:         kind + ":" + name,
			Name:       name,
			Status:     strings.ToUpper(rc.Status),
			State:      strings.ToUpper(rc.State),
			Conclusion: strings.ToUpper(rc.Conclusion),
		})
	}
	return d, nil
}

func checkIdentity(rc rawCheck) (string, string) {
	switch rc.TypeName {
	case "CheckRun":
		return kindRun, rc.Name
	case "StatusContext":
		return kindContext, rc.Context
	}
	if rc.Name != "" {
		return kindRun, rc.Name
	}
	return kindContext, rc.Context
}
