package pr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marcin-skalski/prwatch/internal/status"
)

// Category says why an item shows up in the list.
type Category string

const (
	CategoryAuthored        Category = "authored"
	CategoryReviewRequested Category = "review_requested"
)

type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Item is one open pull request as seen during a single poll cycle.
// Items are rebuilt from scratch every cycle; only Status and Watched are
// overlaid before publishing.
type Item struct {
	Repo      string    `json:"repo"` // owner/name
	RepoName  string    `json:"repo_name"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Author    string    `json:"author"`
	Branch    string    `json:"branch,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Labels    []Label   `json:"labels,omitempty"`
	Category  Category  `json:"category"`
	IsDraft   bool      `json:"is_draft"`

	Status  status.BuildStatus `json:"status"`
	Watched bool               `json:"watched"`
}

// ID returns the item's identity key, "owner/name#number".
func (i Item) ID() string {
	return Key(i.Repo, i.Number)
}

func Key(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}

// ParseKey splits "owner/name#number" back into its parts.
func ParseKey(key string) (string, int, error) {
	idx := strings.LastIndexByte(key, '#')
	if idx <= 0 || idx == len(key)-1 {
		return "", 0, fmt.Errorf("invalid item key %q", key)
	}
	n, err := strconv.Atoi(key[idx+1:])
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("invalid item number in %q", key)
	}
	return key[:idx], n, nil
}
