package models

import "fmt"

// Problem is the payload returned by the problem selector. The engine treats it as opaque
// apart from ID, which feeds the per-tournament exclusion set.
type Problem struct {
	ContestID int      `json:"contest_id"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Rating    int      `json:"rating"`
	Tags      []string `json:"tags,omitempty"`
}

func (p Problem) ID() string {
	return fmt.Sprintf("%d%s", p.ContestID, p.Index)
}
