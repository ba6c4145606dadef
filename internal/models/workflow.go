// Package models defines the workflow and execution records kept in the
// local store and the wire shapes returned by the n8n API.
package models

import "strings"

// TagSeparator joins a workflow's tag list into its stored form.
const TagSeparator = ","

// Workflow is the locally cached view of an n8n workflow.
type Workflow struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	UpdatedAt           string  `json:"updated_at"`
	Tags                *string `json:"tags"`
	LastExecutionStatus *string `json:"last_execution_status"`
	LastExecutionTime   *string `json:"last_execution_time"`
	LastSyncTime        int64   `json:"last_sync_time"`
	Active              bool    `json:"active"`
	IsBookmarked        bool    `json:"is_bookmarked"`
}

// TagList splits the stored tag string back into individual tags.
func (w *Workflow) TagList() []string {
	if w.Tags == nil || *w.Tags == "" {
		return nil
	}
	return strings.Split(*w.Tags, TagSeparator)
}

// WorkflowDTO is the n8n API representation of a workflow.
type WorkflowDTO struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	UpdatedAt string       `json:"updatedAt"`
	Tags      []TagDTO     `json:"tags,omitempty"`
	Nodes     []NodeDTO    `json:"nodes,omitempty"`
	Triggers  []TriggerDTO `json:"triggers,omitempty"`
	Active    bool         `json:"active"`
}

type NodeDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Position []int  `json:"position,omitempty"`
}

type TriggerDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// WorkflowsResponse is the paginated envelope newer n8n versions return for
// the workflow list endpoint.
type WorkflowsResponse struct {
	Data       []WorkflowDTO `json:"data"`
	NextCursor *string       `json:"nextCursor,omitempty"`
}

// ToEntity maps the wire shape into a store record synced at syncTime
// (epoch millis). Bookmark and last-execution fields are left for the store
// to preserve.
func (d *WorkflowDTO) ToEntity(syncTime int64) Workflow {
	w := Workflow{
		ID:           d.ID,
		Name:         d.Name,
		Active:       d.Active,
		UpdatedAt:    d.UpdatedAt,
		LastSyncTime: syncTime,
	}
	if d.Tags != nil {
		names := make([]string, 0, len(d.Tags))
		for _, t := range d.Tags {
			names = append(names, t.Name)
		}
		joined := strings.Join(names, TagSeparator)
		w.Tags = &joined
	}
	return w
}
