package models

import "encoding/json"

// TagDTO accepts both plain string tags and n8n's {"id","name"} objects.
type TagDTO struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

func (t *TagDTO) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		t.Name = name
		return nil
	}

	type plain TagDTO
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = TagDTO(p)
	return nil
}
