package models

// TagDefinition is the global tag record. LocalOnly is a property of the
// definition, not of any attachment: a local-only tag never crosses a
// standard link no matter what the carrying event's distribution is, but it
// does cross links marked internal.
type TagDefinition struct {
	Name      string `json:"name"`
	Colour    string `json:"colour,omitempty"`
	LocalOnly bool   `json:"local_only,omitempty"`
}

// TagAttachment binds a tag definition to an event by name.
type TagAttachment struct {
	Name string `json:"name"`
}
