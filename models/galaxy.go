package models

// Galaxy is a cluster namespace with its own distribution level. A cluster
// can never travel further than its galaxy allows and vice versa: the pair's
// effective visibility is the minimum of the two decisions.
type Galaxy struct {
	UUID         string       `json:"uuid"`
	Name         string       `json:"name"`
	Namespace    string       `json:"namespace,omitempty"`
	Distribution Distribution `json:"distribution"`
}

type GalaxyCluster struct {
	UUID         string       `json:"uuid"`
	GalaxyUUID   string       `json:"galaxy_uuid"`
	Value        string       `json:"value"`
	Authors      []string     `json:"authors,omitempty"`
	Description  string       `json:"description,omitempty"`
	Distribution Distribution `json:"distribution"`
	Published    bool         `json:"published"`
	Locked       bool         `json:"locked"`
}

// ClusterAttachment binds a cluster to an event. Local attachments behave
// like local-only tags: internal links only.
type ClusterAttachment struct {
	ClusterUUID string `json:"cluster_uuid"`
	Local       bool   `json:"local,omitempty"`
}
