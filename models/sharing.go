package models

// SharingGroup restricts a level-4 artifact to an explicit member list.
// Membership is organisation based: a node sees the artifact iff its
// organisation is in OrgIDs, regardless of link topology.
type SharingGroup struct {
	UUID   string   `json:"uuid"`
	Name   string   `json:"name"`
	OrgIDs []string `json:"org_ids"`
}

func (g *SharingGroup) HasOrg(orgID string) bool {
	for _, id := range g.OrgIDs {
		if id == orgID {
			return true
		}
	}
	return false
}
