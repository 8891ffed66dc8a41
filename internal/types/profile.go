package types

import "encoding/json"

// ProfileInfo contains user profile metadata (kind 0)
type ProfileInfo struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
	About       string `json:"about,omitempty"`
	Banner      string `json:"banner,omitempty"`
	Lud16       string `json:"lud16,omitempty"`
	Lud06       string `json:"lud06,omitempty"`
	Website     string `json:"website,omitempty"`
}

// ParseProfile parses the content of a kind 0 event into ProfileInfo.
// Returns nil if the content is not valid profile JSON.
func ParseProfile(content string) *ProfileInfo {
	var p ProfileInfo
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil
	}
	return &p
}
