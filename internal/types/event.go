// Package types provides shared type definitions used across internal packages.
package types

import "encoding/json"

// Event represents a Nostr event (NIP-01)
type Event struct {
	ID         string     `json:"id"`
	PubKey     string     `json:"pubkey"`
	CreatedAt  int64      `json:"created_at"`
	Kind       int        `json:"kind"`
	Tags       [][]string `json:"tags"`
	Content    string     `json:"content"`
	Sig        string     `json:"sig"`
	RelaysSeen []string   `json:"-"`
}

// Filter represents a Nostr subscription filter (NIP-01)
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Limit   int
	Since   *int64
	Until   *int64
	ETags   []string // #e tag filter (event references)
	PTags   []string // #p tag filter (mentions)
	TTags   []string // #t tag filter (hashtags/topics)
	HTags   []string // #h tag filter (group/community markers)
	DTags   []string // #d tag filter (d-tag for addressable events)
}

// wireFilter is the canonical JSON shape for a filter. Fields with empty
// collections are omitted entirely so identical queries encode to identical
// bytes (stable URLs, cacheable server-side).
type wireFilter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Until   *int64   `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	ETags   []string `json:"#e,omitempty"`
	PTags   []string `json:"#p,omitempty"`
	TTags   []string `json:"#t,omitempty"`
	HTags   []string `json:"#h,omitempty"`
	DTags   []string `json:"#d,omitempty"`
}

// MarshalJSON encodes the filter in the canonical wire shape.
func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireFilter{
		IDs:     f.IDs,
		Authors: f.Authors,
		Kinds:   f.Kinds,
		Since:   f.Since,
		Until:   f.Until,
		Limit:   f.Limit,
		ETags:   f.ETags,
		PTags:   f.PTags,
		TTags:   f.TTags,
		HTags:   f.HTags,
		DTags:   f.DTags,
	})
}

// UnmarshalJSON decodes a filter from the canonical wire shape.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var w wireFilter
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*f = Filter{
		IDs:     w.IDs,
		Authors: w.Authors,
		Kinds:   w.Kinds,
		Since:   w.Since,
		Until:   w.Until,
		Limit:   w.Limit,
		ETags:   w.ETags,
		PTags:   w.PTags,
		TTags:   w.TTags,
		HTags:   w.HTags,
		DTags:   w.DTags,
	}
	return nil
}

// WireMap returns the filter as a map suitable for embedding in a REQ
// message, with the same omit-empty behavior as MarshalJSON.
func (f Filter) WireMap() map[string]interface{} {
	m := make(map[string]interface{})
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	if len(f.ETags) > 0 {
		m["#e"] = f.ETags
	}
	if len(f.PTags) > 0 {
		m["#p"] = f.PTags
	}
	if len(f.TTags) > 0 {
		m["#t"] = f.TTags
	}
	if len(f.HTags) > 0 {
		m["#h"] = f.HTags
	}
	if len(f.DTags) > 0 {
		m["#d"] = f.DTags
	}
	return m
}

// NostrMessage represents a raw Nostr protocol message
type NostrMessage []interface{}
