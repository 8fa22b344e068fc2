package audit

import "time"

// TimelineFilters narrows a denial timeline query. Empty strings match any
// value; zero times leave the window open on that side.
type TimelineFilters struct {
	From      time.Time
	To        time.Time
	Principal string
	Tenant    string
	Resource  string
	Action    string
	Page      int
	PageSize  int
}

// PagingInfo describes one page of a timeline.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result is one page of recorded denials, newest first.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
