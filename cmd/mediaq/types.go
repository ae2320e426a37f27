package main

import "time"

type clipView struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type jobView struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Format     string     `json:"format"`
	Quality    string     `json:"quality"`
	Container  string     `json:"container"`
	Clip       *clipView  `json:"clip,omitempty"`
	Status     string     `json:"status"`
	Progress   float64    `json:"progress"`
	Error      string     `json:"error"`
	Filename   string     `json:"filename"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt"`
}

type batchItem struct {
	URL       string `json:"url"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
	Format    string `json:"format"`
	Quality   string `json:"quality,omitempty"`
}

type batchView struct {
	ID         string     `json:"jobId"`
	Status     string     `json:"status"`
	Progress   float64    `json:"progress"`
	Error      string     `json:"error"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt"`
}

type qualityView struct {
	Value     string `json:"value"`
	Label     string `json:"label"`
	Height    int    `json:"height"`
	Container string `json:"container"`
	HasAudio  bool   `json:"hasAudio"`
}

type listingView struct {
	Qualities []qualityView `json:"qualities"`
	Thumbnail string        `json:"thumbnail"`
	Title     string        `json:"title"`
	Duration  float64       `json:"duration"`
	Fallback  bool          `json:"fallback"`
}

type playlistItemView struct {
	VideoID     string `json:"videoId"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Position    int    `json:"position"`
	PublishedAt string `json:"publishedAt"`
}

type playlistPageView struct {
	Items         []playlistItemView `json:"items"`
	NextPageToken string             `json:"nextPageToken"`
	TotalResults  int                `json:"totalResults"`
}
