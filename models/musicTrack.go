package models

import (
	"os"
	"strings"
)

// MusicTrack is a background-music option for video output. Files are served
// from the app's own static assets, not from cloud storage.
type MusicTrack struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Filename string `json:"filename"`
}

var musicTracks = []MusicTrack{
	{ID: "upbeat", Name: "Upbeat Energy", Filename: "upbeat-energy.mp3"},
	{ID: "chill", Name: "Chill Vibes", Filename: "chill-vibes.mp3"},
	{ID: "cinematic", Name: "Cinematic Rise", Filename: "cinematic-rise.mp3"},
	{ID: "ambient", Name: "Soft Ambient", Filename: "soft-ambient.mp3"},
}

func GetMusicTracks() []MusicTrack {
	return musicTracks
}

func GetMusicTrack(id string) (*MusicTrack, bool) {
	for i := range musicTracks {
		if musicTracks[i].ID == id {
			return &musicTracks[i], true
		}
	}
	return nil, false
}

// MusicURL returns the absolute URL the workflow engine downloads the track
// from; empty when the track id is unknown.
func MusicURL(trackId string) string {
	track, ok := GetMusicTrack(trackId)
	if !ok {
		return ""
	}
	base := strings.TrimRight(os.Getenv("APP_BASE_URL"), "/")
	if base == "" {
		return ""
	}
	return base + "/music/" + track.Filename
}
