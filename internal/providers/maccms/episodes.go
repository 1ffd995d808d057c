package maccms

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	groupSeparator = "$$$"
	entrySeparator = "#"
	labelSeparator = "$"
	playlistSuffix = ".m3u8"
)

var freeTextPlaylistPattern = regexp.MustCompile(`(https?://[^"'\s]+?\.m3u8)`)

// ParseEpisodes extracts playable segments from a vod_play_url field. The
// field holds alternate groups separated by "$$$", each a "#"-separated list
// of "label$url" entries; the group with the most .m3u8 entries wins. When no
// group yields anything, absolute .m3u8 links found in fallback are used and
// labelled by position.
//
// The returned slices are never nil and always have the same length.
func ParseEpisodes(playURL, fallback string) (episodes []string, titles []string) {
	episodes = []string{}
	titles = []string{}

	if playURL != "" {
		for _, group := range strings.Split(playURL, groupSeparator) {
			groupEpisodes, groupTitles := parseGroup(group)
			if len(groupEpisodes) > len(episodes) {
				episodes = groupEpisodes
				titles = groupTitles
			}
		}
	}

	if len(episodes) == 0 && fallback != "" {
		if links := freeTextPlaylistPattern.FindAllString(fallback, -1); len(links) > 0 {
			episodes = links
			titles = numberedTitles(len(links))
		}
	}
	return episodes, titles
}

func parseGroup(group string) ([]string, []string) {
	var episodes, titles []string
	for _, entry := range strings.Split(group, entrySeparator) {
		parts := strings.Split(entry, labelSeparator)
		if len(parts) < 2 {
			continue
		}
		label, link := parts[0], parts[1]
		if !strings.HasSuffix(link, playlistSuffix) {
			continue
		}
		titles = append(titles, label)
		episodes = append(episodes, link)
	}
	return episodes, titles
}

func numberedTitles(count int) []string {
	titles := make([]string, count)
	for i := range titles {
		titles[i] = strconv.Itoa(i + 1)
	}
	return titles
}
