package services

import (
	"context"
	"fmt"
	urlpkg "net/url"
	"regexp"
	"strings"

	yt "github.com/kkdai/youtube/v2"
)

var youtubeIDPattern = regexp.MustCompile(`(?:v=|\/v\/|youtu\.be\/|embed\/|shorts\/)([a-zA-Z0-9_-]{11})`)

// ExtractVideoID pulls the 11-character video id out of a YouTube reference.
// A bare id is accepted as is.
func ExtractVideoID(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if len(ref) == 11 && !strings.ContainsAny(ref, "/.:?=") {
		return ref, true
	}

	parsed, err := urlpkg.Parse(ref)
	if err == nil {
		host := strings.ToLower(parsed.Host)
		path := strings.Trim(parsed.Path, "/")

		if strings.Contains(host, "youtube.com") {
			if v := parsed.Query().Get("v"); len(v) == 11 {
				return v, true
			}
			parts := strings.Split(path, "/")
			if len(parts) >= 2 {
				switch parts[0] {
				case "shorts", "embed", "v":
					if len(parts[1]) == 11 {
						return parts[1], true
					}
				}
			}
		}

		if strings.Contains(host, "youtu.be") {
			if candidate := strings.Split(path, "/")[0]; len(candidate) == 11 {
				return candidate, true
			}
		}
	}

	if m := youtubeIDPattern.FindStringSubmatch(ref); len(m) > 1 {
		return m[1], true
	}
	return "", false
}

// YouTubeDurationResolver looks up the length of YouTube-hosted lessons.
type YouTubeDurationResolver struct {
	client *yt.Client
}

func NewYouTubeDurationResolver() *YouTubeDurationResolver {
	return &YouTubeDurationResolver{client: &yt.Client{}}
}

// Resolve returns the video length in seconds.
func (r *YouTubeDurationResolver) Resolve(ctx context.Context, ref string) (float64, error) {
	id, ok := ExtractVideoID(ref)
	if !ok {
		return 0, fmt.Errorf("not a YouTube reference: %q", ref)
	}

	video, err := r.client.GetVideoContext(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch YouTube video metadata: %w", err)
	}
	if video.Duration <= 0 {
		return 0, fmt.Errorf("YouTube reports no duration for %s", id)
	}
	return video.Duration.Seconds(), nil
}
