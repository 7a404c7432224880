package content

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

// MaxCaptionRunes is Telegram's limit for media captions.
const MaxCaptionRunes = 1024

var videoAttrRE = regexp.MustCompile(`data-video-mp4="(.*?)"`)

// ExtractVideoURLs returns every data-video-mp4 attribute value in html, in
// document order. Duplicates are kept: each match is a separate media item.
func ExtractVideoURLs(layout string) []string {
	matches := videoAttrRE.FindAllStringSubmatch(layout, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// CommentMediaURL builds the mp4 URL the media CDN serves for an uploaded
// attachment.
func CommentMediaURL(base, uuid string) string {
	return strings.TrimRight(base, "/") + "/" + uuid + "/-/format/mp4/"
}

var captionPolicy = bluemonday.StrictPolicy()

// CleanCaption strips markup from s, unescapes entities, normalizes to NFC,
// collapses blank runs and clips to MaxCaptionRunes.
func CleanCaption(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(captionPolicy.Sanitize(s))
	s = norm.NFC.String(s)

	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		if t := strings.Join(strings.Fields(ln), " "); t != "" {
			out = append(out, t)
		}
	}
	s = strings.Join(out, "\n")

	if utf8.RuneCountInString(s) > MaxCaptionRunes {
		s = string([]rune(s)[:MaxCaptionRunes])
	}
	return s
}
