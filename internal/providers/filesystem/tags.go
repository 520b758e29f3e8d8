package filesystem

import (
	"strconv"
	"strings"

	"github.com/dhowden/tag"
)

// rawText finds a free-form tag by name. Vorbis comments use the name as
// the key, ID3v2 keeps it in a TXXX description and MP4 in a "----" atom
// whose key ends with the name.
func rawText(raw map[string]any, name string) (string, bool) {
	for k, v := range raw {
		switch val := v.(type) {
		case *tag.Comm:
			if strings.EqualFold(val.Description, name) {
				return val.Text, true
			}
		case string:
			if keyMatches(k, name) {
				return val, true
			}
		case []string:
			if keyMatches(k, name) && len(val) > 0 {
				return val[0], true
			}
		case []byte:
			if keyMatches(k, name) {
				return string(val), true
			}
		case int:
			if keyMatches(k, name) {
				return strconv.Itoa(val), true
			}
		}
	}
	return "", false
}

func keyMatches(key, name string) bool {
	key = strings.ToLower(key)
	name = strings.ToLower(name)
	return key == name || strings.HasSuffix(key, ":"+name)
}

// loudnessFromRaw reads the ReplayGain track gain. A track that needs -6 dB
// of gain is 6 dB louder than the reference.
func loudnessFromRaw(raw map[string]any) *float64 {
	text, ok := rawText(raw, "replaygain_track_gain")
	if !ok {
		return nil
	}
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return nil
	}
	gain, err := strconv.ParseFloat(strings.TrimPrefix(fields[0], "+"), 64)
	if err != nil {
		return nil
	}
	loudness := -gain
	return &loudness
}

// explicitFromRaw reads the iTunes advisory rating; 1 and 4 mark explicit
// content.
func explicitFromRaw(raw map[string]any) bool {
	for _, name := range []string{"itunesadvisory", "rtng"} {
		text, ok := rawText(raw, name)
		if !ok {
			continue
		}
		switch strings.TrimSpace(text) {
		case "1", "4", "\x01", "\x04":
			return true
		}
	}
	return false
}
