package origin

import (
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var maxAgePattern = regexp.MustCompile(`(?i)max-age=(\d+)`)

// maxAgeSeconds caps max-age so the resulting time.Duration cannot overflow.
const maxAgeSeconds = math.MaxInt64 / int64(time.Second)

// MaxAge extracts the max-age directive from a Cache-Control value.
func MaxAge(cacheControl string) (time.Duration, bool) {
	m := maxAgePattern.FindStringSubmatch(cacheControl)
	if m == nil {
		return 0, false
	}
	seconds, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || seconds > maxAgeSeconds {
		seconds = maxAgeSeconds
	}
	return time.Duration(seconds) * time.Second, true
}

// ValidUntil computes the freshness deadline of a response received at now.
// With respectCacheControl set, a max-age directive in header wins over
// defaultTTL.
func ValidUntil(header http.Header, now time.Time, defaultTTL time.Duration, respectCacheControl bool) time.Time {
	if respectCacheControl {
		if maxAge, ok := MaxAge(strings.Join(header.Values("Cache-Control"), ", ")); ok {
			return now.Add(maxAge)
		}
	}
	return now.Add(defaultTTL)
}
