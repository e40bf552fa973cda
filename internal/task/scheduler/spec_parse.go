package scheduler

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MinInterval is the shortest recurring interval accepted.
const MinInterval = time.Second

// ParsedInterval is a parsed recurring interval.
//
// Supported forms:
//   - Go duration: "6h", "90m", "2h30m"
//   - Days: "1d", "7d"
//   - HH:MM: "02:30" (2 hours 30 minutes)
//   - Aliases: "hourly", "daily", "weekly"
//
// Optional prefixes "@every ", "every:" and "interval:" are accepted and ignored.
// Cron expressions are rejected: recurring jobs are interval-driven.
type ParsedInterval struct {
	Every  time.Duration
	Source string // "alias" | "duration" | "days" | "hhmm"
}

var (
	reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reDays = regexp.MustCompile(`^(\d{1,4})d$`)
)

// ParseInterval parses a recurring interval string.
func ParseInterval(raw string) (ParsedInterval, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedInterval{}, fmt.Errorf("interval required")
	}
	low := strings.ToLower(s)
	for _, p := range []string{"@every ", "every:", "interval:"} {
		if strings.HasPrefix(low, p) {
			low = strings.TrimSpace(low[len(p):])
			break
		}
	}
	if low == "" {
		return ParsedInterval{}, fmt.Errorf("interval required")
	}

	switch low {
	case "hourly":
		return ParsedInterval{Every: time.Hour, Source: "alias"}, nil
	case "daily":
		return ParsedInterval{Every: 24 * time.Hour, Source: "alias"}, nil
	case "weekly":
		return ParsedInterval{Every: 7 * 24 * time.Hour, Source: "alias"}, nil
	}

	if strings.ContainsAny(low, " \t*") || strings.HasPrefix(low, "@") {
		return ParsedInterval{}, fmt.Errorf("invalid interval %q: cron expressions are not supported", raw)
	}

	if m := reDays.FindStringSubmatch(low); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return ParsedInterval{}, fmt.Errorf("invalid interval %q", raw)
		}
		return ParsedInterval{Every: time.Duration(n) * 24 * time.Hour, Source: "days"}, nil
	}

	if reHHMM.MatchString(low) {
		d, err := parseHHMMDuration(low)
		if err != nil {
			return ParsedInterval{}, err
		}
		return ParsedInterval{Every: d, Source: "hhmm"}, nil
	}

	d, err := time.ParseDuration(low)
	if err != nil {
		return ParsedInterval{}, fmt.Errorf("invalid interval %q (use a duration like '6h', days like '7d', HH:MM, or daily/weekly)", raw)
	}
	if d < MinInterval {
		return ParsedInterval{}, fmt.Errorf("interval must be >= %s", MinInterval)
	}
	return ParsedInterval{Every: d, Source: "duration"}, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// NextAfter returns the first fire time one interval after base, truncated to
// whole seconds.
func NextAfter(base time.Time, every time.Duration) time.Time {
	if every < MinInterval {
		every = MinInterval
	}
	return cron.Every(every).Next(base)
}

// SpreadFirst delays a first firing by a random amount below maxSpread so
// jobs sharing an interval don't fire together.
func SpreadFirst(first time.Time, maxSpread time.Duration) time.Time {
	if maxSpread <= 0 {
		return first
	}
	return first.Add(rand.N(maxSpread))
}
