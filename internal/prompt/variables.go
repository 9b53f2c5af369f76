package prompt

import (
	"regexp"
	"strconv"
	"time"
)

// DefaultUserName is substituted for {{user}}
const DefaultUserName = "User"

var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}`)

// Variables returns the placeholder values for the instant now
func Variables(now time.Time) map[string]string {
	return map[string]string{
		"user":     DefaultUserName,
		"time":     now.Format("15:04"),
		"date":     now.Format("2006-01-02"),
		"datetime": now.Format("2006-01-02 15:04:05"),
		"year":     strconv.Itoa(now.Year()),
		"month":    strconv.Itoa(int(now.Month())),
		"day":      strconv.Itoa(now.Day()),
		"weekday":  now.Weekday().String(),
	}
}

// Substitute replaces known {{name}} placeholders and leaves the rest untouched
func Substitute(template string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}
