package timeparsing

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseNaturalLanguage reads English expressions like "tomorrow", "next
// friday" or "in 2 weeks". The whole input must be a time expression.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	r, err := parser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if r == nil || !strings.EqualFold(strings.TrimSpace(r.Text), s) {
		return time.Time{}, fmt.Errorf("not a natural-language time: %q", s)
	}
	return r.Time, nil
}
