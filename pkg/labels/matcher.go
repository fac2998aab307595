package labels

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// maxCachedPatterns bounds the compiled regexp cache.
const maxCachedPatterns = 256

// Matcher selects alerts by one label.
type Matcher struct {
	Name    string `json:"name" yaml:"name"`
	Value   string `json:"value" yaml:"value"`
	IsRegex bool   `json:"is_regex" yaml:"is_regex"`
}

// String renders the matcher in Prometheus selector notation.
func (m Matcher) String() string {
	op := "="
	if m.IsRegex {
		op = "=~"
	}
	return fmt.Sprintf("%s%s%q", m.Name, op, m.Value)
}

// Matches reports whether labels satisfy m. A missing label never matches.
// Regular expressions are unanchored; an expression that does not compile
// never matches.
func (m Matcher) Matches(labels map[string]string) bool {
	v, ok := labels[m.Name]
	if !ok {
		return false
	}
	if !m.IsRegex {
		return v == m.Value
	}
	re, err := compile(m.Value)
	if err != nil {
		return false
	}
	return re.MatchString(v)
}

// Validate returns an error for an unnamed matcher or an invalid regexp.
func (m Matcher) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("matcher: label name is required")
	}
	if m.IsRegex {
		if _, err := compile(m.Value); err != nil {
			return fmt.Errorf("matcher %s: %w", m.Name, err)
		}
	}
	return nil
}

// MatchAll reports whether every matcher matches labels.
// An empty matcher list matches everything.
func MatchAll(matchers []Matcher, labels map[string]string) bool {
	for _, m := range matchers {
		if !m.Matches(labels) {
			return false
		}
	}
	return true
}

type compiled struct {
	re  *regexp.Regexp
	err error
}

var (
	cacheMu sync.Mutex
	cache   = make(map[string]compiled)
)

// compile returns the cached compilation of pattern. Failed compilations
// are cached too so a bad matcher costs one compile, not one per tick.
func compile(pattern string) (*regexp.Regexp, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if c, ok := cache[pattern]; ok {
		return c.re, c.err
	}
	if len(cache) >= maxCachedPatterns {
		cache = make(map[string]compiled)
	}
	re, err := regexp.Compile(pattern)
	cache[pattern] = compiled{re: re, err: err}
	return re, err
}
