// Package predict maps a natural-language query to a set of glob patterns
// likely to contain relevant files, so canopy can scope the initial index
// of a large repo instead of walking the whole tree on first query.
package predict

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/surgebase/porter2"
)

// keywordGroup maps a set of query keywords to the directory globs they
// suggest. Grounded on the keyword→pattern table canopy's predecessor used
// for the same purpose.
type keywordGroup struct {
	keywords []string
	patterns []string
}

var keywordGroups = []keywordGroup{
	{
		keywords: []string{"auth", "authenticate", "login", "logout", "session", "jwt", "oauth", "password", "credential"},
		patterns: []string{"**/auth/**", "**/login/**", "**/session/**", "**/authentication/**"},
	},
	{
		keywords: []string{"database", "db", "query", "sql", "orm", "repository", "migration"},
		patterns: []string{"**/db/**", "**/database/**", "**/repositories/**", "**/repo/**"},
	},
	{
		keywords: []string{"api", "endpoint", "route", "controller", "handler", "rest", "graphql"},
		patterns: []string{"**/api/**", "**/routes/**", "**/controllers/**", "**/handlers/**", "**/endpoints/**"},
	},
	{
		keywords: []string{"config", "configuration", "env", "settings", "options"},
		patterns: []string{"**/config/**", "**/settings/**", "**/conf/**"},
	},
	{
		keywords: []string{"middleware", "interceptor", "filter", "guard"},
		patterns: []string{"**/middleware/**", "**/middlewares/**", "**/interceptors/**", "**/guards/**"},
	},
	{
		keywords: []string{"workflow", "execution", "engine", "runner", "worker", "job", "queue"},
		patterns: []string{"**/workflow/**", "**/workflows/**", "**/execution/**", "**/engine/**", "**/workers/**", "**/jobs/**"},
	},
	{
		keywords: []string{"core", "shared", "common", "util", "helper", "lib"},
		patterns: []string{"**/core/**", "**/shared/**", "**/common/**", "**/utils/**", "**/lib/**"},
	},
	{
		keywords: []string{"service"},
		patterns: []string{"**/services/**", "**/service/**"},
	},
}

var entryPointNames = []string{"main", "index", "app", "server"}

// PredictGlobs derives candidate globs from query's keywords, combined
// with extensions (without leading dots). If no keyword group matches, it
// falls back to src/** and packages/** so a query about an unfamiliar
// domain still scopes to conventional source roots instead of the whole
// tree. Entry-point files (main/index/app/server) are always included
// since they're disproportionately likely to be relevant regardless of
// the query's subject.
func PredictGlobs(query string, extensions []string) []string {
	stems := stemWords(query)

	var globs []string
	matchedAny := false
	for _, group := range keywordGroups {
		if groupMatches(group, stems) {
			matchedAny = true
			for _, pattern := range group.patterns {
				for _, ext := range extensions {
					globs = append(globs, fmt.Sprintf("%s/*.%s", pattern, ext))
				}
			}
		}
	}

	for _, ext := range extensions {
		for _, name := range entryPointNames {
			globs = append(globs, fmt.Sprintf("**/%s.%s", name, ext))
		}
	}

	if !matchedAny {
		for _, ext := range extensions {
			globs = append(globs, fmt.Sprintf("src/**/*.%s", ext))
			globs = append(globs, fmt.Sprintf("packages/**/*.%s", ext))
		}
	}

	return dedupe(globs)
}

func groupMatches(group keywordGroup, stems map[string]bool) bool {
	for _, k := range group.keywords {
		if stems[porter2.Stem(k)] {
			return true
		}
	}
	return false
}

// stemWords lowercases and Porter2-stems every alphanumeric token in
// query, so "authentication" in the query matches the "auth" keyword
// group the same way "authenticate" or "authenticating" would.
func stemWords(query string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	stems := make(map[string]bool, len(fields))
	for _, f := range fields {
		stems[porter2.Stem(f)] = true
	}
	return stems
}

func dedupe(globs []string) []string {
	seen := make(map[string]bool, len(globs))
	out := globs[:0]
	for _, g := range globs {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}

// MatchesAny reports whether path satisfies any of globs.
func MatchesAny(path string, globs []string) bool {
	for _, g := range globs {
		if ok, err := doublestar.Match(g, path); err == nil && ok {
			return true
		}
	}
	return false
}
