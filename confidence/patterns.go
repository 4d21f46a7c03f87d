package confidence

import "regexp"

// Name patterns suggesting temporary or test intent. A hit raises
// confidence that the resource is safe to flag.
var temporaryNamePatterns = compilePatterns(
	`^test[-_]`,
	`[-_]test$`,
	`^temp[-_]`,
	`[-_]temp$`,
	`^tmp[-_]`,
	`[-_]tmp$`,
	`^delete[-_]`,
	`[-_]delete$`,
	`^remove[-_]`,
	`[-_]remove$`,
	`^old[-_]`,
	`[-_]old$`,
	`^deprecated[-_]`,
	`[-_]deprecated$`,
	`^backup[-_]`,
	`^bak[-_]`,
	`[-_]bak$`,
	`^copy[-_]`,
	`[-_]copy\d*$`,
)

// Name patterns suggesting production or deliberate retention intent.
// A hit lowers confidence.
var retentionNamePatterns = compilePatterns(
	`[-_]dr$`,
	`^dr[-_]`,
	`[-_]prod`,
	`^prod[-_]`,
	`[-_]production`,
	`[-_]reserved`,
	`[-_]keep`,
	`[-_]retain`,
)

// Tags suggesting deliberate retention, matched case-insensitively as
// substrings of "key:value".
var retentionTags = []string{
	"environment:production",
	"environment:prod",
	"donotdelete",
	"do-not-delete",
	"retain",
	"keep",
	"reserved",
}

func compilePatterns(exprs ...string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		patterns = append(patterns, regexp.MustCompile(expr))
	}
	return patterns
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
