package intercept

import "strings"

// rewriteSubject builds the intercepted subject from the configured prefix,
// the original subject and the original To list.
func rewriteSubject(cfg Config, subject, originalTo string) string {
	prefix := renderPrefix(cfg.SubjectPrefix)

	var suffix string
	if cfg.IncludeOriginalInSubject && originalTo != "" {
		suffix = " [to: " + originalTo + "]"
	}

	if prefix == "" && suffix == "" {
		return subject
	}
	return prefix + subject + suffix
}

// renderPrefix turns "INTERCEPTED" into "[INTERCEPTED] " and leaves a
// bracketed prefix such as "[TEST] " alone apart from normalising the
// trailing space.
func renderPrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, "[") && strings.HasSuffix(p, "]") {
		return p + " "
	}
	return "[" + p + "] "
}
