package utils

import "strings"

var replyPrefixes = []string{"re:", "fwd:", "fw:", "aw:", "wg:"}

// CleanSubject removes leading Re:/Fwd: style prefixes, case-insensitively
func CleanSubject(subject string) string {
	subject = strings.TrimSpace(subject)

	for {
		trimmed := false
		lower := strings.ToLower(subject)
		for _, prefix := range replyPrefixes {
			if strings.HasPrefix(lower, prefix) {
				subject = strings.TrimSpace(subject[len(prefix):])
				trimmed = true
				break
			}
		}
		if !trimmed {
			break
		}
	}

	return subject
}

// ReplySubject returns "Re: <subject>" without stacking prefixes
func ReplySubject(subject string) string {
	cleaned := CleanSubject(subject)
	if cleaned == "" {
		return "Re:"
	}
	return "Re: " + cleaned
}
