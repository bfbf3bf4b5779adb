package logger

import (
	"io"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// providerSecrets covers the credentials an rlm process handles: model
// provider keys and the headers that carry them.
var providerSecrets = []string{
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9_-]{20,}`,
	`Bearer\s+[a-zA-Z0-9._-]+`,
	`(?i)x-api-key["\s:=]+[^\s",]+`,
	`(?i)api_key["\s:=]+[^\s",]+`,
	`(?i)(password|secret)["\s:=]+[^\s",]+`,
}

// Redactor masks credentials in log output
type Redactor struct {
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor returns a Redactor for provider credentials. Extra literal
// values, such as the configured API key, are masked verbatim.
func NewRedactor(literals ...string) *Redactor {
	r := &Redactor{}
	for _, p := range providerSecrets {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	for _, s := range literals {
		if s = strings.TrimSpace(s); s != "" {
			r.literals = append(r.literals, s)
		}
	}
	return r
}

func (r *Redactor) Redact(s string) string {
	for _, lit := range r.literals {
		s = strings.ReplaceAll(s, lit, redacted)
	}
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// Wrap returns a writer that redacts each write before passing it to w
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return redactWriter{r: r, w: w}
}

type redactWriter struct {
	r *Redactor
	w io.Writer
}

// Write reports len(p) on success, whatever length the redacted line has
func (rw redactWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(rw.w, rw.r.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
