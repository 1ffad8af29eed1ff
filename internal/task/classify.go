package task

import "strings"

// trigger maps a set of substrings to the kind they indicate. Order matters:
// the first matching trigger wins.
type trigger struct {
	kind   ErrorKind
	tokens []string
}

// Matching is case-insensitive; the Chinese tokens are the diagnostic texts
// shown by the source site.
var triggers = []trigger{
	{KindCredential, []string{"用户名", "密码", "username", "password", "credential"}},
	{KindCertificateState, []string{"证件状态", "certificate status", "empty record"}},
	{KindPrinter, []string{"打印", "print"}},
	{KindCaptcha, []string{"验证码", "滑块", "captcha", "slider"}},
	{KindTimeout, []string{"超时", "timeout", "timed out"}},
}

// Classify maps diagnostic text to an ErrorKind. Text matching no trigger is
// reported as KindTimeout, which is what the downstream records expect for
// unknown causes.
func Classify(text string) ErrorKind {
	lower := strings.ToLower(text)
	for _, tr := range triggers {
		for _, token := range tr.tokens {
			if strings.Contains(lower, token) {
				return tr.kind
			}
		}
	}
	return KindTimeout
}
