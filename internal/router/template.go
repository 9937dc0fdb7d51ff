package router

import "strings"

// RenderTemplate substitutes recognized {{token}} placeholders in body with
// the provided values. Substitution is plain token replacement; tokens
// without a value stay verbatim so a misconfigured template is visible in
// the delivered text rather than silently blanked.
func RenderTemplate(body string, vars map[string]string) string {
	if !strings.Contains(body, "{{") {
		return body
	}
	for token, value := range vars {
		body = strings.ReplaceAll(body, "{{"+token+"}}", value)
	}
	return body
}
