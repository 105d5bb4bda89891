package memory

import (
	"regexp"
	"strings"

	"github.com/HendryAvila/membank/internal/index"
)

// DomainGeneral is assigned when nothing more specific matches.
const DomainGeneral = "general"

// domainFamilies is checked in order; the first family with a hit wins.
// Words match whole tokens (a trailing "s" or "es" is allowed); stems match
// any token they start.
var domainFamilies = []struct {
	name  string
	words []string
	stems []string
}{
	{"authentication",
		[]string{"auth", "authn", "authz", "jwt", "oauth", "oauth2", "oidc", "login", "logout", "session", "sso", "saml", "password", "credential", "token"},
		[]string{"authenticat", "authoriz"}},
	{"security",
		[]string{"security", "secure", "xss", "csrf", "injection", "tls", "ssl", "secret", "permission", "rbac", "cve"},
		[]string{"encrypt", "vulnerab", "sanitiz"}},
	{"data",
		[]string{"database", "datastore", "db", "postgres", "postgresql", "mysql", "sqlite", "mongo", "mongodb", "schema", "migration", "sql", "orm", "index"},
		nil},
	{"performance",
		[]string{"performance", "latency", "cache", "caching", "cached", "throughput", "memory"},
		[]string{"optimiz", "profil"}},
	{"testing",
		[]string{"test", "testing", "coverage", "mock", "fixture", "e2e", "qa"},
		nil},
	{"infrastructure",
		[]string{"docker", "kubernetes", "k8s", "terraform", "ci", "cd", "pipeline", "cloud", "aws", "gcp", "azure", "infra", "infrastructure"},
		[]string{"deploy"}},
	{"integration",
		[]string{"api", "webhook", "grpc", "rest", "graphql", "queue", "kafka", "rabbitmq", "integration", "sdk"},
		nil},
	{"frontend",
		[]string{"ui", "ux", "frontend", "react", "vue", "css", "component", "layout"},
		nil},
	{"architecture",
		[]string{"architecture", "design", "adr", "boundary", "hexagonal", "monolith", "layer", "module"},
		[]string{"architect", "microservice", "refactor"}},
	{"process",
		[]string{"process", "workflow", "review", "release", "convention", "guideline", "team"},
		nil},
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeDomain lowercases a supplied domain tag and joins its words with
// dashes. Returns "" for blank input.
func NormalizeDomain(s string) string {
	v := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
	v = strings.Join(strings.Fields(v), "-")
	if len(v) > 64 {
		v = v[:64]
	}
	return v
}

// InferDomain derives a domain tag from a decision's text.
func InferDomain(title, context, chosen string) string {
	tokens := index.Tokenize(title + " " + context + " " + chosen)
	for _, fam := range domainFamilies {
		if hasAny(tokens, fam.words, fam.stems) {
			return fam.name
		}
	}
	return DomainGeneral
}

// hasAny reports whether any token is one of words, or a plural of one, or
// starts with one of stems.
func hasAny(tokens, words, stems []string) bool {
	for _, tok := range tokens {
		for _, w := range words {
			if tok == w || tok == w+"s" || tok == w+"es" {
				return true
			}
		}
		for _, st := range stems {
			if strings.HasPrefix(tok, st) {
				return true
			}
		}
	}
	return false
}
