package apperr

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var supported = []language.Tag{language.English, language.French}

var matcher = language.NewMatcher(supported)

var messages = map[language.Tag]map[Code]string{
	language.English: {
		CodeValidation:          "The request is invalid.",
		CodeNotFound:            "We could not find what you asked for.",
		CodeSessionNotFinished:  "Results are available once the tournament is over.",
		CodeStaleDuel:           "This duel is over. Refresh to see the current one.",
		CodeDuplicateVote:       "You already voted in this duel.",
		CodeAlreadyAcknowledged: "You are already waiting for the next duel.",
		CodeDuelNotResolved:     "Voting for this duel is still open.",
		CodeSessionFinished:     "This tournament is over.",
		CodeActiveSessionExists: "A tournament is already running in this room.",
		CodeForbidden:           "Only the room owner can do that.",
		CodeUnauthenticated:     "Please sign in again.",
		CodeConflict:            "Something changed at the same time. Please retry.",
		CodeInternal:            "Something went wrong. Please try again later.",
	},
	language.French: {
		CodeValidation:          "La requête est invalide.",
		CodeNotFound:            "Élément introuvable.",
		CodeSessionNotFinished:  "Les résultats seront disponibles à la fin du tournoi.",
		CodeStaleDuel:           "Ce duel est terminé. Actualisez pour voir le duel en cours.",
		CodeDuplicateVote:       "Vous avez déjà voté pour ce duel.",
		CodeAlreadyAcknowledged: "Vous attendez déjà le prochain duel.",
		CodeDuelNotResolved:     "Le vote pour ce duel est toujours ouvert.",
		CodeSessionFinished:     "Ce tournoi est terminé.",
		CodeActiveSessionExists: "Un tournoi est déjà en cours dans ce salon.",
		CodeForbidden:           "Seul le propriétaire du salon peut faire cela.",
		CodeUnauthenticated:     "Veuillez vous reconnecter.",
		CodeConflict:            "Une modification simultanée a eu lieu. Veuillez réessayer.",
		CodeInternal:            "Une erreur est survenue. Veuillez réessayer plus tard.",
	},
}

var cat = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range messages {
		for code, msg := range msgs {
			// Keys are fixed strings; SetString only fails on malformed messages.
			_ = b.SetString(tag, string(code), msg)
		}
	}
	return b
}

// ResolveTag picks the best supported language for an explicit preference
// (a ?lang= value) or an Accept-Language header, in that order.
func ResolveTag(preferred, acceptLanguage string, fallback language.Tag) language.Tag {
	if p := strings.TrimSpace(preferred); p != "" {
		if tag, err := language.Parse(p); err == nil {
			_, idx, conf := matcher.Match(tag)
			if conf != language.No {
				return supported[idx]
			}
		}
	}
	if accept := strings.TrimSpace(acceptLanguage); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			_, idx, conf := matcher.Match(tags...)
			if conf != language.No {
				return supported[idx]
			}
		}
	}
	return fallback
}

// ParseLocale coerces a configured locale to a supported tag.
func ParseLocale(value string) language.Tag {
	return ResolveTag(value, "", language.English)
}

// Localize returns the user-facing message for a code.
func Localize(tag language.Tag, code Code) string {
	p := message.NewPrinter(tag, message.Catalog(cat))
	return p.Sprintf(string(code))
}
