package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"rentmail/utils"
)

var localeMatcher = language.NewMatcher([]language.Tag{
	language.English,
	language.Japanese,
})

// LocaleMiddleware detects and sets the client's locale. The query
// parameter wins over the cookie, which wins over Accept-Language.
func LocaleMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		lang := DetectLanguage(c.Query("lang"), c.Cookies("lang"), c.Get(fiber.HeaderAcceptLanguage))

		c.Locals("localizer", utils.GetLocalizer(lang))
		c.Locals("lang", lang)

		return c.Next()
	}
}

// DetectLanguage returns the supported base language best matching the
// given preferences, "en" when none match
func DetectLanguage(prefs ...string) string {
	for _, p := range prefs {
		if p == "" {
			continue
		}
		tag, _ := language.MatchStrings(localeMatcher, p)
		base, _ := tag.Base()
		return base.String()
	}
	return "en"
}

// Localizer returns the localizer stored by LocaleMiddleware, or nil
func Localizer(c *fiber.Ctx) *i18n.Localizer {
	l, _ := c.Locals("localizer").(*i18n.Localizer)
	return l
}
