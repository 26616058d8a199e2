package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/movario/moving-ai-platform/internal/leads"
)

// Entities is the per-turn extraction result: identity fields plus
// project-data keys. It is never persisted directly, only merged into a lead.
type Entities struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Project   map[string]any
}

// Empty reports whether the extraction found nothing.
func (e Entities) Empty() bool {
	return e.FirstName == "" && e.LastName == "" && e.Email == "" && e.Phone == "" && len(e.Project) == 0
}

// ---------- package-level compiled regexes ----------

var (
	emailRE  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phoneRE  = regexp.MustCompile(`(?:\+33[\s.-]?[1-9]|0[1-9])(?:[\s.-]?\d{2}){4}`)
	postalRE = regexp.MustCompile(`\b\d{5}\b`)
	// No (?i) here: case folding would let lowercase words satisfy \p{Lu} and
	// the destination capture would swallow the rest of the sentence.
	routeRE  = regexp.MustCompile(`\b[Dd]e\s+(\p{Lu}[\p{L}'-]+(?:\s\p{Lu}[\p{L}'-]+)*)\s+(?:vers|à|a|jusqu'à|pour)\s+(\p{Lu}[\p{L}'-]+(?:\s\p{Lu}[\p{L}'-]+)*)`)
	areaRE   = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:m²|m2|mètres?\s+carrés?|metres?\s+carres?)`)
	roomsRE  = regexp.MustCompile(`(?i)\b[FT]\s?(\d{1,2})\b`)
	volumeRE = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:m³|m3|mètres?\s+cubes?|metres?\s+cubes?)`)
	dateRE   = regexp.MustCompile(`\b(\d{2}[/-]\d{2}[/-]\d{4})\b`)
	floorRE  = regexp.MustCompile(`(?i)(\d{1,2})\s*(?:er|e|ème|eme|ieme|ième)?\s*étage`)

	noElevatorRE  = regexp.MustCompile(`(?i)sans\s+ascenseur|pas\s+d['’]ascenseur|aucun\s+ascenseur`)
	hasElevatorRE = regexp.MustCompile(`(?i)avec\s+(?:un\s+)?ascenseur|il\s+y\s+a\s+un\s+ascenseur|ascenseur\s*:?\s*oui`)
	// The assistant's own qualification question contains "sans ascenseur" and
	// must not register as an answer.
	elevatorQuestionRE = regexp.MustCompile(`(?i)avec\s+ou\s+sans\s+ascenseur`)
)

// tierSynonyms maps each service tier to its keyword family. Evaluated in
// tierOrder; the first family with a hit wins.
var (
	tierOrder    = []string{"eco", "premium", "standard"}
	tierSynonyms = map[string][]string{
		"eco":      {"éco", "economique", "économique", "pas cher", "moins cher", "petit budget", "formule eco"},
		"premium":  {"premium", "haut de gamme", "luxe", "clé en main", "cle en main", "tout compris"},
		"standard": {"standard", "classique", "formule normale", "intermédiaire", "intermediaire"},
	}
)

// ---------- name extraction ----------

var firstNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)je\s+m['’]appelle\s+([\p{L}'-]+)`),
	regexp.MustCompile(`(?i)mon\s+pr[ée]nom\s+est\s+([\p{L}'-]+)`),
	regexp.MustCompile(`(?i)moi\s+c['’]est\s+([\p{L}'-]+)`),
	regexp.MustCompile(`(?i)je\s+suis\s+([\p{L}'-]+)`),
}

var lastNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)je\s+m['’]appelle\s+[\p{L}'-]+\s+([\p{L}'-]+)`),
	regexp.MustCompile(`(?i)mon\s+nom\s+(?:de\s+famille\s+)?est\s+([\p{L}'-]+)`),
	regexp.MustCompile(`(?i)je\s+suis\s+[\p{L}'-]+\s+([\p{L}'-]+)`),
}

// nameStopWords are words the self-introduction patterns tend to capture when
// the user is not actually giving a name ("je suis intéressé…").
var nameStopWords = map[string]bool{
	"interesse": true, "intéressé": true, "intéressée": true, "disponible": true,
	"desole": true, "désolé": true, "désolée": true, "pressé": true, "pressée": true,
	"la": true, "le": true, "un": true, "une": true, "en": true, "sur": true,
	"pas": true, "tres": true, "très": true, "deja": true, "déjà": true,
	"par": true, "vos": true, "les": true, "des": true, "pour": true,
}

func findName(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		match := re.FindStringSubmatch(text)
		if len(match) < 2 {
			continue
		}
		candidate := strings.Trim(match[1], "'-")
		if utf8.RuneCountInString(candidate) <= 2 {
			continue
		}
		if nameStopWords[strings.ToLower(candidate)] {
			continue
		}
		return capitalizeName(candidate)
	}
	return ""
}

func capitalizeName(word string) string {
	if word == "" {
		return ""
	}
	firstRune, size := utf8.DecodeRuneInString(word)
	if firstRune == utf8.RuneError || size == 0 {
		return word
	}
	return strings.ToUpper(string(firstRune)) + strings.ToLower(word[size:])
}

// ---------- main extraction function ----------

// Extract pulls structured fields out of one conversational turn. Pure and
// deterministic: same inputs, same output. Rules run independently over the
// user text (floor and elevator also scan the assistant reply, which often
// states those back for confirmation); per rule the first match wins.
// existingProject is consulted only to decide whether a postal code fills the
// origin or the destination slot.
func Extract(userText, assistantText string, existingProject map[string]any) Entities {
	entities := Entities{Project: map[string]any{}}
	combined := userText + "\n" + assistantText

	if match := emailRE.FindString(userText); match != "" {
		entities.Email = strings.ToLower(match)
	}

	if match := phoneRE.FindString(userText); match != "" {
		entities.Phone = strings.NewReplacer(" ", "", ".", "", "-", "").Replace(match)
	}

	assignPostalCodes(userText, existingProject, entities.Project)

	if match := routeRE.FindStringSubmatch(userText); len(match) == 3 {
		entities.Project[leads.KeyOriginCity] = strings.TrimSpace(match[1])
		entities.Project[leads.KeyDestinationCity] = strings.TrimSpace(match[2])
	}

	if match := areaRE.FindStringSubmatch(userText); len(match) == 2 {
		if v, err := parseFrenchFloat(match[1]); err == nil {
			entities.Project[leads.KeySurface] = v
		}
	}

	if match := roomsRE.FindStringSubmatch(userText); len(match) == 2 {
		if v, err := strconv.Atoi(match[1]); err == nil {
			entities.Project[leads.KeyRooms] = v
		}
	}

	if match := volumeRE.FindStringSubmatch(userText); len(match) == 2 {
		if v, err := parseFrenchFloat(match[1]); err == nil {
			entities.Project[leads.KeyVolume] = v
		}
	}

	// Stored raw; the scorer parses it lazily and swallows parse failures.
	if match := dateRE.FindStringSubmatch(userText); len(match) == 2 {
		entities.Project[leads.KeyDesiredDate] = match[1]
	}

	if match := floorRE.FindStringSubmatch(combined); len(match) == 2 {
		if v, err := strconv.Atoi(match[1]); err == nil {
			entities.Project[leads.KeyFloor] = v
		}
	}

	// Negation checked first; only affirmed or denied phrases count, so the
	// question alone leaves the field unset.
	elevatorText := elevatorQuestionRE.ReplaceAllString(combined, "")
	if noElevatorRE.MatchString(elevatorText) {
		entities.Project[leads.KeyElevator] = false
	} else if hasElevatorRE.MatchString(elevatorText) {
		entities.Project[leads.KeyElevator] = true
	}

	if tier := matchTier(userText); tier != "" {
		entities.Project[leads.KeyServiceTier] = tier
	}

	entities.FirstName = findName(userText, firstNamePatterns)
	entities.LastName = findName(userText, lastNamePatterns)
	if entities.LastName != "" && strings.EqualFold(entities.LastName, entities.FirstName) {
		entities.LastName = ""
	}

	if len(entities.Project) == 0 {
		entities.Project = nil
	}
	return entities
}

// assignPostalCodes fills the origin slot with the first 5-digit token and the
// destination slot with the second, skipping slots already present in the
// lead. Additional codes beyond two are ignored (first-match-wins).
func assignPostalCodes(text string, existing map[string]any, out map[string]any) {
	codes := postalRE.FindAllString(text, 2)
	if len(codes) == 0 {
		return
	}

	originKnown := hasKey(existing, leads.KeyOriginPostcode)
	destKnown := hasKey(existing, leads.KeyDestPostcode)

	idx := 0
	if !originKnown && idx < len(codes) {
		out[leads.KeyOriginPostcode] = codes[idx]
		idx++
	}
	if !destKnown && idx < len(codes) {
		out[leads.KeyDestPostcode] = codes[idx]
	}
}

func hasKey(project map[string]any, key string) bool {
	if project == nil {
		return false
	}
	v, ok := project[key]
	if !ok {
		return false
	}
	s, isStr := v.(string)
	return !isStr || strings.TrimSpace(s) != ""
}

func matchTier(text string) string {
	lower := strings.ToLower(text)
	for _, tier := range tierOrder {
		for _, keyword := range tierSynonyms[tier] {
			if strings.Contains(lower, keyword) {
				return tier
			}
		}
	}
	return ""
}

func parseFrenchFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}
