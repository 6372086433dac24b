// Package intent parses free-text follow-up messages into typed itinerary commands.
//
// Parsing walks an explicit, ordered rule list; the first rule that matches wins. An optional
// Normalizer may rewrite text that no rule recognizes into the command grammar.
package intent

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/TripPipe/internal/models"
)

// Command is a parsed follow-up instruction.
type Command interface {
	command()
}

// NoChange accepts the current itinerary.
type NoChange struct{}

// RemoveStop removes the candidate at a 1-based position.
type RemoveStop struct {
	Index int
}

// ReplaceStop swaps the candidate at a 1-based position for the best match of Query.
type ReplaceStop struct {
	Index        int
	Query        string
	CategoryHint string
}

// AddPlace appends the best match of Query to the candidates.
type AddPlace struct {
	Query        string
	CategoryHint string
}

// ChangeMode switches the travel mode. Mode is the raw token; see NormalizeMode.
type ChangeMode struct {
	Mode string
}

// Help asks how to use one of the follow-up menu options. Topic is the lowercased option.
type Help struct {
	Topic string
}

// ShowItinerary displays the current itinerary.
type ShowItinerary struct{}

// StartOver discards the session and begins a new one.
type StartOver struct{}

// Unrecognized is returned when no rule matches.
type Unrecognized struct {
	Text string
}

func (NoChange) command()      {}
func (RemoveStop) command()    {}
func (ReplaceStop) command()   {}
func (AddPlace) command()      {}
func (ChangeMode) command()    {}
func (Help) command()          {}
func (ShowItinerary) command() {}
func (StartOver) command()     {}
func (Unrecognized) command()  {}

// UnrecognizedToken is what a Normalizer returns when the text maps to no command.
const UnrecognizedToken = "UNRECOGNIZED"

// Normalizer rewrites free text into the command grammar, or returns UnrecognizedToken.
type Normalizer interface {
	Normalize(ctx context.Context, text string) (string, error)
}

// ErrUnknownMode is returned by NormalizeMode for tokens outside the synonym table.
var ErrUnknownMode = errors.New("unknown travel mode")

var (
	removeRe  = regexp.MustCompile(`(?i)^remove\s+(?:the\s+)?(\d+)(?:st|nd|rd|th)?\s+stop$`)
	replaceRe = regexp.MustCompile(`(?i)^replace\s+(?:the\s+)?(\d+)(?:st|nd|rd|th)?\s+stop\s+with\s+(.+?)(?:\s+as\s+an?\s+(.+))?$`)
	addRe     = regexp.MustCompile(`(?i)^add\s+(.+?)(?:\s+as\s+an?\s+(.+))?$`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

var affirmations = map[string]bool{
	"no changes": true,
	"no":         true,
	"it's good":  true,
	"looks good": true,
	"perfect":    true,
}

// Menu option labels offered after an itinerary is shown.
const (
	MenuNoChanges  = "No changes"
	MenuRemoveStop = "Remove a stop"
	MenuReplace    = "Replace a stop"
	MenuAddPlaces  = "Add more places"
	MenuChangeMode = "Change travel mode"
)

// MenuOptions lists the follow-up menu in display order.
var MenuOptions = []string{MenuNoChanges, MenuRemoveStop, MenuReplace, MenuAddPlaces, MenuChangeMode}

var modeSynonyms = map[string]models.TravelMode{
	"walk":      models.TravelModeWalking,
	"walking":   models.TravelModeWalking,
	"drive":     models.TravelModeDriving,
	"driving":   models.TravelModeDriving,
	"car":       models.TravelModeDriving,
	"bus":       models.TravelModeTransit,
	"train":     models.TravelModeTransit,
	"subway":    models.TravelModeTransit,
	"transit":   models.TravelModeTransit,
	"bike":      models.TravelModeBicycling,
	"biking":    models.TravelModeBicycling,
	"bicycling": models.TravelModeBicycling,
	"cycle":     models.TravelModeBicycling,
	"cycling":   models.TravelModeBicycling,
}

type rule struct {
	name  string
	parse func(text string) (Command, bool)
}

// rules is evaluated top to bottom.
var rules = []rule{
	{"affirmation", parseAffirmation},
	{"menu_help", parseMenuHelp},
	{"remove", parseRemove},
	{"replace", parseReplace},
	{"add", parseAdd},
	{"change_mode", parseChangeMode},
}

// Parser turns follow-up text into commands.
type Parser struct {
	normalizer Normalizer
}

// Option defines a configuration option for the Parser.
type Option func(*Parser)

// WithNormalizer sets a fallback used once when no rule recognizes the text.
func WithNormalizer(n Normalizer) Option {
	return func(p *Parser) {
		p.normalizer = n
	}
}

// NewParser creates a Parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse classifies a follow-up message. It never fails; unmatched text yields Unrecognized.
func (p *Parser) Parse(ctx context.Context, text string) Command {
	if cmd, ok := parseRules(text); ok {
		return cmd
	}
	if p.normalizer == nil {
		return Unrecognized{Text: text}
	}

	rewritten, err := p.normalizer.Normalize(ctx, text)
	if err != nil {
		slog.Warn("Parser.Parse: normalizer failed", "error", err)
		return Unrecognized{Text: text}
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" || strings.EqualFold(rewritten, UnrecognizedToken) {
		return Unrecognized{Text: text}
	}
	if cmd, ok := parseRules(rewritten); ok {
		slog.Debug("Parser.Parse: normalized command", "input", text, "rewritten", rewritten)
		return cmd
	}
	slog.Debug("Parser.Parse: normalizer output did not parse", "rewritten", rewritten)
	return Unrecognized{Text: text}
}

// ParseUniversal recognizes the commands accepted at every step of the dialogue.
func ParseUniversal(text string) (Command, bool) {
	switch strings.ToLower(canonical(text)) {
	case "show itinerary", "view itinerary", "show my itinerary", "view my itinerary":
		return ShowItinerary{}, true
	case "start over", "reset":
		return StartOver{}, true
	}
	return nil, false
}

// NormalizeMode maps a mode token through the synonym table.
func NormalizeMode(token string) (models.TravelMode, error) {
	if m, ok := modeSynonyms[strings.ToLower(strings.TrimSpace(token))]; ok {
		return m, nil
	}
	return "", ErrUnknownMode
}

// NormalizeCategoryHint turns "tourist attraction" into the provider tag "tourist_attraction".
func NormalizeCategoryHint(hint string) string {
	return strings.ReplaceAll(strings.ToLower(canonical(hint)), " ", "_")
}

func parseRules(text string) (Command, bool) {
	c := canonical(text)
	if c == "" {
		return nil, false
	}
	for _, r := range rules {
		if cmd, ok := r.parse(c); ok {
			slog.Debug("intent rule matched", "rule", r.name)
			return cmd, true
		}
	}
	return nil, false
}

// canonical collapses whitespace and drops trailing punctuation. Case is kept so that
// search queries reach the provider as typed.
func canonical(text string) string {
	t := strings.TrimRight(strings.TrimSpace(text), ".!? ")
	t = strings.ReplaceAll(t, "’", "'")
	return spaceRe.ReplaceAllString(t, " ")
}

func parseAffirmation(text string) (Command, bool) {
	if affirmations[strings.ToLower(text)] {
		return NoChange{}, true
	}
	return nil, false
}

func parseMenuHelp(text string) (Command, bool) {
	lower := strings.ToLower(text)
	for _, opt := range MenuOptions[1:] {
		if lower == strings.ToLower(opt) {
			return Help{Topic: lower}, true
		}
	}
	return nil, false
}

func parseRemove(text string) (Command, bool) {
	m := removeRe.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return RemoveStop{Index: atoi(m[1])}, true
}

func parseReplace(text string) (Command, bool) {
	m := replaceRe.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return ReplaceStop{
		Index:        atoi(m[1]),
		Query:        strings.TrimSpace(m[2]),
		CategoryHint: NormalizeCategoryHint(m[3]),
	}, true
}

func parseAdd(text string) (Command, bool) {
	m := addRe.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return AddPlace{
		Query:        strings.TrimSpace(m[1]),
		CategoryHint: NormalizeCategoryHint(m[2]),
	}, true
}

func parseChangeMode(text string) (Command, bool) {
	text = strings.ToLower(text)
	if !strings.HasPrefix(text, "let's ") || !strings.Contains(text, " instead") {
		return nil, false
	}
	fields := strings.Fields(text)
	if len(fields) < 2 || fields[1] == "instead" {
		return nil, false
	}
	return ChangeMode{Mode: fields[1]}, true
}

// atoi returns 0 for values that do not fit an int; callers treat 0 as out of range.
func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
