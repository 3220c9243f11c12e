package services

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"unicode"

	"coffee-guru/models"
	"coffee-guru/utils"
)

// Placeholders used when the upstream payload omits a field.
const (
	defaultItemName        = "Unknown coffee"
	defaultItemDescription = "No description"
	defaultItemRating      = 3

	defaultFeaturedID          = 100
	defaultFeaturedName        = "Daily pick"
	defaultFeaturedDescription = "Today's special recommendation"
	defaultFeaturedRating      = 5

	defaultDescription = "No description available"
	defaultOrigin      = "unknown origin"
	defaultFlavor      = "distinctive flavor"
	defaultHistory     = "No history available"
	defaultPrice       = "price unknown"
	defaultRoastLevel  = "medium roast"
	defaultBrewMethod  = "pour-over"
	defaultDetailScore = 4.0

	defaultFirstCrack  = "8 min"
	defaultSecondCrack = "11 min"
	defaultTotalRoast  = "15 min"
	defaultCurve       = "standard roast curve"
	defaultRoastNotes  = "watch the temperature closely"

	defaultRatio        = "1:15"
	defaultGrind        = "medium-fine"
	defaultTemperature  = "92°C"
	defaultBrewTime     = "3 min"
	defaultSpecialNotes = "keep the water temperature steady"

	defaultStageName = "pour"
	defaultWater     = "as needed"
	defaultPourTime  = "30 s"
	defaultWaitTime  = "30 s"
	defaultPurpose   = "extract flavor"
)

// DecodeError indicates a payload could not be turned into even a
// placeholder-filled record.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "services: decode: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Normalizer transforms loosely-typed model output into domain records.
type Normalizer struct {
	logger *utils.Logger
	randID func() int
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger *utils.Logger) *Normalizer {
	return &Normalizer{
		logger: logger,
		randID: func() int { return rand.Intn(1000) + 1 },
	}
}

// DecodeItems extracts and normalizes a list payload from raw model output.
func (n *Normalizer) DecodeItems(raw string) ([]models.Item, error) {
	return n.ParseItems(ExtractJSON(raw))
}

// DecodeFeatured extracts and normalizes a featured payload from raw model output.
func (n *Normalizer) DecodeFeatured(raw string) (models.Item, error) {
	return n.ParseFeatured(ExtractJSON(raw))
}

// DecodeDetail strips fences, extracts, and normalizes a detail payload.
// fallbackName is used when the payload omits its own name.
func (n *Normalizer) DecodeDetail(raw, fallbackName string) (*models.Detail, error) {
	return n.ParseDetail(ExtractJSON(CleanFences(raw)), fallbackName)
}

// ParseItems decodes a JSON array of items. Elements that are not objects
// are skipped; the batch survives.
func (n *Normalizer) ParseItems(payload string) ([]models.Item, error) {
	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, &DecodeError{Err: err}
	}

	var elems []any
	switch v := decoded.(type) {
	case []any:
		elems = v
	case map[string]any:
		elems = []any{v}
	default:
		return nil, &DecodeError{Err: fmt.Errorf("expected array, got %T", decoded)}
	}

	items := make([]models.Item, 0, len(elems))
	for i, e := range elems {
		obj, ok := e.(map[string]any)
		if !ok {
			n.logger.Warn("[normalizer] Skipping list element %d: not an object (%T)", i, e)
			continue
		}
		items = append(items, n.item(obj, n.randID(), defaultItemName, defaultItemDescription, defaultItemRating))
	}

	n.logger.Debug("[normalizer] Normalized %d → %d items (skipped %d)",
		len(elems), len(items), len(elems)-len(items))
	return items, nil
}

// ParseFeatured decodes a single featured item. An array payload yields its
// first element.
func (n *Normalizer) ParseFeatured(payload string) (models.Item, error) {
	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return models.Item{}, &DecodeError{Err: err}
	}

	if arr, ok := decoded.([]any); ok {
		if len(arr) == 0 {
			return models.Item{}, &DecodeError{Err: fmt.Errorf("empty featured array")}
		}
		decoded = arr[0]
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return models.Item{}, &DecodeError{Err: fmt.Errorf("expected object, got %T", decoded)}
	}
	return n.item(obj, defaultFeaturedID, defaultFeaturedName, defaultFeaturedDescription, defaultFeaturedRating), nil
}

// ParseDetail decodes a detail object. Every field defaults independently;
// nested sections are nil when absent.
func (n *Normalizer) ParseDetail(payload, fallbackName string) (*models.Detail, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if obj == nil {
		return nil, &DecodeError{Err: fmt.Errorf("null detail payload")}
	}

	name := normaliseText(stringOr(obj["name"], ""))
	if name == "" {
		name = fallbackName
	}

	d := &models.Detail{
		Name:        name,
		Description: stringOr(obj["description"], defaultDescription),
		Origin:      stringOr(obj["origin"], defaultOrigin),
		Flavor:      stringOr(obj["flavor"], defaultFlavor),
		History:     stringOr(obj["history"], defaultHistory),
		Price:       stringOr(obj["price"], defaultPrice),
		RoastLevel:  stringOr(obj["roastLevel"], defaultRoastLevel),
		BrewMethods: brewMethods(obj["brewMethods"]),
		Rating:      clampFloat(floatOr(obj["rating"], defaultDetailScore)),
	}

	if rd, ok := obj["roastingDetails"].(map[string]any); ok {
		d.RoastingProfile = &models.RoastingProfile{
			FirstCrackTime:  stringOr(rd["firstCrackTime"], defaultFirstCrack),
			SecondCrackTime: stringOr(rd["secondCrackTime"], defaultSecondCrack),
			TotalRoastTime:  stringOr(rd["totalRoastTime"], defaultTotalRoast),
			RoastingCurve:   stringOr(rd["roastingCurve"], defaultCurve),
			RoastingNotes:   stringOr(rd["roastingNotes"], defaultRoastNotes),
		}
	}

	if bg, ok := obj["brewingGuide"].(map[string]any); ok {
		d.BrewGuide = &models.BrewGuide{
			Ratio:        stringOr(bg["coffeeToWaterRatio"], defaultRatio),
			GrindSize:    stringOr(bg["groundSize"], defaultGrind),
			Temperature:  stringOr(bg["waterTemperature"], defaultTemperature),
			TotalTime:    stringOr(bg["totalBrewTime"], defaultBrewTime),
			PourStages:   pourStages(bg["pourStages"]),
			SpecialNotes: stringOr(bg["specialNotes"], defaultSpecialNotes),
		}
	}

	return d, nil
}

func (n *Normalizer) item(obj map[string]any, fallbackID int, name, desc string, rating int) models.Item {
	id := fallbackID
	if f, ok := numberOf(obj["id"]); ok {
		id = int(f)
	}

	itemName := normaliseText(stringOr(obj["name"], ""))
	if itemName == "" {
		itemName = name
	}

	r := rating
	if f, ok := numberOf(obj["rating"]); ok {
		r = int(math.Round(f))
	}

	return models.Item{
		ID:          id,
		Name:        itemName,
		Description: normaliseText(stringOr(obj["description"], desc)),
		Rating:      clampInt(r),
	}
}

func brewMethods(v any) []string {
	var methods []string
	switch m := v.(type) {
	case []any:
		for _, e := range m {
			if s, ok := stringOf(e); ok {
				methods = append(methods, s)
			}
		}
	case string:
		for _, part := range strings.FieldsFunc(m, func(r rune) bool { return r == ',' || r == '，' }) {
			if s := strings.TrimSpace(part); s != "" {
				methods = append(methods, s)
			}
		}
	}
	if len(methods) == 0 {
		return []string{defaultBrewMethod}
	}
	return methods
}

func pourStages(v any) []models.PourStage {
	arr, ok := v.([]any)
	if !ok {
		return []models.PourStage{}
	}

	stages := make([]models.PourStage, 0, len(arr))
	for _, e := range arr {
		st, ok := e.(map[string]any)
		if !ok {
			continue
		}
		stages = append(stages, models.PourStage{
			Name:        stringOr(st["stageName"], defaultStageName),
			WaterAmount: stringOr(st["waterAmount"], defaultWater),
			PourTime:    stringOr(st["pourTime"], defaultPourTime),
			WaitTime:    stringOr(st["waitTime"], defaultWaitTime),
			Purpose:     stringOr(st["purpose"], defaultPurpose),
		})
	}
	return stages
}

// numberOf accepts JSON numbers and numeric strings.
func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// stringOf accepts non-blank strings and renders numbers as text.
func stringOf(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		s = strings.TrimSpace(s)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	default:
		return "", false
	}
}

func stringOr(v any, fallback string) string {
	if s, ok := stringOf(v); ok {
		return s
	}
	return fallback
}

func floatOr(v any, fallback float64) float64 {
	if f, ok := numberOf(v); ok {
		return f
	}
	return fallback
}

func clampInt(r int) int {
	return min(max(r, 1), 5)
}

func clampFloat(r float64) float64 {
	return math.Min(math.Max(r, 1), 5)
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
