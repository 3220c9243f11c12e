package models

// Item is a list-level coffee record produced by the normalizer.
// Equality is id-based; ids are unique within a session only.
type Item struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Rating      int    `json:"rating"`
}

// Equal reports whether two items share the same id.
func (i Item) Equal(other Item) bool { return i.ID == other.ID }

// Detail is the full record for a single coffee, keyed by Name.
type Detail struct {
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	Origin          string           `json:"origin"`
	Flavor          string           `json:"flavor"`
	History         string           `json:"history"`
	Price           string           `json:"price"`
	RoastLevel      string           `json:"roastLevel"`
	BrewMethods     []string         `json:"brewMethods"`
	Rating          float64          `json:"rating"`
	RoastingProfile *RoastingProfile `json:"roastingDetails,omitempty"`
	BrewGuide       *BrewGuide       `json:"brewingGuide,omitempty"`
}

// RoastingProfile describes a roast timeline in free text.
type RoastingProfile struct {
	FirstCrackTime  string `json:"firstCrackTime"`
	SecondCrackTime string `json:"secondCrackTime"`
	TotalRoastTime  string `json:"totalRoastTime"`
	RoastingCurve   string `json:"roastingCurve"`
	RoastingNotes   string `json:"roastingNotes"`
}

// BrewGuide holds brewing parameters. Measurements stay free text.
type BrewGuide struct {
	Ratio        string      `json:"coffeeToWaterRatio"`
	GrindSize    string      `json:"groundSize"`
	Temperature  string      `json:"waterTemperature"`
	TotalTime    string      `json:"totalBrewTime"`
	PourStages   []PourStage `json:"pourStages"`
	SpecialNotes string      `json:"specialNotes"`
}

// PourStage is one step of a pour-over sequence.
type PourStage struct {
	Name        string `json:"stageName"`
	WaterAmount string `json:"waterAmount"`
	PourTime    string `json:"pourTime"`
	WaitTime    string `json:"waitTime"`
	Purpose     string `json:"purpose"`
}

// InsightReport holds summary statistics over the cached content.
type InsightReport struct {
	TotalItems    int
	AverageRating float64
	TopRated      []Item
	ByRating      map[int]int
	Featured      *Item
	DetailsCached int
	ByRoastLevel  map[string]int
}
