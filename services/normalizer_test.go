package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"coffee-guru/utils"
)

func newTestNormalizer() *Normalizer {
	n := NewNormalizer(utils.NewNopLogger())
	n.randID = func() int { return 777 }
	return n
}

const detailPayload = `{
  "name": "Kenya AA",
  "description": "Bright and juicy",
  "origin": "Nyeri",
  "flavor": "blackcurrant",
  "history": "Grown on volcanic soil",
  "price": "180-220 CNY/kg",
  "roastLevel": "light",
  "brewMethods": ["V60", "AeroPress"],
  "rating": 4.6,
  "roastingDetails": {"firstCrackTime": "8:30"},
  "brewingGuide": {
    "coffeeToWaterRatio": "1:16",
    "pourStages": [
      {"stageName": "bloom", "waterAmount": "40ml"},
      {"stageName": "main"}
    ]
  }
}`

func TestDecodeDetailFencedMatchesBare(t *testing.T) {
	n := newTestNormalizer()

	fenced := "Here is the coffee you asked for:\n```json\n" + detailPayload + "\n```\nEnjoy!"

	bare, err := n.DecodeDetail(detailPayload, "Kenya AA")
	require.NoError(t, err)
	wrapped, err := n.DecodeDetail(fenced, "Kenya AA")
	require.NoError(t, err)

	require.Equal(t, bare, wrapped)
	require.Equal(t, CleanFences(fenced), CleanFences(CleanFences(fenced)))
}

func TestDecodeDetailPreservesFloatRating(t *testing.T) {
	n := newTestNormalizer()

	d, err := n.DecodeDetail(detailPayload, "Kenya AA")
	require.NoError(t, err)
	require.InDelta(t, 4.6, d.Rating, 1e-9)
	require.Equal(t, []string{"V60", "AeroPress"}, d.BrewMethods)

	require.NotNil(t, d.RoastingProfile)
	require.Equal(t, "8:30", d.RoastingProfile.FirstCrackTime)
	require.Equal(t, defaultSecondCrack, d.RoastingProfile.SecondCrackTime)

	require.NotNil(t, d.BrewGuide)
	require.Equal(t, "1:16", d.BrewGuide.Ratio)
	require.Equal(t, defaultGrind, d.BrewGuide.GrindSize)
	require.Len(t, d.BrewGuide.PourStages, 2)
	require.Equal(t, "40ml", d.BrewGuide.PourStages[0].WaterAmount)
	require.Equal(t, defaultWater, d.BrewGuide.PourStages[1].WaterAmount)
}

func TestDecodeDetailWithoutNestedSections(t *testing.T) {
	n := newTestNormalizer()

	d, err := n.DecodeDetail(`{"name": "Sumatra Mandheling", "rating": 4}`, "ignored")
	require.NoError(t, err)

	require.Nil(t, d.RoastingProfile)
	require.Nil(t, d.BrewGuide)
	require.Equal(t, "Sumatra Mandheling", d.Name)
	require.Equal(t, defaultOrigin, d.Origin)
	require.Equal(t, defaultFlavor, d.Flavor)
	require.Equal(t, defaultHistory, d.History)
	require.Equal(t, defaultPrice, d.Price)
	require.Equal(t, defaultRoastLevel, d.RoastLevel)
	require.Equal(t, []string{defaultBrewMethod}, d.BrewMethods)
	require.Equal(t, 4.0, d.Rating)
}

func TestDecodeDetailFallbackName(t *testing.T) {
	n := newTestNormalizer()

	d, err := n.DecodeDetail(`{"origin": "Huila"}`, "Colombia Huila")
	require.NoError(t, err)
	require.Equal(t, "Colombia Huila", d.Name)
	require.Equal(t, defaultDetailScore, d.Rating)
}

func TestDecodeDetailBrewMethodsString(t *testing.T) {
	n := newTestNormalizer()

	d, err := n.DecodeDetail(`{"name": "X", "brewMethods": "V60, Chemex ,French press,"}`, "X")
	require.NoError(t, err)
	require.Equal(t, []string{"V60", "Chemex", "French press"}, d.BrewMethods)
}

func TestDecodeDetailRejectsGarbage(t *testing.T) {
	n := newTestNormalizer()

	tests := []string{
		"sorry, I cannot help with that",
		`["not", "an", "object"]`,
		"null",
		"",
	}
	for _, raw := range tests {
		d, err := n.DecodeDetail(raw, "X")
		require.Nil(t, d, "raw=%q", raw)
		var decErr *DecodeError
		require.True(t, errors.As(err, &decErr), "raw=%q err=%v", raw, err)
	}
}

func TestParseItemsRoundsRating(t *testing.T) {
	n := newTestNormalizer()

	items, err := n.DecodeItems(`[{"id":1,"name":"A","rating":4.6}]`)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 1, items[0].ID)
	require.Equal(t, 5, items[0].Rating)
	require.Equal(t, defaultItemDescription, items[0].Description)
}

func TestParseItemsCoercion(t *testing.T) {
	n := newTestNormalizer()

	raw := `Sure! Here are five coffees:
[
  {"name": "  Ethiopia   Guji ", "description": "floral", "rating": "4.2"},
  "oops",
  {"id": 9, "rating": 9},
  {"id": 10, "name": "Brazil", "rating": 0.2}
]
Let me know if you want more.`

	items, err := n.DecodeItems(raw)
	require.NoError(t, err)
	require.Len(t, items, 3)

	require.Equal(t, 777, items[0].ID)
	require.Equal(t, "Ethiopia Guji", items[0].Name)
	require.Equal(t, 4, items[0].Rating)

	require.Equal(t, defaultItemName, items[1].Name)
	require.Equal(t, 5, items[1].Rating)

	require.Equal(t, 1, items[2].Rating)
}

func TestParseItemsInvalidJSON(t *testing.T) {
	n := newTestNormalizer()

	items, err := n.DecodeItems("no json here")
	require.Nil(t, items)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestParseFeaturedArrayFallback(t *testing.T) {
	n := newTestNormalizer()

	item, err := n.DecodeFeatured(`[{"name":"Panama Geisha","rating":4.7},{"name":"second"}]`)
	require.NoError(t, err)
	require.Equal(t, "Panama Geisha", item.Name)
	require.Equal(t, defaultFeaturedID, item.ID)
	require.Equal(t, 5, item.Rating)

	item, err = n.DecodeFeatured(`{}`)
	require.NoError(t, err)
	require.Equal(t, defaultFeaturedName, item.Name)
	require.Equal(t, defaultFeaturedRating, item.Rating)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "vendor envelope",
			raw:  `{"code":200,"msg":"ok","data":{"choices":[{"content":"[{\"name\":\"A\"}]"}]}}`,
			want: `[{"name":"A"}]`,
		},
		{
			name: "chat completions envelope with prose",
			raw:  `{"choices":[{"message":{"content":"Result: {\"name\":\"B\"} done"}}]}`,
			want: `{"name":"B"}`,
		},
		{
			name: "bare object with trailing prose",
			raw:  `{"name":"C","brewMethods":["V60"]} hope this helps`,
			want: `{"name":"C","brewMethods":["V60"]}`,
		},
		{
			name: "array after prose",
			raw:  "list:\n[1,2]\nthanks",
			want: "[1,2]",
		},
		{
			name: "no json",
			raw:  "nothing to see",
			want: "nothing to see",
		},
	}

	for _, tt := range tests {
		if got := ExtractJSON(tt.raw); got != tt.want {
			t.Errorf("%s: ExtractJSON() = %q; want %q", tt.name, got, tt.want)
		}
	}
}

func TestUnwrapEnvelopeRejectsPlainPayloads(t *testing.T) {
	for _, raw := range []string{`[{"name":"A"}]`, `{"name":"A"}`, `{"choices":[]}`, `not json`} {
		if _, ok := UnwrapEnvelope([]byte(raw)); ok {
			t.Errorf("UnwrapEnvelope(%q) should not match", raw)
		}
	}
}
