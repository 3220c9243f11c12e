package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"coffee-guru/models"
	"coffee-guru/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate summarises the cached list, featured item and details.
func (s *InsightService) Generate(items []models.Item, featured *models.Item, details []*models.Detail) *models.InsightReport {
	report := &models.InsightReport{
		ByRating:     make(map[int]int),
		ByRoastLevel: make(map[string]int),
		Featured:     featured,
	}

	for _, d := range details {
		if d == nil {
			continue
		}
		report.DetailsCached++
		report.ByRoastLevel[d.RoastLevel]++
	}

	if len(items) == 0 {
		return report
	}

	report.TotalItems = len(items)

	var total int
	for _, it := range items {
		total += it.Rating
		report.ByRating[it.Rating]++
	}
	report.AverageRating = round2(float64(total) / float64(len(items)))

	// Top 5 by rating, list order breaks ties
	ranked := make([]models.Item, len(items))
	copy(ranked, items)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Rating > ranked[j].Rating
	})
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	report.TopRated = ranked

	s.logger.Debug("[insights] %d items, %d details", report.TotalItems, report.DetailsCached)
	return report
}

func (s *InsightService) Print(w io.Writer, r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  ☕ COFFEE CACHE INSIGHTS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Coffees in list   : \033[1m%d\033[0m\n", r.TotalItems)
	fmt.Fprintf(w, "  Details cached    : \033[1m%d\033[0m\n", r.DetailsCached)
	if r.TotalItems > 0 {
		fmt.Fprintf(w, "  Average rating    : \033[1;32m%.2f ★\033[0m\n", r.AverageRating)
	}
	fmt.Fprintln(w)

	if r.Featured != nil {
		fmt.Fprintf(w, "\033[1;33m  Featured\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", truncate(r.Featured.Name, 50))
		fmt.Fprintf(w, "  %s\n", truncate(r.Featured.Description, 50))
		fmt.Fprintln(w)
	}

	// ── TOP 5 HIGHEST RATED ──────────────────────────────────────────────
	fmt.Fprintf(w, "\033[1;33m  Top 5 Highest Rated\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopRated) == 0 {
		fmt.Fprintf(w, "  No coffees cached\n")
	} else {
		for i, it := range r.TopRated {
			fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s \033[1;32m%d ★\033[0m\n",
				i+1, truncate(it.Name, 38), it.Rating)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Ratings\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	for stars := 5; stars >= 1; stars-- {
		cnt := r.ByRating[stars]
		fmt.Fprintf(w, "  %d ★  %s (%d)\n", stars, strings.Repeat("█", cnt), cnt)
	}

	if len(r.ByRoastLevel) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "\033[1;33m  Roast Levels (details)\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		type levelCount struct {
			level string
			count int
		}
		var levels []levelCount
		for lvl, cnt := range r.ByRoastLevel {
			levels = append(levels, levelCount{lvl, cnt})
		}
		sort.Slice(levels, func(i, j int) bool {
			if levels[i].count != levels[j].count {
				return levels[i].count > levels[j].count
			}
			return levels[i].level < levels[j].level
		})
		for _, lc := range levels {
			fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(lc.level, 28), strings.Repeat("█", lc.count), lc.count)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
