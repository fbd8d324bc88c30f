package services

import (
	"fmt"
	"sort"
	"strings"

	"moto-scraper/models"
	"moto-scraper/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(listings []*models.Listing) *models.InsightReport {
	report := &models.InsightReport{
		ListingsByMarca:    make(map[string]int),
		ListingsByProvince: make(map[string]int),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	var priced []*models.Listing
	var kmTotal, kmCount int64

	for _, l := range listings {
		if l.Price != nil && *l.Price > 0 {
			priced = append(priced, l)
		}
		if l.Km != nil && *l.Km > 0 {
			kmTotal += *l.Km
			kmCount++
		}
		if l.Year != nil && *l.Year > 0 {
			if report.OldestYear == 0 || *l.Year < report.OldestYear {
				report.OldestYear = *l.Year
			}
			if *l.Year > report.NewestYear {
				report.NewestYear = *l.Year
			}
		}
		if l.Marca != "" {
			report.ListingsByMarca[l.Marca]++
		}
		if l.ProvinceID != nil && *l.ProvinceID != "" {
			report.ListingsByProvince[*l.ProvinceID]++
		}
	}

	// Price stats (only listings with a known price)
	if len(priced) > 0 {
		report.MinPrice = float64(*priced[0].Price)
		report.MaxPrice = float64(*priced[0].Price)
		var total float64
		for _, l := range priced {
			p := float64(*l.Price)
			total += p
			if p < report.MinPrice {
				report.MinPrice = p
			}
			if p > report.MaxPrice {
				report.MaxPrice = p
				report.MostExpensive = l
			}
		}
		report.AveragePrice = round2(total / float64(len(priced)))
	}

	if kmCount > 0 {
		report.AverageKm = round2(float64(kmTotal) / float64(kmCount))
	}

	return report
}

func (s *InsightService) Print(r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  📊 MOTO LISTINGS INSIGHTS\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Printf("\033[1;33m  Overview\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Total listings stored : \033[1m%d\033[0m\n", r.TotalListings)
	if r.OldestYear > 0 {
		fmt.Printf("  Year range            : \033[1m%d–%d\033[0m\n", r.OldestYear, r.NewestYear)
	}
	if r.AverageKm > 0 {
		fmt.Printf("  Average mileage       : \033[1m%.0f km\033[0m\n", r.AverageKm)
	}
	fmt.Println()

	// Price Stats
	fmt.Printf("\033[1;33m  Price Statistics\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Printf("  Average price : \033[1;32m%.2f €\033[0m\n", r.AveragePrice)
		fmt.Printf("  Minimum price : \033[1;32m%.2f €\033[0m\n", r.MinPrice)
		fmt.Printf("  Maximum price : \033[1;32m%.2f €\033[0m\n", r.MaxPrice)
	} else {
		fmt.Printf("  No price data available\n")
	}
	fmt.Println()

	// Most Expensive
	if r.MostExpensive != nil {
		fmt.Printf("\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  %s\n", truncate(r.MostExpensive.Title, 50))
		fmt.Printf("  Marca/Modelo : %s %s\n", r.MostExpensive.Marca, r.MostExpensive.Modelo)
		if r.MostExpensive.Price != nil {
			fmt.Printf("  Price        : \033[1;31m%d €\033[0m\n", *r.MostExpensive.Price)
		}
		fmt.Println()
	}

	printBars("Listings by Marca", thin, r.ListingsByMarca)
	printBars("Listings by Province", thin, r.ListingsByProvince)

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func printBars(title, thin string, counts map[string]int) {
	fmt.Printf("\033[1;33m  %s\033[0m\n", title)
	fmt.Printf("  %s\n", thin)
	if len(counts) == 0 {
		fmt.Printf("  No data\n")
		return
	}

	type keyCount struct {
		key   string
		count int
	}
	var rows []keyCount
	for k, c := range counts {
		if k != "" {
			rows = append(rows, keyCount{k, c})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].key < rows[j].key
	})
	for _, kc := range rows {
		bar := strings.Repeat("█", kc.count)
		fmt.Printf("  %-30s %s (%d)\n", truncate(kc.key, 28), bar, kc.count)
	}
	fmt.Println()
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
