package support

import (
	"errors"
	"strings"
	"time"
)

// Panel wattage estimates by model
const (
	wattageSunPowerX       = 320
	wattageSunPowerY       = 290
	wattageSunPowerDoubleX = 400
	wattageDefault         = 300
)

// Warranty lengths in years
const (
	warrantySunPowerX       = 25
	warrantySunPowerY       = 20
	warrantySunPowerDoubleX = 30
	warrantyInverter        = 10
	warrantyDefault         = 5
)

const avgDailySunHours = 5.5

// PanelModel summarizes one installed panel model
type PanelModel struct {
	Model    string `json:"model"`
	Quantity int    `json:"quantity"`
	Wattage  int    `json:"wattage"`
}

// PerformanceReport is the output of a system performance analysis
type PerformanceReport struct {
	CustomerName       string       `json:"customer_name"`
	TotalCapacityWatts int          `json:"total_capacity_watts"`
	PanelModels        []PanelModel `json:"panel_models"`
	TimePeriod         string       `json:"time_period"`
	ExpectedKWh        float64      `json:"expected_kwh_production"`
	ActualKWh          float64      `json:"actual_kwh_production"`
	PerformanceRatio   float64      `json:"performance_ratio"`
	AvgDailyKWh        float64      `json:"avg_daily_production_kwh"`
	Recommendations    []string     `json:"recommendations"`
}

// WarrantyEntry is the warranty status of one purchased product
type WarrantyEntry struct {
	ProductName         string    `json:"product_name"`
	PurchaseDate        time.Time `json:"purchase_date"`
	WarrantyYears       int       `json:"warranty_length_years"`
	WarrantyEndDate     time.Time `json:"warranty_end_date"`
	Active              bool      `json:"warranty_active"`
	DaysRemaining       int       `json:"days_remaining"`
	PercentageRemaining float64   `json:"warranty_percentage_remaining"`
	ClaimProcess        string    `json:"claim_process"`
}

// panelWattage estimates a panel model's rated wattage
func panelWattage(model string) int {
	switch {
	case strings.Contains(model, "SunPower Double-X"):
		return wattageSunPowerDoubleX
	case strings.Contains(model, "SunPower X"):
		return wattageSunPowerX
	case strings.Contains(model, "SunPower Y"):
		return wattageSunPowerY
	default:
		return wattageDefault
	}
}

// warrantyYears determines warranty length for a product
func warrantyYears(productName, productType string) int {
	switch {
	case strings.Contains(productName, "SunPower Double-X"):
		return warrantySunPowerDoubleX
	case strings.Contains(productName, "SunPower X"):
		return warrantySunPowerX
	case strings.Contains(productName, "SunPower Y"):
		return warrantySunPowerY
	case strings.Contains(strings.ToLower(productType), "inverter"):
		return warrantyInverter
	default:
		return warrantyDefault
	}
}

// periodDays maps an analysis period to its day count and the seasonal
// efficiency observed over that horizon
func periodParams(period string) (days int, efficiency float64, err error) {
	switch period {
	case "month":
		return 30, 0.92, nil
	case "quarter":
		return 90, 0.89, nil
	case "year":
		return 365, 0.87, nil
	default:
		return 0, 0, errors.New("time_period must be one of month, quarter, year")
	}
}

// AnalyzePerformance estimates system output for the customer's
// installed panels over the given period.
func AnalyzePerformance(p *Profile, period string) (*PerformanceReport, error) {
	days, efficiency, err := periodParams(period)
	if err != nil {
		return nil, err
	}

	totalCapacity := 0
	var models []PanelModel
	for _, purchase := range p.PurchaseHistory {
		if purchase.ProductType != "panel" {
			continue
		}
		quantity := purchase.Quantity
		if quantity < 1 {
			quantity = 1
		}
		w := panelWattage(purchase.ProductName)
		totalCapacity += w * quantity
		models = append(models, PanelModel{
			Model:    purchase.ProductName,
			Quantity: quantity,
			Wattage:  w,
		})
	}
	if totalCapacity == 0 {
		return nil, errors.New("no solar panels found in customer purchase history")
	}

	expectedDaily := float64(totalCapacity) * avgDailySunHours / 1000
	actualDaily := expectedDaily * efficiency

	return &PerformanceReport{
		CustomerName:       p.Name,
		TotalCapacityWatts: totalCapacity,
		PanelModels:        models,
		TimePeriod:         period,
		ExpectedKWh:        round2(expectedDaily * float64(days)),
		ActualKWh:          round2(actualDaily * float64(days)),
		PerformanceRatio:   round1(efficiency * 100),
		AvgDailyKWh:        round2(actualDaily),
		Recommendations:    recommendations(efficiency),
	}, nil
}

// recommendations maps a performance ratio to maintenance advice
func recommendations(efficiency float64) []string {
	switch {
	case efficiency >= 0.95:
		return []string{
			"Your system is performing excellently. Continue with standard maintenance.",
		}
	case efficiency >= 0.85:
		return []string{
			"Your system is performing adequately but could be improved.",
			"Consider cleaning panels to remove potential debris or dust buildup.",
			"Check for any new shade sources that may have developed near panels.",
		}
	default:
		return []string{
			"Your system is performing below expectations.",
			"We recommend scheduling a professional inspection to identify issues.",
			"Check for inverter error codes or warning lights.",
			"Ensure all panels are clean and free from debris or shading.",
			"Monitor performance daily to identify any patterns in reduced output.",
		}
	}
}

// CheckWarranty reports warranty status for the customer's products,
// optionally filtered by product name.
func CheckWarranty(p *Profile, productFilter string, now time.Time) ([]WarrantyEntry, error) {
	products := p.PurchaseHistory
	if productFilter != "" {
		filtered := make([]Purchase, 0, len(products))
		needle := strings.ToLower(productFilter)
		for _, purchase := range products {
			if strings.Contains(strings.ToLower(purchase.ProductName), needle) {
				filtered = append(filtered, purchase)
			}
		}
		products = filtered
	}
	if len(products) == 0 {
		return nil, errors.New("no matching products found in purchase history")
	}

	entries := make([]WarrantyEntry, 0, len(products))
	for _, purchase := range products {
		years := warrantyYears(purchase.ProductName, purchase.ProductType)
		end := purchase.PurchaseDate.AddDate(years, 0, 0)
		daysRemaining := int(end.Sub(now).Hours() / 24)
		active := daysRemaining > 0
		if daysRemaining < 0 {
			daysRemaining = 0
		}

		claim := "Warranty expired"
		if active {
			claim = claimProcess(purchase.ProductName)
		}

		entries = append(entries, WarrantyEntry{
			ProductName:         purchase.ProductName,
			PurchaseDate:        purchase.PurchaseDate,
			WarrantyYears:       years,
			WarrantyEndDate:     end,
			Active:              active,
			DaysRemaining:       daysRemaining,
			PercentageRemaining: round1(float64(daysRemaining) / float64(years*365) * 100),
			ClaimProcess:        claim,
		})
	}
	return entries, nil
}

func claimProcess(productName string) string {
	if strings.Contains(productName, "SunPower") {
		return "Submit claim through SunPower warranty portal with serial number. Customer support will arrange inspection within 5-7 business days."
	}
	return "Contact customer support with product serial number to initiate warranty claim process."
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
