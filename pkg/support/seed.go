package support

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var seedCountries = []string{"USA", "Canada", "Australia", "UK", "Germany"}

var seedStates = map[string][]string{
	"USA":       {"California", "Texas", "New York", "Florida", "Washington"},
	"Canada":    {"Ontario", "Quebec", "British Columbia", "Alberta"},
	"Australia": {"New South Wales", "Victoria", "Queensland"},
	"UK":        {"England", "Scotland", "Wales"},
	"Germany":   {"Bavaria", "Berlin", "Hesse"},
}

var seedProducts = []struct {
	Name  string
	Price float64
	Type  string
}{
	{"SunPower X", 1200, "panel"},
	{"SunPower Y", 800, "panel"},
	{"SunPower Double-X", 1600, "panel"},
	{"PowerWall Battery", 5000, "battery"},
	{"SolarInverter X1", 1500, "inverter"},
	{"EcoCharge Controller", 300, "controller"},
}

// SeedProfiles generates synthetic customer profiles for demos and
// local development. Profiles get ids CUST100, CUST101 and so on.
func SeedProfiles(ctx context.Context, store *ProfileStore, count int) ([]string, error) {
	if count <= 0 {
		count = 10
	}

	now := time.Now()
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		customerID := fmt.Sprintf("CUST%d", 100+i)
		country := seedCountries[i%len(seedCountries)]
		states := seedStates[country]

		purchaseCount := (i % 3) + 1
		purchases := make([]Purchase, 0, purchaseCount)
		for j := 0; j < purchaseCount; j++ {
			product := seedProducts[(i+j)%len(seedProducts)]
			purchases = append(purchases, Purchase{
				PurchaseID:   fmt.Sprintf("PUR%d%d", 100+i, j),
				ProductName:  product.Name,
				ProductType:  product.Type,
				Price:        product.Price,
				Quantity:     (j % 2) + 1,
				PurchaseDate: now.AddDate(-(i%6), -(j % 12), 0),
			})
		}

		profile := &Profile{
			CustomerID:      customerID,
			Name:            fmt.Sprintf("Customer %d", i+1),
			Email:           fmt.Sprintf("customer%d@example.com", i+1),
			Country:         country,
			State:           states[i%len(states)],
			PurchaseHistory: purchases,
			Preferences: Preferences{
				ContactPreference:   map[bool]string{true: "email", false: "phone"}[i%2 == 0],
				Newsletter:          i%3 == 0,
				MaintenanceReminder: i%2 == 0,
			},
		}
		if err := store.Save(ctx, profile); err != nil {
			return nil, fmt.Errorf("failed to seed %s: %w", customerID, err)
		}
		ids = append(ids, customerID)
	}
	return ids, nil
}

var seedArticles = map[string]string{
	"panel-cleaning.md": `# Panel Cleaning

Clean panels at dawn or dusk with deionized water and a soft brush. Never
use abrasive pads on the anti-reflective coating.

Dust and pollen buildup can cut output by five to ten percent in dry
seasons. Schedule cleaning quarterly in arid regions.`,

	"inverter-faults.md": `# Inverter Fault Codes

A steady green light means normal operation. A flashing red light
indicates a ground fault; switch off the AC isolator and contact support.

Error E031 signals grid overvoltage. The inverter reconnects
automatically once grid conditions normalize.`,

	"warranty-claims.md": `# Warranty Claims

SunPower panels carry model-specific warranties: 25 years for SunPower X,
20 years for SunPower Y, and 30 years for SunPower Double-X. Inverters
carry a 10 year warranty.

Submit claims through the warranty portal with the product serial number.
An inspection is arranged within 5-7 business days.`,

	"billing-net-metering.md": `# Billing and Net Metering

Net metering credits appear on the monthly statement as negative kWh
line items. Credits roll over month to month and reset annually.

Billing disputes should include the statement period and the meter
readings in question.`,
}

// SeedKnowledgeDocs writes the starter article set into docsPath
func SeedKnowledgeDocs(docsPath string) error {
	if err := os.MkdirAll(docsPath, 0755); err != nil {
		return fmt.Errorf("failed to create docs directory: %w", err)
	}
	for name, content := range seedArticles {
		path := filepath.Join(docsPath, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}
