package support

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundesk/sundesk/pkg/ticket"
	"github.com/sundesk/sundesk/pkg/tool"
)

func createTestToolset(t *testing.T) (*Toolset, *tool.Registry) {
	t.Helper()

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	dir := t.TempDir()

	profiles, err := NewProfileStore(filepath.Join(dir, "profiles.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { profiles.Close() })

	tickets, err := ticket.NewStore(filepath.Join(dir, "tickets.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { tickets.Close() })

	_, err = SeedProfiles(context.Background(), profiles, 3)
	require.NoError(t, err)

	ts := NewToolset(profiles, tickets, nil, logger)
	registry := tool.NewRegistry()
	require.NoError(t, ts.Register(registry))
	return ts, registry
}

func TestRegisterInstallsTools(t *testing.T) {
	_, registry := createTestToolset(t)

	names := registry.List()
	assert.Contains(t, names, ToolGetCustomerProfile)
	assert.Contains(t, names, ToolUpdateCustomerProfile)
	assert.Contains(t, names, ToolAnalyzePerformance)
	assert.Contains(t, names, ToolCheckWarranty)
	assert.Contains(t, names, ToolCreateSupportTicket)
	assert.Contains(t, names, ToolGetCustomerTickets)

	// No knowledge index configured, so no search tool
	assert.NotContains(t, names, ToolSearchKnowledgeBase)
}

func TestGetCustomerProfileTool(t *testing.T) {
	_, registry := createTestToolset(t)
	ctx := context.Background()

	outcome := registry.Dispatch(ctx, ToolGetCustomerProfile,
		map[string]interface{}{"customer_id": "CUST100"}, tool.DispatchOptions{})
	require.NoError(t, outcome.Err)

	profile, ok := outcome.Output.(*Profile)
	require.True(t, ok)
	assert.Equal(t, "CUST100", profile.CustomerID)

	outcome = registry.Dispatch(ctx, ToolGetCustomerProfile,
		map[string]interface{}{"email": "customer2@example.com"}, tool.DispatchOptions{})
	require.NoError(t, outcome.Err)
	profile = outcome.Output.(*Profile)
	assert.Equal(t, "CUST101", profile.CustomerID)

	// Neither id nor email
	outcome = registry.Dispatch(ctx, ToolGetCustomerProfile, map[string]interface{}{}, tool.DispatchOptions{})
	assert.Error(t, outcome.Err)
}

func TestUpdateCustomerProfileTool(t *testing.T) {
	_, registry := createTestToolset(t)

	outcome := registry.Dispatch(context.Background(), ToolUpdateCustomerProfile, map[string]interface{}{
		"customer_id": "CUST100",
		"updates":     map[string]interface{}{"state": "Nevada"},
	}, tool.DispatchOptions{})
	require.NoError(t, outcome.Err)

	profile := outcome.Output.(*Profile)
	assert.Equal(t, "Nevada", profile.State)
}

func TestAnalyzePerformanceTool(t *testing.T) {
	_, registry := createTestToolset(t)

	outcome := registry.Dispatch(context.Background(), ToolAnalyzePerformance, map[string]interface{}{
		"customer_id": "CUST100",
		"time_period": "quarter",
	}, tool.DispatchOptions{})
	require.NoError(t, outcome.Err)

	report := outcome.Output.(*PerformanceReport)
	assert.Equal(t, "quarter", report.TimePeriod)
	assert.Greater(t, report.TotalCapacityWatts, 0)
}

func TestAnalyzePerformanceToolRejectsBadPeriod(t *testing.T) {
	_, registry := createTestToolset(t)

	// Enum mismatch is caught by schema validation before the handler
	outcome := registry.Dispatch(context.Background(), ToolAnalyzePerformance, map[string]interface{}{
		"customer_id": "CUST100",
		"time_period": "decade",
	}, tool.DispatchOptions{})
	assert.ErrorIs(t, outcome.Err, tool.ErrSchemaMismatch)
}

func TestCreateSupportTicketTool(t *testing.T) {
	_, registry := createTestToolset(t)
	ctx := context.Background()

	params := map[string]interface{}{
		"customer_id": "CUST100",
		"title":       "Inverter offline",
		"description": "Inverter LEDs dark since Monday.",
		"ticket_type": ticket.TypeTechnical,
	}
	opts := tool.DispatchOptions{IdempotencyKey: "sess-1"}

	outcome := registry.Dispatch(ctx, ToolCreateSupportTicket, params, opts)
	require.NoError(t, outcome.Err)
	first := outcome.Output.(map[string]interface{})
	assert.NotEmpty(t, first["ticket_id"])

	// Retrying with the same session key returns the same ticket
	outcome = registry.Dispatch(ctx, ToolCreateSupportTicket, params, opts)
	require.NoError(t, outcome.Err)
	second := outcome.Output.(map[string]interface{})
	assert.Equal(t, first["ticket_id"], second["ticket_id"])

	// Without an idempotency key the tool refuses to create a ticket
	outcome = registry.Dispatch(ctx, ToolCreateSupportTicket, params, tool.DispatchOptions{})
	assert.Error(t, outcome.Err)
}

type conflictGateway struct {
	ticket.Gateway
	existing *ticket.Ticket
}

func (g *conflictGateway) Escalate(ctx context.Context, req ticket.Request) (*ticket.Ticket, error) {
	return g.existing, ticket.ErrConflict
}

func TestCreateSupportTicketToolSurfacesConflictTicket(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	existing := &ticket.Ticket{
		ID:            "tick-1",
		CorrelationID: "corr-1",
		Type:          ticket.TypeTechnical,
		Status:        ticket.StatusOpen,
	}

	ts := NewToolset(nil, &conflictGateway{existing: existing}, nil, logger)
	registry := tool.NewRegistry()
	require.NoError(t, ts.Register(registry))

	outcome := registry.Dispatch(context.Background(), ToolCreateSupportTicket, map[string]interface{}{
		"customer_id": "CUST100",
		"title":       "Inverter offline",
		"description": "Inverter LEDs dark since Monday.",
		"ticket_type": ticket.TypeTechnical,
	}, tool.DispatchOptions{IdempotencyKey: "sess-1"})

	// A trigger conflict is not an error to the model; the existing
	// ticket comes back in the payload
	require.NoError(t, outcome.Err)
	payload := outcome.Output.(map[string]interface{})
	assert.Equal(t, "tick-1", payload["ticket_id"])
	assert.Contains(t, payload["message"], "existing")
}

func TestGetCustomerTicketsTool(t *testing.T) {
	_, registry := createTestToolset(t)
	ctx := context.Background()

	outcome := registry.Dispatch(ctx, ToolGetCustomerTickets,
		map[string]interface{}{"customer_id": "CUST100"}, tool.DispatchOptions{})
	require.NoError(t, outcome.Err)
	result := outcome.Output.(map[string]interface{})
	assert.Equal(t, 0, result["count"])

	createOutcome := registry.Dispatch(ctx, ToolCreateSupportTicket, map[string]interface{}{
		"customer_id": "CUST100",
		"title":       "Cracked panel",
		"description": "Hail damage on two panels.",
		"ticket_type": ticket.TypeMaintenance,
	}, tool.DispatchOptions{IdempotencyKey: "sess-2"})
	require.NoError(t, createOutcome.Err)

	outcome = registry.Dispatch(ctx, ToolGetCustomerTickets,
		map[string]interface{}{"customer_id": "CUST100"}, tool.DispatchOptions{})
	require.NoError(t, outcome.Err)
	result = outcome.Output.(map[string]interface{})
	assert.Equal(t, 1, result["count"])
}
