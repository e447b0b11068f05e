package support

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sundesk/sundesk/pkg/knowledge"
	"github.com/sundesk/sundesk/pkg/ticket"
	"github.com/sundesk/sundesk/pkg/tool"
)

// Tool names exposed to the model
const (
	ToolGetCustomerProfile    = "get_customer_profile"
	ToolUpdateCustomerProfile = "update_customer_profile"
	ToolAnalyzePerformance    = "analyze_system_performance"
	ToolCheckWarranty         = "check_warranty_status"
	ToolCreateSupportTicket   = "create_support_ticket"
	ToolGetCustomerTickets    = "get_customer_tickets"
	ToolSearchKnowledgeBase   = "search_knowledge_base"
)

// Toolset binds the support domain stores to agent-callable tools
type Toolset struct {
	profiles *ProfileStore
	tickets  ticket.Gateway
	kb       *knowledge.Index
	logger   zerolog.Logger
}

// NewToolset creates the support toolset. kb may be nil when the
// knowledge base is disabled.
func NewToolset(profiles *ProfileStore, tickets ticket.Gateway, kb *knowledge.Index, logger zerolog.Logger) *Toolset {
	return &Toolset{
		profiles: profiles,
		tickets:  tickets,
		kb:       kb,
		logger:   logger,
	}
}

// Register installs every support tool into the registry
func (ts *Toolset) Register(registry *tool.Registry) error {
	defs := []tool.Definition{
		{
			Name:        ToolGetCustomerProfile,
			Description: "Get customer profile information by customer ID or email.",
			Parameters: []tool.Parameter{
				{Name: "customer_id", Type: "string", Description: "The customer ID to look up"},
				{Name: "email", Type: "string", Description: "The customer email to look up"},
			},
			Handler: ts.getCustomerProfile,
		},
		{
			Name:        ToolUpdateCustomerProfile,
			Description: "Update customer profile fields such as contact details or preferences.",
			Parameters: []tool.Parameter{
				{Name: "customer_id", Type: "string", Description: "The customer ID to update", Required: true},
				{Name: "updates", Type: "object", Description: "Field/value pairs to apply", Required: true},
			},
			SideEffecting: true,
			Handler:       ts.updateCustomerProfile,
		},
		{
			Name:        ToolAnalyzePerformance,
			Description: "Analyze a customer's solar system performance based on their installed panels.",
			Parameters: []tool.Parameter{
				{Name: "customer_id", Type: "string", Description: "The customer ID to look up"},
				{Name: "email", Type: "string", Description: "The customer email to look up"},
				{Name: "time_period", Type: "string", Description: "Analysis period", Enum: []string{"month", "quarter", "year"}, Default: "month"},
			},
			Handler: ts.analyzePerformance,
		},
		{
			Name:        ToolCheckWarranty,
			Description: "Check warranty status for customer products and provide claim information.",
			Parameters: []tool.Parameter{
				{Name: "customer_id", Type: "string", Description: "The customer ID to look up"},
				{Name: "email", Type: "string", Description: "The customer email to look up"},
				{Name: "product_name", Type: "string", Description: "Specific product to check warranty for"},
			},
			Handler: ts.checkWarranty,
		},
		{
			Name:        ToolCreateSupportTicket,
			Description: "Create a support ticket when an issue needs human follow-up.",
			Parameters: []tool.Parameter{
				{Name: "customer_id", Type: "string", Description: "ID of the customer with the issue", Required: true},
				{Name: "title", Type: "string", Description: "One-line summary of the support issue", Required: true},
				{Name: "description", Type: "string", Description: "Detailed description of the issue", Required: true},
				{Name: "ticket_type", Type: "string", Description: "Category of the issue", Required: true,
					Enum: []string{ticket.TypeInstallation, ticket.TypeMaintenance, ticket.TypePerformance, ticket.TypeBilling, ticket.TypeTechnical}},
			},
			SideEffecting: true,
			Handler:       ts.createSupportTicket,
		},
		{
			Name:        ToolGetCustomerTickets,
			Description: "List all support tickets for a customer.",
			Parameters: []tool.Parameter{
				{Name: "customer_id", Type: "string", Description: "ID of the customer to look up", Required: true},
			},
			Handler: ts.getCustomerTickets,
		},
	}

	if ts.kb != nil {
		defs = append(defs, tool.Definition{
			Name:        ToolSearchKnowledgeBase,
			Description: "Search the solar support knowledge base for relevant articles.",
			Parameters: []tool.Parameter{
				{Name: "query", Type: "string", Description: "Search query", Required: true},
				{Name: "limit", Type: "number", Description: "Maximum results to return", Default: 5},
			},
			Handler: ts.searchKnowledgeBase,
		})
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}
	return nil
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func (ts *Toolset) getCustomerProfile(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return ts.profiles.Lookup(ctx, stringParam(params, "customer_id"), stringParam(params, "email"))
}

func (ts *Toolset) updateCustomerProfile(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	updates, ok := params["updates"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("updates must be an object")
	}
	return ts.profiles.ApplyUpdates(ctx, stringParam(params, "customer_id"), updates)
}

func (ts *Toolset) analyzePerformance(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	profile, err := ts.profiles.Lookup(ctx, stringParam(params, "customer_id"), stringParam(params, "email"))
	if err != nil {
		return nil, err
	}

	period := stringParam(params, "time_period")
	if period == "" {
		period = "month"
	}
	return AnalyzePerformance(profile, period)
}

func (ts *Toolset) checkWarranty(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	profile, err := ts.profiles.Lookup(ctx, stringParam(params, "customer_id"), stringParam(params, "email"))
	if err != nil {
		return nil, err
	}

	entries, err := CheckWarranty(profile, stringParam(params, "product_name"), time.Now())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"customer_name":        profile.Name,
		"warranty_information": entries,
	}, nil
}

func (ts *Toolset) createSupportTicket(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	// The dispatch idempotency key carries the session id so retried
	// escalations collapse onto one ticket
	sessionID := tool.IdempotencyKeyFromContext(ctx)
	if sessionID == "" {
		return nil, fmt.Errorf("ticket creation requires a session idempotency key")
	}

	title := stringParam(params, "title")
	created, err := ts.tickets.Escalate(ctx, ticket.Request{
		SessionID:   sessionID,
		CustomerID:  stringParam(params, "customer_id"),
		Trigger:     title,
		Type:        stringParam(params, "ticket_type"),
		Subject:     title,
		Description: stringParam(params, "description"),
	})
	message := ""
	switch {
	case err == nil:
		message = fmt.Sprintf("%s support ticket created successfully", created.Type)
	case errors.Is(err, ticket.ErrConflict) && created != nil:
		// A different trigger collided on this session's correlation
		// id; the customer is pointed at the ticket that already exists
		message = fmt.Sprintf("Request matches existing %s support ticket %s", created.Type, created.ID)
	default:
		return nil, err
	}

	return map[string]interface{}{
		"ticket_id":      created.ID,
		"correlation_id": created.CorrelationID,
		"status":         created.Status,
		"message":        message,
	}, nil
}

func (ts *Toolset) getCustomerTickets(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	tickets, err := ts.tickets.ListByCustomer(ctx, stringParam(params, "customer_id"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"count":   len(tickets),
		"tickets": tickets,
	}, nil
}

func (ts *Toolset) searchKnowledgeBase(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	limit := 5
	if n, ok := params["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}

	results, err := ts.kb.Search(ctx, stringParam(params, "query"), &knowledge.SearchOptions{
		Limit:         limit,
		VectorWeight:  0.6,
		KeywordWeight: 0.4,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"count":   len(results),
		"results": results,
	}, nil
}
