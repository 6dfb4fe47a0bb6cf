package handler

import (
	"time"

	billingapp "github.com/billing/backend/internal/application/billing"
	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// InvoiceHandler handles invoice-related API endpoints
type InvoiceHandler struct {
	BaseHandler
	invoiceService *billingapp.InvoiceService
}

// NewInvoiceHandler creates a new InvoiceHandler
func NewInvoiceHandler(invoiceService *billingapp.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService: invoiceService,
	}
}

// LineItemRequest represents one line on an invoice
// @Description A single invoice line item
type LineItemRequest struct {
	Title       string `json:"title" binding:"required,min=1,max=200" example:"Consulting"`
	Description string `json:"description" binding:"max=1000" example:"On-site consulting, March"`
	Quantity    string `json:"quantity" binding:"required" example:"2.5"`
	UnitPrice   int64  `json:"unit_price_minor_units" binding:"required,gt=0" example:"19999"`
	Position    int    `json:"position" example:"0"`
}

// CreateInvoiceRequest represents a request to create a new draft invoice
// @Description Request body for creating a new invoice
type CreateInvoiceRequest struct {
	CustomerID    string            `json:"customer_id" binding:"required,uuid" example:"a81bc81b-dead-4e5d-abff-90865d1e13b1"`
	CustomerName  string            `json:"customer_name" binding:"required,min=1,max=200" example:"Acme Corp"`
	CustomerEmail string            `json:"customer_email" binding:"omitempty,email,max=320" example:"billing@acme.com"`
	Currency      string            `json:"currency" binding:"omitempty,len=3" example:"USD"`
	DueDate       *time.Time        `json:"due_date" example:"2026-10-01T00:00:00Z"`
	QuoteID       *string           `json:"quote_id" binding:"omitempty,uuid"`
	Tax           int64             `json:"tax_minor_units" binding:"gte=0" example:"825"`
	LineItems     []LineItemRequest `json:"line_items" binding:"omitempty,dive"`
}

// SetTaxRequest represents a request to set the flat tax amount
// @Description Request body for setting the invoice tax
type SetTaxRequest struct {
	Tax int64 `json:"tax_minor_units" binding:"gte=0" example:"825"`
}

// CancelInvoiceRequest represents a request to cancel an invoice
// @Description Request body for cancelling an invoice
type CancelInvoiceRequest struct {
	Reason string `json:"reason" binding:"max=500" example:"Customer withdrew the order"`
}

// ManualPaymentRequest represents an out-of-band payment entry
// @Description Request body for recording a manual payment
type ManualPaymentRequest struct {
	Amount     int64      `json:"amount_minor_units" binding:"required,gt=0" example:"10000"`
	Method     string     `json:"method" binding:"required,oneof=CASH CHECK CARD_MANUAL BANK_TRANSFER OTHER" example:"CHECK"`
	Reference  string     `json:"reference" binding:"max=200" example:"check #1042"`
	ReceivedAt *time.Time `json:"received_at"`
}

// AttachPaymentIntentRequest represents a request to attach a provider
// payment intent to an invoice
// @Description Request body for attaching a payment intent
type AttachPaymentIntentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required,min=1,max=100" example:"pi_3MtwBwLkdIwHu7ix28a3tqPa"`
}

// InvoiceListFilter represents invoice list query parameters
type InvoiceListFilter struct {
	Page       int        `form:"page"`
	PageSize   int        `form:"page_size"`
	OrderBy    string     `form:"order_by"`
	OrderDir   string     `form:"order_dir" binding:"omitempty,oneof=asc desc"`
	Search     string     `form:"search"`
	CustomerID *string    `form:"customer_id" binding:"omitempty,uuid"`
	Status     *string    `form:"status" binding:"omitempty,oneof=DRAFT SENT PARTIALLY_PAID PAID OVERDUE CANCELLED"`
	QuoteID    *string    `form:"quote_id" binding:"omitempty,uuid"`
	FromDate   *time.Time `form:"from_date"`
	ToDate     *time.Time `form:"to_date"`
	DueFrom    *time.Time `form:"due_from"`
	DueTo      *time.Time `form:"due_to"`
	Overdue    *bool      `form:"overdue"`
}

// OverdueSweepRequest represents a request to run the overdue sweep
// @Description Request body for the overdue sweep
type OverdueSweepRequest struct {
	AsOf  *time.Time `json:"as_of"`
	Limit int        `json:"limit" binding:"gte=0,lte=1000" example:"500"`
}

// SweepResultResponse reports how many invoices the sweep transitioned
type SweepResultResponse struct {
	Swept int `json:"swept" example:"3"`
}

// Create godoc
// @ID           createInvoice
// @Summary      Create a new invoice
// @Description  Create a new draft invoice with optional initial line items
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        request body CreateInvoiceRequest true "Invoice creation request"
// @Success      201 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /billing/invoices [post]
func (h *InvoiceHandler) Create(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		h.BadRequest(c, "Invalid customer ID format")
		return
	}

	input := billingapp.CreateInvoiceInput{
		TenantID:      tenantID,
		CustomerID:    customerID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Currency:      valueobject.Currency(req.Currency),
		DueDate:       req.DueDate,
		Tax:           req.Tax,
		LineItems:     toLineItemInputs(req.LineItems),
	}

	if req.QuoteID != nil {
		quoteID, err := uuid.Parse(*req.QuoteID)
		if err != nil {
			h.BadRequest(c, "Invalid quote ID format")
			return
		}
		input.QuoteID = &quoteID
	}

	invoice, err := h.invoiceService.CreateInvoice(c.Request.Context(), input)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, invoice)
}

// GetByID godoc
// @ID           getInvoiceById
// @Summary      Get invoice by ID
// @Description  Retrieve an invoice with its derived financial state
// @Tags         invoices
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        id path string true "Invoice ID" format(uuid)
// @Success      200 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /billing/invoices/{id} [get]
func (h *InvoiceHandler) GetByID(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	invoice, err := h.invoiceService.GetInvoice(c.Request.Context(), tenantID, invoiceID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, invoice)
}

// GetByNumber godoc
// @ID           getInvoiceByNumber
// @Summary      Get invoice by number
// @Description  Retrieve an invoice by its human-readable number
// @Tags         invoices
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        number path string true "Invoice number"
// @Success      200 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /billing/invoices/number/{number} [get]
func (h *InvoiceHandler) GetByNumber(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	number := c.Param("number")
	if number == "" {
		h.BadRequest(c, "Invoice number is required")
		return
	}

	invoice, err := h.invoiceService.GetInvoiceByNumber(c.Request.Context(), tenantID, number)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, invoice)
}

// List godoc
// @ID           listInvoices
// @Summary      List invoices
// @Description  Retrieve a paginated list of invoices with optional filtering
// @Tags         invoices
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        search query string false "Search term (number, customer name, email)"
// @Param        status query string false "Invoice status" Enums(DRAFT, SENT, PARTIALLY_PAID, PAID, OVERDUE, CANCELLED)
// @Param        customer_id query string false "Customer ID" format(uuid)
// @Param        overdue query bool false "Only invoices past due with an open balance"
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20) maximum(100)
// @Success      200 {object} APIResponse[[]billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /billing/invoices [get]
func (h *InvoiceHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var query InvoiceListFilter
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	filter, err := toInvoiceFilter(query)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	page, err := h.invoiceService.ListInvoices(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, page.Items, page.Total, filter.Page, filter.PageSize)
}

// AddLineItem godoc
// @ID           addInvoiceLineItem
// @Summary      Add a line item
// @Description  Add a line item to a draft invoice
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        id path string true "Invoice ID" format(uuid)
// @Param        request body LineItemRequest true "Line item"
// @Success      200 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /billing/invoices/{id}/line-items [post]
func (h *InvoiceHandler) AddLineItem(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	var req LineItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	invoice, err := h.invoiceService.AddLineItem(c.Request.Context(), tenantID, invoiceID, billingapp.LineItemInput{
		Title:       req.Title,
		Description: req.Description,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		Position:    req.Position,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, invoice)
}

// RemoveLineItem godoc
// @ID           removeInvoiceLineItem
// @Summary      Remove a line item
// @Description  Remove a line item from a draft invoice
// @Tags         invoices
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        id path string true "Invoice ID" format(uuid)
// @Param        itemId path string true "Line item ID" format(uuid)
// @Success      200 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /billing/invoices/{id}/line-items/{itemId} [delete]
func (h *InvoiceHandler) RemoveLineItem(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	itemID, err := uuid.Parse(c.Param("itemId"))
	if err != nil {
		h.BadRequest(c, "Invalid line item ID format")
		return
	}

	invoice, err := h.invoiceService.RemoveLineItem(c.Request.Context(), tenantID, invoiceID, itemID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, invoice)
}

// SetTax godoc
// @ID           setInvoiceTax
// @Summary      Set invoice tax
// @Description  Set the flat tax amount on a draft invoice
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        id path string true "Invoice ID" format(uuid)
// @Param        request body SetTaxRequest true "Tax amount"
// @Success      200 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /billing/invoices/{id}/tax [put]
func (h *InvoiceHandler) SetTax(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	var req SetTaxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	invoice, err := h.invoiceService.SetTax(c.Request.Context(), tenantID, invoiceID, req.Tax)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, invoice)
}

// Send godoc
// @ID           sendInvoice
// @Summary      Send an invoice
// @Description  Issue a draft invoice to the customer and email a copy
// @Tags         invoices
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        id path string true "Invoice ID" format(uuid)
// @Success      200 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /billing/invoices/{id}/send [post]
func (h *InvoiceHandler) Send(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	invoice, err := h.invoiceService.SendInvoice(c.Request.Context(), tenantID, invoiceID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, invoice)
}

// Cancel godoc
// @ID           cancelInvoice
// @Summary      Cancel an invoice
// @Description  Cancel an invoice that has not received any payment
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        id path string true "Invoice ID" format(uuid)
// @Param        request body CancelInvoiceRequest false "Cancellation reason"
// @Success      200 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /billing/invoices/{id}/cancel [post]
func (h *InvoiceHandler) Cancel(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	var req CancelInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		h.BadRequest(c, err.Error())
		return
	}

	invoice, err := h.invoiceService.CancelInvoice(c.Request.Context(), tenantID, invoiceID, req.Reason)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, invoice)
}

// RecordPayment godoc
// @ID           recordInvoicePayment
// @Summary      Record a manual payment
// @Description  Record an out-of-band payment (cash, check, bank transfer) against an invoice
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        id path string true "Invoice ID" format(uuid)
// @Param        request body ManualPaymentRequest true "Payment details"
// @Success      200 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /billing/invoices/{id}/payments [post]
func (h *InvoiceHandler) RecordPayment(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	var req ManualPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	receivedAt := time.Now()
	if req.ReceivedAt != nil {
		receivedAt = *req.ReceivedAt
	}

	invoice, err := h.invoiceService.RecordManualPayment(c.Request.Context(), tenantID, invoiceID, billingapp.ManualPaymentInput{
		Amount:     req.Amount,
		Method:     billing.PaymentMethod(req.Method),
		Reference:  req.Reference,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, invoice)
}

// AttachPaymentIntent godoc
// @ID           attachInvoicePaymentIntent
// @Summary      Attach a payment intent
// @Description  Attach a provider payment intent identifier to an open invoice
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        id path string true "Invoice ID" format(uuid)
// @Param        request body AttachPaymentIntentRequest true "Payment intent"
// @Success      200 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /billing/invoices/{id}/payment-intent [put]
func (h *InvoiceHandler) AttachPaymentIntent(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	var req AttachPaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	invoice, err := h.invoiceService.AttachPaymentIntent(c.Request.Context(), tenantID, invoiceID, req.PaymentIntentID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, invoice)
}

// RunOverdueSweep godoc
// @ID           runOverdueSweep
// @Summary      Run the overdue sweep
// @Description  Transition sent invoices past their due date to overdue
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        request body OverdueSweepRequest false "Sweep options"
// @Success      200 {object} APIResponse[SweepResultResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /billing/invoices/sweep-overdue [post]
func (h *InvoiceHandler) RunOverdueSweep(c *gin.Context) {
	var req OverdueSweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		h.BadRequest(c, err.Error())
		return
	}

	asOf := time.Now()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 500
	}

	swept, err := h.invoiceService.RunOverdueSweep(c.Request.Context(), asOf, limit)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, SweepResultResponse{Swept: swept})
}

func toLineItemInputs(items []LineItemRequest) []billingapp.LineItemInput {
	inputs := make([]billingapp.LineItemInput, 0, len(items))
	for _, item := range items {
		inputs = append(inputs, billingapp.LineItemInput{
			Title:       item.Title,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Position:    item.Position,
		})
	}
	return inputs
}

func toInvoiceFilter(query InvoiceListFilter) (billing.InvoiceFilter, error) {
	filter := billing.InvoiceFilter{
		Filter:   shared.DefaultFilter(),
		FromDate: query.FromDate,
		ToDate:   query.ToDate,
		DueFrom:  query.DueFrom,
		DueTo:    query.DueTo,
		Overdue:  query.Overdue,
	}

	if query.Page > 0 {
		filter.Page = query.Page
	}
	if query.PageSize > 0 {
		filter.PageSize = query.PageSize
	}
	if query.OrderBy != "" {
		filter.OrderBy = query.OrderBy
	}
	if query.OrderDir != "" {
		filter.OrderDir = query.OrderDir
	}
	filter.Search = query.Search

	if query.CustomerID != nil {
		customerID, err := uuid.Parse(*query.CustomerID)
		if err != nil {
			return filter, err
		}
		filter.CustomerID = &customerID
	}
	if query.QuoteID != nil {
		quoteID, err := uuid.Parse(*query.QuoteID)
		if err != nil {
			return filter, err
		}
		filter.QuoteID = &quoteID
	}
	if query.Status != nil {
		status := billing.InvoiceStatus(*query.Status)
		filter.Status = &status
	}

	return filter, nil
}
