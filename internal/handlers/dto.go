package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/printshopapp/printshop/internal/models"
	"github.com/printshopapp/printshop/internal/services"
)

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type orderItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0,lte=1000"`
}

type addressRequest struct {
	Address1   string `json:"address1" validate:"required,max=255"`
	Address2   string `json:"address2" validate:"max=255"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,max=100"`
}

func (a addressRequest) toModel() models.Address {
	return models.Address{
		Line1:      a.Address1,
		Line2:      a.Address2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

type submitOrderRequest struct {
	Items              []orderItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
	FulfillmentDetails *addressRequest    `json:"fulfillmentDetails" validate:"required"`
}

func (r submitOrderRequest) toInput() services.SubmitOrderInput {
	items := make([]services.OrderItemInput, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, services.OrderItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return services.SubmitOrderInput{Items: items, Address: r.FulfillmentDetails.toModel()}
}

type shippingAddressRequest struct {
	FulfillmentDetails *addressRequest `json:"fulfillmentDetails" validate:"required"`
}

type fulfillmentUpdateRequest struct {
	FulfillmentStatus string `json:"fulfillment_status" validate:"required,oneof=unfulfilled processing shipped delivered"`
	Carrier           string `json:"carrier" validate:"max=50"`
	TrackingNumber    string `json:"tracking_number" validate:"max=100"`
	TrackingURL       string `json:"tracking_url" validate:"omitempty,url,max=500"`
}

func (r fulfillmentUpdateRequest) toInput() services.FulfillmentUpdateInput {
	return services.FulfillmentUpdateInput{
		Status:         models.FulfillmentStatus(r.FulfillmentStatus),
		Carrier:        r.Carrier,
		TrackingNumber: r.TrackingNumber,
		TrackingURL:    r.TrackingURL,
	}
}

type paymentIntentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
}

type ordersResponse struct {
	Orders []*models.Order `json:"orders"`
}

type paymentsResponse struct {
	Payments []models.Payment `json:"payments"`
}

type webhookResponse struct {
	Received bool             `json:"received"`
	Outcome  services.Outcome `json:"outcome,omitempty"`
}

// decodeRequest reads a bounded JSON body into dst and validates it.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &services.ValidationError{Fields: map[string]string{"body": "is required"}}
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &services.ValidationError{Fields: map[string]string{"body": "is too large"}}
		}
		return &services.ValidationError{Fields: map[string]string{"body": "must be valid JSON"}}
	}

	if err := requestValidator.Struct(dst); err != nil {
		return validationErrorFrom(err)
	}
	return nil
}

func validationErrorFrom(err error) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("%w: %v", services.ErrValidation, err)
	}

	verr := &services.ValidationError{Fields: make(map[string]string, len(fieldErrors))}
	for _, fe := range fieldErrors {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		if _, exists := verr.Fields[field]; !exists {
			verr.Fields[field] = fieldMessage(fe)
		}
	}
	return verr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "lte", "max":
		switch fe.Kind() {
		case reflect.String:
			return "must be at most " + fe.Param() + " characters"
		case reflect.Slice:
			return "must have at most " + fe.Param() + " entries"
		default:
			return "must be at most " + fe.Param()
		}
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a valid URL"
	default:
		return "is invalid"
	}
}

func orderIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &services.ValidationError{Fields: map[string]string{"id": "must be a valid order id"}}
	}
	return id, nil
}
