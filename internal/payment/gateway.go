package payment

import (
	"context"
	"fmt"
)

// Gateway is an upstream payment processor. Concrete gateways wrap a real
// provider's client; RazorpayGateway simulates successful calls while
// PaytmGateway is left as a named stub for the second provider.
type Gateway interface {
	Name() string
	CreatePayment(ctx context.Context, riderID string, amountPaise int64) (reference string, err error)
	VerifyPayment(ctx context.Context, reference string) (bool, error)
	RefundPayment(ctx context.Context, reference string, amountPaise int64) error
}

// RazorpayGateway is the primary configured gateway. The actual HTTP calls
// to Razorpay are out of scope for this module (no Razorpay SDK appears
// anywhere in the example pack to ground one on); CreatePayment/VerifyPayment
// simulate a successful round trip so the orchestration above it — retries,
// circuit breaking, payout scheduling — can be fully exercised.
type RazorpayGateway struct{}

// NewRazorpayGateway constructs the gateway.
func NewRazorpayGateway() *RazorpayGateway { return &RazorpayGateway{} }

// Name identifies the gateway in transaction records.
func (g *RazorpayGateway) Name() string { return "razorpay" }

// CreatePayment issues a charge and returns a provider reference.
func (g *RazorpayGateway) CreatePayment(ctx context.Context, riderID string, amountPaise int64) (string, error) {
	return fmt.Sprintf("rzp_%s_%d", riderID, amountPaise), nil
}

// VerifyPayment confirms a previously created payment settled.
func (g *RazorpayGateway) VerifyPayment(ctx context.Context, reference string) (bool, error) {
	return reference != "", nil
}

// RefundPayment reverses a settled payment.
func (g *RazorpayGateway) RefundPayment(ctx context.Context, reference string, amountPaise int64) error {
	return nil
}

// PaytmGateway is the secondary gateway, unimplemented upstream just as in
// the original service (its PaytmGateway methods raised NotImplementedError);
// kept here as the second Gateway implementation. cmd/server wires only
// RazorpayGateway.
type PaytmGateway struct{}

// NewPaytmGateway constructs the stub gateway.
func NewPaytmGateway() *PaytmGateway { return &PaytmGateway{} }

// Name identifies the gateway in transaction records.
func (g *PaytmGateway) Name() string { return "paytm" }

// CreatePayment is not implemented for Paytm in this deployment.
func (g *PaytmGateway) CreatePayment(ctx context.Context, riderID string, amountPaise int64) (string, error) {
	return "", fmt.Errorf("paytm gateway not implemented")
}

// VerifyPayment is not implemented for Paytm in this deployment.
func (g *PaytmGateway) VerifyPayment(ctx context.Context, reference string) (bool, error) {
	return false, fmt.Errorf("paytm gateway not implemented")
}

// RefundPayment is not implemented for Paytm in this deployment.
func (g *PaytmGateway) RefundPayment(ctx context.Context, reference string, amountPaise int64) error {
	return fmt.Errorf("paytm gateway not implemented")
}
