package robokassa

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const paymentBaseURL = "https://auth.robokassa.ru/Merchant/Index.aspx"

// Config holds RoboKassa configuration
type Config struct {
	MerchantLogin string        // Merchant login (MrchLogin)
	Password1     string        // Password #1 for payment initialization
	Password2     string        // Password #2 for webhook verification (ResultURL)
	TestMode      bool          // Test mode flag
	HashAlgo      HashAlgorithm // Hash algorithm: MD5 or SHA256 (default: SHA256)
}

// Client represents RoboKassa payment gateway client
type Client struct {
	config Config
}

// CreatePaymentRequest represents payment creation request
type CreatePaymentRequest struct {
	Amount      float64           // Payment amount
	InvID       int64             // Invoice ID (unique order identifier)
	Description string            // Payment description
	Email       string            // Optional: user email
	Shp         map[string]string // Optional: custom parameters (shp_*)
}

// CreatePaymentResponse carries the payment redirect URL.
// RoboKassa doesn't return JSON - payment is a signed GET redirect.
type CreatePaymentResponse struct {
	PaymentURL string
	InvID      int64
}

// NewClient creates new RoboKassa client
func NewClient(cfg Config) *Client {
	return &Client{config: cfg}
}

// CreatePayment generates a signed payment URL for user redirect
func (c *Client) CreatePayment(req CreatePaymentRequest) (*CreatePaymentResponse, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("validation error: amount must be > 0")
	}
	if req.InvID <= 0 {
		return nil, fmt.Errorf("validation error: invoice ID must be > 0")
	}
	if strings.TrimSpace(c.config.MerchantLogin) == "" {
		return nil, fmt.Errorf("robokassa config error: merchant_login is empty")
	}
	if strings.TrimSpace(c.config.Password1) == "" {
		return nil, fmt.Errorf("robokassa config error: password1 is empty")
	}

	outSum := fmt.Sprintf("%.2f", req.Amount)

	algo := c.config.HashAlgo
	if algo == "" {
		algo = HashSHA256
	}

	// Build shp map with "Shp_" prefixed keys for signature
	shpForSig := make(map[string]string)
	for k, v := range req.Shp {
		shpKey := k
		if !strings.HasPrefix(strings.ToLower(k), "shp_") {
			shpKey = "Shp_" + k
		}
		shpForSig[shpKey] = v
	}

	base := BuildStartSignatureBase(
		c.config.MerchantLogin,
		outSum,
		strconv.FormatInt(req.InvID, 10),
		c.config.Password1,
		shpForSig,
	)
	signature, err := Sign(base, algo)
	if err != nil {
		return nil, fmt.Errorf("robokassa: failed to sign payment request: %w", err)
	}

	params := url.Values{}
	params.Set("MerchantLogin", c.config.MerchantLogin)
	params.Set("OutSum", outSum)
	params.Set("InvId", strconv.FormatInt(req.InvID, 10))
	params.Set("Description", req.Description)
	params.Set("SignatureValue", signature)
	if c.config.TestMode {
		params.Set("IsTest", "1")
	}
	if req.Email != "" {
		params.Set("Email", req.Email)
	}
	for k, v := range shpForSig {
		params.Set(k, v)
	}

	return &CreatePaymentResponse{
		PaymentURL: paymentBaseURL + "?" + params.Encode(),
		InvID:      req.InvID,
	}, nil
}

// VerifyWebhook validates a parsed ResultURL payload against Password2
func (c *Client) VerifyWebhook(p *WebhookPayload) bool {
	algo := c.config.HashAlgo
	if algo == "" {
		algo = HashSHA256
	}
	return VerifyResultSignatureWithAlgo(p.OutSum, p.InvId, p.SignatureValue, c.config.Password2, p.Shp, algo)
}
