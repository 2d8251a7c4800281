package robokassa

import (
	"net/url"
	"strconv"
	"testing"
)

func testClient() *Client {
	return NewClient(Config{
		MerchantLogin: "demo",
		Password1:     "pass1",
		Password2:     "pass2",
		TestMode:      true,
		HashAlgo:      HashSHA256,
	})
}

func TestCreatePaymentURL(t *testing.T) {
	c := testClient()

	resp, err := c.CreatePayment(CreatePaymentRequest{
		Amount:      490,
		InvID:       1001,
		Description: "credit pack",
		Email:       "user@example.com",
		Shp:         map[string]string{"order": "ORD-1"},
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	u, err := url.Parse(resp.PaymentURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()

	if q.Get("MerchantLogin") != "demo" {
		t.Errorf("MerchantLogin = %q", q.Get("MerchantLogin"))
	}
	if q.Get("OutSum") != "490.00" {
		t.Errorf("OutSum = %q", q.Get("OutSum"))
	}
	if q.Get("InvId") != "1001" {
		t.Errorf("InvId = %q", q.Get("InvId"))
	}
	if q.Get("IsTest") != "1" {
		t.Errorf("IsTest = %q", q.Get("IsTest"))
	}
	if q.Get("Shp_order") != "ORD-1" {
		t.Errorf("Shp_order = %q", q.Get("Shp_order"))
	}

	// The signature embedded in the URL must verify against the same base.
	base := BuildStartSignatureBase("demo", "490.00", "1001", "pass1", map[string]string{"Shp_order": "ORD-1"})
	want, _ := Sign(base, HashSHA256)
	if q.Get("SignatureValue") != want {
		t.Errorf("SignatureValue = %q, want %q", q.Get("SignatureValue"), want)
	}
}

func TestCreatePaymentValidation(t *testing.T) {
	c := testClient()

	if _, err := c.CreatePayment(CreatePaymentRequest{Amount: 0, InvID: 1}); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := c.CreatePayment(CreatePaymentRequest{Amount: 10, InvID: 0}); err == nil {
		t.Error("expected error for zero invoice id")
	}

	empty := NewClient(Config{})
	if _, err := empty.CreatePayment(CreatePaymentRequest{Amount: 10, InvID: 1}); err == nil {
		t.Error("expected error for missing merchant config")
	}
}

func TestVerifyWebhookRoundTrip(t *testing.T) {
	c := testClient()

	invID := int64(2002)
	outSum := "990.00"
	shp := map[string]string{"Shp_order": "ORD-2"}
	base := BuildResultSignatureBase(outSum, strconv.FormatInt(invID, 10), "pass2", shp)
	sig, _ := Sign(base, HashSHA256)

	payload := &WebhookPayload{OutSum: outSum, InvId: invID, SignatureValue: sig, Shp: shp}
	if !c.VerifyWebhook(payload) {
		t.Fatal("valid webhook rejected")
	}

	payload.OutSum = "991.00"
	if c.VerifyWebhook(payload) {
		t.Fatal("tampered webhook accepted")
	}
}
