package receipts

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v3"
	"github.com/shopspring/decimal"

	"github.com/impactmarket/server/models"
)

var Logger = log.New(os.Stdout, "[receipts] ", log.LstdFlags)

const DefaultSender = "ImpactMarket <hello@impactmarket.pl>"

// Currencies Stripe charges without a minor unit.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

type Config struct {
	Domain string
	APIKey string
	Sender string

	// Template names a stored Mailgun template. Empty sends the plain text body.
	Template string

	// APIBase overrides the Mailgun endpoint, e.g. "https://api.eu.mailgun.net/v3".
	// It must end in the API version.
	APIBase string
}

// Mailer emails the payer a receipt once a payment completes.
type Mailer struct {
	mg       *mailgun.MailgunImpl
	sender   string
	template string
}

func NewMailer(cfg Config) *Mailer {
	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.APIBase != "" {
		mg.SetAPIBase(cfg.APIBase)
	}

	sender := cfg.Sender
	if sender == "" {
		sender = DefaultSender
	}

	return &Mailer{mg: mg, sender: sender, template: cfg.Template}
}

func (m *Mailer) PaymentCompleted(ctx context.Context, payment models.Payment) error {
	if payment.PayerEmail == nil || *payment.PayerEmail == "" {
		return nil
	}

	amount := FormatAmount(payment.Amount, payment.Currency)
	subject := "Thank you for your support!"

	greeting := "Hey there!"
	if payment.PayerName != nil && *payment.PayerName != "" {
		greeting = fmt.Sprintf("Hey %s!", *payment.PayerName)
	}
	body := fmt.Sprintf("%s\n\nWe received your payment of %s.\nPayment reference: %s\n\nThank you,\nTeam ImpactMarket\n",
		greeting, amount, payment.ID)

	message := m.mg.NewMessage(m.sender, subject, body, *payment.PayerEmail)
	if m.template != "" {
		message.SetTemplate(m.template)
		if err := message.AddTemplateVariable("amount", amount); err != nil {
			return err
		}
		if err := message.AddTemplateVariable("payment_id", payment.ID); err != nil {
			return err
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	_, id, err := m.mg.Send(sendCtx, message)
	if err != nil {
		return fmt.Errorf("send receipt for %s: %w", payment.ID, err)
	}

	Logger.Printf("queued receipt %s for payment %s", id, payment.ID)
	return nil
}

// FormatAmount renders minor units as a major-unit amount, e.g. 5000 PLN as "50.00 PLN"
// and 5000 JPY as "5000 JPY".
func FormatAmount(amount int64, currency string) string {
	code := strings.ToUpper(currency)
	var exp int32 = 2
	if zeroDecimal[code] {
		exp = 0
	}
	return decimal.New(amount, -exp).StringFixed(exp) + " " + code
}
