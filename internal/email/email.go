package email

import (
	"context"
	"fmt"

	"github.com/ticketon/ticketon/internal/kafka"
)

type Sender struct{}

func NewSender() *Sender {
	return &Sender{}
}

func (s *Sender) Send(ctx context.Context, event kafka.PurchaseEvent) error {
	fmt.Printf("send email to buyer %s about %s for transaction %s (%s %s)\n",
		event.BuyerUserID, event.Type, event.TransactionID, event.TotalValue, event.Currency)
	return nil
}
