package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/studyhubng/StudyHub/app/models"
	"github.com/studyhubng/StudyHub/internal/pkg/mail"
)

// Notifier receives lifecycle events that warrant telling the user. All
// delivery is best effort; billing state never depends on it.
type Notifier interface {
	PaymentFailed(user *models.User, sub *models.Subscription, graceUntil time.Time)
	SubscriptionExpired(user *models.User, sub *models.Subscription)
}

type mailNotifier struct{}

// NewMailNotifier returns a Notifier that emails the user via SMTP.
func NewMailNotifier() Notifier {
	return mailNotifier{}
}

func (mailNotifier) PaymentFailed(user *models.User, sub *models.Subscription, graceUntil time.Time) {
	subject := "StudyHub: your subscription payment failed"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>We could not renew your <strong>%s</strong> subscription. "+
			"Please update your payment method before <strong>%s</strong> to keep access. "+
			"After that your plan drops back to the free tier.</p>",
		user.Name, sub.PlanID, graceUntil.UTC().Format("January 2, 2006"),
	)
	if err := mail.SendMail(user.Email, subject, body); err != nil {
		log.Warnf("[Billing] payment-failed notice to %s not sent: %v", user.Email, err)
	}
}

func (mailNotifier) SubscriptionExpired(user *models.User, sub *models.Subscription) {
	subject := "StudyHub: your subscription has ended"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your <strong>%s</strong> subscription has ended and your account "+
			"is back on the free plan. You can resubscribe anytime from the pricing page.</p>",
		user.Name, sub.PlanID,
	)
	if err := mail.SendMail(user.Email, subject, body); err != nil {
		log.Warnf("[Billing] expiry notice to %s not sent: %v", user.Email, err)
	}
}

func (s *Service) notifyPaymentFailed(ctx context.Context, sub *models.Subscription, graceUntil time.Time) {
	if s.notifier == nil {
		return
	}
	user, err := s.repo.GetUser(ctx, sub.UserID)
	if err != nil || user == nil || user.Email == "" {
		return
	}
	s.notifier.PaymentFailed(user, sub, graceUntil)
}

func (s *Service) notifyExpired(ctx context.Context, sub *models.Subscription) {
	if s.notifier == nil {
		return
	}
	user, err := s.repo.GetUser(ctx, sub.UserID)
	if err != nil || user == nil || user.Email == "" {
		return
	}
	s.notifier.SubscriptionExpired(user, sub)
}
